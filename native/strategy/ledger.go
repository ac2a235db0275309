package strategy

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/events"
	"gardenchain/core/precise"
	"gardenchain/native/oracle"
)

// LedgerSink receives trade records once the call producing them commits.
type LedgerSink interface {
	RecordTrade(strategy common.Address, trade TradeRecord)
}

// CapitalLedger is the accounting read model of one strategy. It never holds
// funds: capital always sits in the strategy's own balance and the ledger
// records how it moved.
type CapitalLedger struct {
	strategy *Strategy
	reserve  common.Address
	pricer   oracle.PriceOracle
	call     *call
	now      time.Time
}

func newLedger(s *Strategy, reserve common.Address, pricer oracle.PriceOracle, c *call, now time.Time) *CapitalLedger {
	return &CapitalLedger{strategy: s, reserve: reserve, pricer: pricer, call: c, now: now}
}

// RecordAllocation adds amount to the allocated capital, refusing to exceed
// the strategy's requested maximum.
func (l *CapitalLedger) RecordAllocation(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return strategyerrors.ErrInvalidAmount
	}
	next := new(big.Int).Add(l.strategy.CapitalAllocated, amount)
	if next.Cmp(l.strategy.MaxCapitalRequested) > 0 {
		return fmt.Errorf("allocated %s above requested %s: %w", next, l.strategy.MaxCapitalRequested, strategyerrors.ErrMaxDepositExceeded)
	}
	l.strategy.CapitalAllocated = next
	return nil
}

// RecordUnwind lowers the allocated capital after an early partial exit.
func (l *CapitalLedger) RecordUnwind(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return strategyerrors.ErrInvalidAmount
	}
	if amount.Cmp(l.strategy.CapitalAllocated) > 0 {
		return strategyerrors.ErrInsufficientCapitalToUnwind
	}
	l.strategy.CapitalAllocated = new(big.Int).Sub(l.strategy.CapitalAllocated, amount)
	l.strategy.CapitalUnwound = new(big.Int).Add(l.strategy.CapitalUnwound, amount)
	return nil
}

// RecordReturn sets the capital recovered at finalization.
func (l *CapitalLedger) RecordReturn(amount *big.Int) {
	l.strategy.CapitalReturned = cloneBig(amount)
}

// Outstanding returns the capital currently allocated.
func (l *CapitalLedger) Outstanding() *big.Int {
	return cloneBig(l.strategy.CapitalAllocated)
}

// Slippage sums the reserve-denominated slippage of every recorded trade.
func (l *CapitalLedger) Slippage() *big.Int {
	total := new(big.Int)
	for _, tr := range l.strategy.Trades {
		if tr.Slippage != nil {
			total.Add(total, tr.Slippage)
		}
	}
	return total
}

// ReconcileTrade records an intermediate conversion. Slippage is measured in
// the reserve asset when both sides can be priced and left at zero otherwise.
func (l *CapitalLedger) ReconcileTrade(from common.Address, fromAmount *big.Int, to common.Address, toAmount *big.Int) {
	record := TradeRecord{
		FromAsset:  from,
		FromAmount: cloneBig(fromAmount),
		ToAsset:    to,
		ToAmount:   cloneBig(toAmount),
		Slippage:   new(big.Int),
		At:         l.now,
	}
	inValue, okIn := l.value(from, fromAmount)
	outValue, okOut := l.value(to, toAmount)
	if okIn && okOut {
		record.Slippage = inValue.Sub(inValue, outValue)
	}
	l.strategy.Trades = append(l.strategy.Trades, record)
	if l.call != nil {
		l.call.trades = append(l.call.trades, tradeNote{strategy: l.strategy.Address, record: record})
		l.call.emit(events.StrategyTrade{
			Strategy:   l.strategy.Address,
			FromAsset:  from,
			FromAmount: cloneBig(fromAmount),
			ToAsset:    to,
			ToAmount:   cloneBig(toAmount),
			Slippage:   cloneBig(record.Slippage),
		})
	}
}

func (l *CapitalLedger) value(asset common.Address, amount *big.Int) (*big.Int, bool) {
	if asset == l.reserve {
		return cloneBig(amount), true
	}
	if l.pricer == nil {
		return nil, false
	}
	price, err := l.pricer.GetPrice(asset, l.reserve)
	if err != nil {
		return nil, false
	}
	return precise.Mul(amount, price), true
}
