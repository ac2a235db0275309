// Package operations executes the typed steps of a strategy plan against
// whitelisted integrations. Each kind implements the same validate, execute,
// exit and NAV capability and the Executor dispatches through a table.
package operations

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/native/controller"
)

// Status describes how a position is held.
type Status uint8

const (
	StatusLiquid Status = iota
	StatusCollateral
	StatusInvested
)

func (s Status) String() string {
	switch s {
	case StatusLiquid:
		return "liquid"
	case StatusCollateral:
		return "collateral"
	case StatusInvested:
		return "invested"
	default:
		return "unknown"
	}
}

// Position is the asset, amount and status an operation hands to the next.
type Position struct {
	Asset  common.Address
	Amount *big.Int
	Status Status
}

// Step is one entry of a strategy's operation plan.
type Step struct {
	Kind        controller.Kind
	Integration common.Address
	Data        []byte
}

// TradeRecorder receives every intermediate conversion an operation performs.
type TradeRecorder interface {
	ReconcileTrade(from common.Address, fromAmount *big.Int, to common.Address, toAmount *big.Int)
}

// LendIntegration is a money market accepting supply in exchange for shares.
type LendIntegration interface {
	Address() common.Address
	SupportsAsset(asset common.Address) bool
	ShareToken(asset common.Address) (common.Address, error)
	Supply(holder, asset common.Address, amount *big.Int) (*big.Int, error)
	Redeem(holder, asset common.Address, shares *big.Int) (*big.Int, error)
	UnderlyingValue(asset common.Address, shares *big.Int) (*big.Int, error)
}

// TradeIntegration swaps between assets.
type TradeIntegration interface {
	Address() common.Address
	SupportsPair(from, to common.Address) bool
	Swap(holder, from, to common.Address, amountIn, minOut *big.Int) (*big.Int, error)
}

// PoolIntegration hosts two-token liquidity pools keyed by pool identifier.
type PoolIntegration interface {
	Address() common.Address
	PoolTokens(id common.Address) ([2]common.Address, common.Address, bool)
	Join(holder, id common.Address, amounts [2]*big.Int) (*big.Int, error)
	Exit(holder, id common.Address, lp *big.Int) ([2]*big.Int, error)
	Underlying(id common.Address, lp *big.Int) ([2]*big.Int, error)
}

// PassiveIntegration hosts yield vaults keyed by vault identifier.
type PassiveIntegration interface {
	Address() common.Address
	VaultTokens(id common.Address) (common.Address, common.Address, bool)
	Deposit(holder, id common.Address, amount *big.Int) (*big.Int, error)
	Withdraw(holder, id common.Address, shares *big.Int) (*big.Int, error)
	PreviewWithdraw(id common.Address, shares *big.Int) (*big.Int, error)
}
