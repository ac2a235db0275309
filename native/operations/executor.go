package operations

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/precise"
	"gardenchain/native/controller"
)

// Operation is the capability every operation kind implements.
type Operation interface {
	Kind() controller.Kind
	// Validate checks a step without side effects.
	Validate(env *Env, data []byte, integration common.Address) error
	// Execute enters the integration with the incoming position and returns
	// the position now held.
	Execute(env *Env, in Position, data []byte, integration common.Address) (Position, error)
	// Exit redeems pct (1e18 == 100%) of the live position back into the
	// reserve asset held by the strategy.
	Exit(env *Env, pct *big.Int, data []byte, integration common.Address) error
	// NAV marks the live position to the reserve asset.
	NAV(env *Env, data []byte, integration common.Address) (*big.Int, error)
}

// Executor dispatches plan steps to the operation registered for their kind.
type Executor struct {
	ops map[controller.Kind]Operation
}

// NewExecutor returns an executor serving every built-in kind.
func NewExecutor() *Executor {
	e := &Executor{ops: make(map[controller.Kind]Operation)}
	e.Register(Lend{})
	e.Register(Trade{})
	e.Register(Pool{})
	e.Register(Passive{})
	return e
}

// Register installs or replaces the operation for its kind.
func (e *Executor) Register(op Operation) {
	e.ops[op.Kind()] = op
}

func (e *Executor) lookup(kind controller.Kind) (Operation, error) {
	op, ok := e.ops[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported kind %s", strategyerrors.ErrInvalidOperation, kind)
	}
	return op, nil
}

// ValidatePlan validates every step and the chaining between them: only a
// trade hands liquid capital to the next step, and no two trades may hold the
// same asset.
func (e *Executor) ValidatePlan(env *Env, steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: empty operation plan", strategyerrors.ErrInvalidOperation)
	}
	held := make(map[common.Address]int)
	for i, step := range steps {
		op, err := e.lookup(step.Kind)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		if err := op.Validate(env, step.Data, step.Integration); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		if i > 0 && steps[i-1].Kind != controller.KindTrade {
			return fmt.Errorf("operation %d: %w: previous %s step leaves no liquid capital", i, strategyerrors.ErrInvalidOperation, steps[i-1].Kind)
		}
		if step.Kind == controller.KindTrade {
			p, _ := DecodeParams(step.Data)
			if prev, dup := held[p.Target]; dup {
				return fmt.Errorf("operation %d: %w: asset %s already held by operation %d", i, strategyerrors.ErrInvalidOperation, p.Target.Hex(), prev)
			}
			held[p.Target] = i
		}
	}
	return nil
}

// ExecutePlan runs the steps in order, feeding each output into the next
// step, and returns the position produced by every step.
func (e *Executor) ExecutePlan(env *Env, steps []Step, in Position) ([]Position, error) {
	legs := make([]Position, 0, len(steps))
	current := in
	for i, step := range steps {
		op, err := e.lookup(step.Kind)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		out, err := op.Execute(env, current, step.Data, step.Integration)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, step.Kind, err)
		}
		legs = append(legs, out)
		current = out
	}
	return legs, nil
}

// ExitPlan exits pct of every step in reverse order and returns the reserve
// asset the strategy gained in the process.
func (e *Executor) ExitPlan(env *Env, steps []Step, pct *big.Int) (*big.Int, error) {
	before := env.Book.BalanceOf(env.Reserve, env.Strategy)
	for i := len(steps) - 1; i >= 0; i-- {
		op, err := e.lookup(steps[i].Kind)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		if err := op.Exit(env, pct, steps[i].Data, steps[i].Integration); err != nil {
			return nil, fmt.Errorf("exit operation %d (%s): %w", i, steps[i].Kind, err)
		}
	}
	after := env.Book.BalanceOf(env.Reserve, env.Strategy)
	return after.Sub(after, before), nil
}

// NAV sums the independent valuation of every step.
func (e *Executor) NAV(env *Env, steps []Step) (*big.Int, error) {
	total := new(big.Int)
	for i, step := range steps {
		op, err := e.lookup(step.Kind)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		v, err := op.NAV(env, step.Data, step.Integration)
		if err != nil {
			return nil, fmt.Errorf("nav operation %d (%s): %w", i, step.Kind, err)
		}
		total.Add(total, v)
	}
	return total, nil
}

// Sweep converts residual non-reserve balances left after a full exit into
// the reserve asset through the default trade route. Only balances worth
// nothing at the oracle price are left in place; any other residual that
// cannot be converted fails the sweep so the whole finalization reverts.
func (e *Executor) Sweep(env *Env) error {
	slippage := env.Snapshot.Slippage(controller.KindTrade)
	var trader TradeIntegration
	for _, token := range env.Book.Holdings(env.Strategy) {
		if token == env.Reserve {
			continue
		}
		amount := env.Book.BalanceOf(token, env.Strategy)
		if env.Oracle == nil {
			return fmt.Errorf("sweep %s: %w: no price oracle", token.Hex(), strategyerrors.ErrNavComputationFailed)
		}
		price, err := env.Oracle.GetPrice(token, env.Reserve)
		if err != nil {
			return fmt.Errorf("sweep %s: %w: %v", token.Hex(), strategyerrors.ErrNavComputationFailed, err)
		}
		if precise.Mul(amount, price).Sign() == 0 {
			continue
		}
		if trader == nil {
			if trader, err = env.defaultTrader(); err != nil {
				return fmt.Errorf("sweep %s: %w", token.Hex(), err)
			}
		}
		if !trader.SupportsPair(token, env.Reserve) {
			return fmt.Errorf("sweep %s: %w: default route cannot reach the reserve asset", token.Hex(), strategyerrors.ErrInvalidOperation)
		}
		if _, err := env.convert(trader, token, env.Reserve, amount, slippage); err != nil {
			return fmt.Errorf("sweep %s: %w", token.Hex(), err)
		}
	}
	return nil
}
