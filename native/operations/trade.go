package operations

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/native/controller"
)

// Trade swaps the incoming capital into a target asset and holds it liquid.
type Trade struct{}

func (Trade) Kind() controller.Kind { return controller.KindTrade }

func (op Trade) resolve(env *Env, data []byte, integration common.Address) (TradeIntegration, Params, error) {
	if err := whitelisted(env, op.Kind(), integration); err != nil {
		return nil, Params{}, err
	}
	router, ok := env.Directory.Trade(integration)
	if !ok {
		return nil, Params{}, fmt.Errorf("%w: %s is not a trade integration", strategyerrors.ErrIntegrationNotAllowed, integration.Hex())
	}
	p, err := DecodeParams(data)
	if err != nil {
		return nil, Params{}, err
	}
	if p.Target == env.Reserve {
		return nil, Params{}, fmt.Errorf("%w: trade target is the reserve asset", strategyerrors.ErrInvalidOperation)
	}
	return router, p, nil
}

func (op Trade) Validate(env *Env, data []byte, integration common.Address) error {
	router, p, err := op.resolve(env, data, integration)
	if err != nil {
		return err
	}
	if !router.SupportsPair(env.Reserve, p.Target) {
		return fmt.Errorf("%w: no route from reserve to %s", strategyerrors.ErrInvalidOperation, p.Target.Hex())
	}
	return nil
}

func (op Trade) Execute(env *Env, in Position, data []byte, integration common.Address) (Position, error) {
	router, p, err := op.resolve(env, data, integration)
	if err != nil {
		return Position{}, err
	}
	if err := requireLiquid(in); err != nil {
		return Position{}, err
	}
	out, err := env.convert(router, in.Asset, p.Target, in.Amount, env.slippage(op.Kind(), p))
	if err != nil {
		return Position{}, err
	}
	return Position{Asset: p.Target, Amount: out, Status: StatusLiquid}, nil
}

func (op Trade) Exit(env *Env, pct *big.Int, data []byte, integration common.Address) error {
	router, p, err := op.resolve(env, data, integration)
	if err != nil {
		return err
	}
	amount := portion(env.Book.BalanceOf(p.Target, env.Strategy), pct)
	if amount.Sign() == 0 {
		return nil
	}
	_, err = env.convert(router, p.Target, env.Reserve, amount, env.slippage(op.Kind(), p))
	return err
}

// NAV marks the live target balance; a non-zero balance never values to zero.
func (op Trade) NAV(env *Env, data []byte, integration common.Address) (*big.Int, error) {
	_, p, err := op.resolve(env, data, integration)
	if err != nil {
		return nil, err
	}
	return env.value(p.Target, env.Book.BalanceOf(p.Target, env.Strategy))
}
