package operations

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/native/controller"
)

// Pool splits capital across a pool's token pair and provides liquidity.
type Pool struct{}

func (Pool) Kind() controller.Kind { return controller.KindPool }

type poolTarget struct {
	integration PoolIntegration
	params      Params
	tokens      [2]common.Address
	lpToken     common.Address
}

func (op Pool) resolve(env *Env, data []byte, integration common.Address) (poolTarget, error) {
	if err := whitelisted(env, op.Kind(), integration); err != nil {
		return poolTarget{}, err
	}
	manager, ok := env.Directory.Pool(integration)
	if !ok {
		return poolTarget{}, fmt.Errorf("%w: %s is not a pool integration", strategyerrors.ErrIntegrationNotAllowed, integration.Hex())
	}
	p, err := DecodeParams(data)
	if err != nil {
		return poolTarget{}, err
	}
	tokens, lp, ok := manager.PoolTokens(p.Target)
	if !ok {
		return poolTarget{}, fmt.Errorf("%w: unknown pool %s", strategyerrors.ErrInvalidOperation, p.Target.Hex())
	}
	return poolTarget{integration: manager, params: p, tokens: tokens, lpToken: lp}, nil
}

func (op Pool) Validate(env *Env, data []byte, integration common.Address) error {
	_, err := op.resolve(env, data, integration)
	return err
}

func (op Pool) Execute(env *Env, in Position, data []byte, integration common.Address) (Position, error) {
	target, err := op.resolve(env, data, integration)
	if err != nil {
		return Position{}, err
	}
	if err := requireLiquid(in); err != nil {
		return Position{}, err
	}
	slippage := env.slippage(op.Kind(), target.params)
	valueIn, err := env.value(in.Asset, in.Amount)
	if err != nil {
		return Position{}, err
	}
	trader, err := env.defaultTrader()
	if err != nil {
		return Position{}, err
	}
	half := new(big.Int).Rsh(in.Amount, 1)
	split := [2]*big.Int{half, new(big.Int).Sub(in.Amount, half)}
	var amounts [2]*big.Int
	for i, token := range target.tokens {
		if amounts[i], err = env.convert(trader, in.Asset, token, split[i], slippage); err != nil {
			return Position{}, err
		}
	}
	lp, err := target.integration.Join(env.Strategy, target.params.Target, amounts)
	if err != nil {
		return Position{}, fmt.Errorf("pool join: %w", err)
	}
	valueOut, err := op.value(env, target, lp)
	if err != nil {
		return Position{}, err
	}
	if err := checkSlippage(valueIn, valueOut, slippage); err != nil {
		return Position{}, err
	}
	return Position{Asset: target.lpToken, Amount: lp, Status: StatusInvested}, nil
}

func (op Pool) Exit(env *Env, pct *big.Int, data []byte, integration common.Address) error {
	target, err := op.resolve(env, data, integration)
	if err != nil {
		return err
	}
	lp := portion(env.Book.BalanceOf(target.lpToken, env.Strategy), pct)
	if lp.Sign() == 0 {
		return nil
	}
	amounts, err := target.integration.Exit(env.Strategy, target.params.Target, lp)
	if err != nil {
		return fmt.Errorf("pool exit: %w", err)
	}
	slippage := env.slippage(op.Kind(), target.params)
	for i, token := range target.tokens {
		if token == env.Reserve || amounts[i].Sign() == 0 {
			continue
		}
		trader, err := env.defaultTrader()
		if err != nil {
			return err
		}
		if _, err := env.convert(trader, token, env.Reserve, amounts[i], slippage); err != nil {
			return err
		}
	}
	return nil
}

func (op Pool) NAV(env *Env, data []byte, integration common.Address) (*big.Int, error) {
	target, err := op.resolve(env, data, integration)
	if err != nil {
		return nil, err
	}
	return op.value(env, target, env.Book.BalanceOf(target.lpToken, env.Strategy))
}

func (op Pool) value(env *Env, target poolTarget, lp *big.Int) (*big.Int, error) {
	if lp.Sign() == 0 {
		return new(big.Int), nil
	}
	amounts, err := target.integration.Underlying(target.params.Target, lp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", strategyerrors.ErrNavComputationFailed, err)
	}
	total := new(big.Int)
	for i, token := range target.tokens {
		v, err := env.value(token, amounts[i])
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	if total.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool position values to zero", strategyerrors.ErrNavComputationFailed)
	}
	return total, nil
}
