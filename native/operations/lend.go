package operations

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/native/controller"
)

// Lend supplies capital to a money market and holds the market's share token
// as collateral.
type Lend struct{}

func (Lend) Kind() controller.Kind { return controller.KindLend }

func (op Lend) resolve(env *Env, data []byte, integration common.Address) (LendIntegration, Params, error) {
	if err := whitelisted(env, op.Kind(), integration); err != nil {
		return nil, Params{}, err
	}
	market, ok := env.Directory.Lend(integration)
	if !ok {
		return nil, Params{}, fmt.Errorf("%w: %s is not a lending market", strategyerrors.ErrIntegrationNotAllowed, integration.Hex())
	}
	p, err := DecodeParams(data)
	if err != nil {
		return nil, Params{}, err
	}
	if !market.SupportsAsset(p.Target) {
		return nil, Params{}, fmt.Errorf("%w: market does not list %s", strategyerrors.ErrInvalidOperation, p.Target.Hex())
	}
	return market, p, nil
}

func (op Lend) Validate(env *Env, data []byte, integration common.Address) error {
	_, _, err := op.resolve(env, data, integration)
	return err
}

func (op Lend) Execute(env *Env, in Position, data []byte, integration common.Address) (Position, error) {
	market, p, err := op.resolve(env, data, integration)
	if err != nil {
		return Position{}, err
	}
	if err := requireLiquid(in); err != nil {
		return Position{}, err
	}
	slippage := env.slippage(op.Kind(), p)
	valueIn, err := env.value(in.Asset, in.Amount)
	if err != nil {
		return Position{}, err
	}
	amount := in.Amount
	if in.Asset != p.Target {
		trader, err := env.defaultTrader()
		if err != nil {
			return Position{}, err
		}
		if amount, err = env.convert(trader, in.Asset, p.Target, in.Amount, slippage); err != nil {
			return Position{}, err
		}
	}
	shares, err := market.Supply(env.Strategy, p.Target, amount)
	if err != nil {
		return Position{}, fmt.Errorf("lend supply: %w", err)
	}
	underlying, err := market.UnderlyingValue(p.Target, shares)
	if err != nil {
		return Position{}, fmt.Errorf("lend supply: %w", err)
	}
	valueOut, err := env.value(p.Target, underlying)
	if err != nil {
		return Position{}, err
	}
	if err := checkSlippage(valueIn, valueOut, slippage); err != nil {
		return Position{}, err
	}
	shareToken, err := market.ShareToken(p.Target)
	if err != nil {
		return Position{}, err
	}
	return Position{Asset: shareToken, Amount: shares, Status: StatusCollateral}, nil
}

func (op Lend) Exit(env *Env, pct *big.Int, data []byte, integration common.Address) error {
	market, p, err := op.resolve(env, data, integration)
	if err != nil {
		return err
	}
	shareToken, err := market.ShareToken(p.Target)
	if err != nil {
		return err
	}
	shares := portion(env.Book.BalanceOf(shareToken, env.Strategy), pct)
	if shares.Sign() == 0 {
		return nil
	}
	amount, err := market.Redeem(env.Strategy, p.Target, shares)
	if err != nil {
		return fmt.Errorf("lend redeem: %w", err)
	}
	if p.Target == env.Reserve {
		return nil
	}
	trader, err := env.defaultTrader()
	if err != nil {
		return err
	}
	_, err = env.convert(trader, p.Target, env.Reserve, amount, env.slippage(op.Kind(), p))
	return err
}

// NAV is zero until the strategy is active.
func (op Lend) NAV(env *Env, data []byte, integration common.Address) (*big.Int, error) {
	if !env.Active {
		return new(big.Int), nil
	}
	market, p, err := op.resolve(env, data, integration)
	if err != nil {
		return nil, err
	}
	shareToken, err := market.ShareToken(p.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", strategyerrors.ErrNavComputationFailed, err)
	}
	shares := env.Book.BalanceOf(shareToken, env.Strategy)
	if shares.Sign() == 0 {
		return new(big.Int), nil
	}
	underlying, err := market.UnderlyingValue(p.Target, shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", strategyerrors.ErrNavComputationFailed, err)
	}
	return env.value(p.Target, underlying)
}
