package operations

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/native/controller"
)

// Passive deposits capital into a yield vault and holds its shares.
type Passive struct{}

func (Passive) Kind() controller.Kind { return controller.KindPassiveInvestment }

type vaultTarget struct {
	integration PassiveIntegration
	params      Params
	underlying  common.Address
	shareToken  common.Address
}

func (op Passive) resolve(env *Env, data []byte, integration common.Address) (vaultTarget, error) {
	if err := whitelisted(env, op.Kind(), integration); err != nil {
		return vaultTarget{}, err
	}
	manager, ok := env.Directory.Passive(integration)
	if !ok {
		return vaultTarget{}, fmt.Errorf("%w: %s is not a vault integration", strategyerrors.ErrIntegrationNotAllowed, integration.Hex())
	}
	p, err := DecodeParams(data)
	if err != nil {
		return vaultTarget{}, err
	}
	underlying, share, ok := manager.VaultTokens(p.Target)
	if !ok {
		return vaultTarget{}, fmt.Errorf("%w: unknown vault %s", strategyerrors.ErrInvalidOperation, p.Target.Hex())
	}
	return vaultTarget{integration: manager, params: p, underlying: underlying, shareToken: share}, nil
}

func (op Passive) Validate(env *Env, data []byte, integration common.Address) error {
	_, err := op.resolve(env, data, integration)
	return err
}

func (op Passive) Execute(env *Env, in Position, data []byte, integration common.Address) (Position, error) {
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
	amount := in.Amount
	if in.Asset != target.underlying {
		trader, err := env.defaultTrader()
		if err != nil {
			return Position{}, err
		}
		if amount, err = env.convert(trader, in.Asset, target.underlying, in.Amount, slippage); err != nil {
			return Position{}, err
		}
	}
	shares, err := target.integration.Deposit(env.Strategy, target.params.Target, amount)
	if err != nil {
		return Position{}, fmt.Errorf("vault deposit: %w", err)
	}
	valueOut, err := op.value(env, target, shares)
	if err != nil {
		return Position{}, err
	}
	if err := checkSlippage(valueIn, valueOut, slippage); err != nil {
		return Position{}, err
	}
	return Position{Asset: target.shareToken, Amount: shares, Status: StatusInvested}, nil
}

func (op Passive) Exit(env *Env, pct *big.Int, data []byte, integration common.Address) error {
	target, err := op.resolve(env, data, integration)
	if err != nil {
		return err
	}
	shares := portion(env.Book.BalanceOf(target.shareToken, env.Strategy), pct)
	if shares.Sign() == 0 {
		return nil
	}
	amount, err := target.integration.Withdraw(env.Strategy, target.params.Target, shares)
	if err != nil {
		return fmt.Errorf("vault withdraw: %w", err)
	}
	if target.underlying == env.Reserve {
		return nil
	}
	trader, err := env.defaultTrader()
	if err != nil {
		return err
	}
	_, err = env.convert(trader, target.underlying, env.Reserve, amount, env.slippage(op.Kind(), target.params))
	return err
}

func (op Passive) NAV(env *Env, data []byte, integration common.Address) (*big.Int, error) {
	target, err := op.resolve(env, data, integration)
	if err != nil {
		return nil, err
	}
	return op.value(env, target, env.Book.BalanceOf(target.shareToken, env.Strategy))
}

func (op Passive) value(env *Env, target vaultTarget, shares *big.Int) (*big.Int, error) {
	if shares.Sign() == 0 {
		return new(big.Int), nil
	}
	underlying, err := target.integration.PreviewWithdraw(target.params.Target, shares)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", strategyerrors.ErrNavComputationFailed, err)
	}
	return env.value(target.underlying, underlying)
}
