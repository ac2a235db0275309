package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"gardenchain/core/types"
)

const (
	TypeStrategyProposed  = "strategy.proposed"
	TypeStrategyResolved  = "strategy.votingResolved"
	TypeStrategyExecuted  = "strategy.executed"
	TypeStrategyUnwound   = "strategy.unwound"
	TypeStrategyFinalized = "strategy.finalized"
	TypeStrategyExpired   = "strategy.expired"
	TypeStrategyTrade     = "strategy.trade"
	TypeKeeperPaid        = "strategy.keeperPaid"
	TypeRewardsClaimed    = "garden.rewardsClaimed"
)

// StrategyProposed is emitted when a strategist's proposal is admitted.
type StrategyProposed struct {
	Strategy   common.Address
	Garden     common.Address
	Strategist common.Address
	Stake      *big.Int
	MaxCapital *big.Int
	Duration   uint64
	Operations int
	EnteredAt  int64
}

// EventType satisfies the Event interface.
func (StrategyProposed) EventType() string { return TypeStrategyProposed }

// Event renders the attribute map consumed by indexers.
func (e StrategyProposed) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyProposed,
		Attributes: map[string]string{
			"strategy":   e.Strategy.Hex(),
			"garden":     e.Garden.Hex(),
			"strategist": e.Strategist.Hex(),
			"stake":      formatAmount(e.Stake),
			"maxCapital": formatAmount(e.MaxCapital),
			"duration":   strconv.FormatUint(e.Duration, 10),
			"operations": strconv.Itoa(e.Operations),
			"enteredAt":  intToString(e.EnteredAt),
		},
	}
}

// StrategyVotingResolved records the keeper-submitted vote tally.
type StrategyVotingResolved struct {
	Strategy      common.Address
	Keeper        common.Address
	Voters        int
	AbsoluteTotal *big.Int
	NetTotal      *big.Int
	KeeperFee     *big.Int
	ResolvedAt    int64
}

// EventType satisfies the Event interface.
func (StrategyVotingResolved) EventType() string { return TypeStrategyResolved }

// Event renders the attribute map consumed by indexers.
func (e StrategyVotingResolved) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyResolved,
		Attributes: map[string]string{
			"strategy":      e.Strategy.Hex(),
			"keeper":        e.Keeper.Hex(),
			"voters":        strconv.Itoa(e.Voters),
			"absoluteTotal": formatAmount(e.AbsoluteTotal),
			"netTotal":      formatAmount(e.NetTotal),
			"keeperFee":     formatAmount(e.KeeperFee),
			"resolvedAt":    intToString(e.ResolvedAt),
		},
	}
}

// StrategyExecuted is emitted for the first execution and every top-up.
type StrategyExecuted struct {
	Strategy         common.Address
	Keeper           common.Address
	Capital          *big.Int
	CapitalAllocated *big.Int
	Fee              *big.Int
	ExecutedAt       int64
	TopUp            bool
}

// EventType satisfies the Event interface.
func (StrategyExecuted) EventType() string { return TypeStrategyExecuted }

// Event renders the attribute map consumed by indexers.
func (e StrategyExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyExecuted,
		Attributes: map[string]string{
			"strategy":         e.Strategy.Hex(),
			"keeper":           e.Keeper.Hex(),
			"capital":          formatAmount(e.Capital),
			"capitalAllocated": formatAmount(e.CapitalAllocated),
			"fee":              formatAmount(e.Fee),
			"executedAt":       intToString(e.ExecutedAt),
			"topUp":            strconv.FormatBool(e.TopUp),
		},
	}
}

// StrategyUnwound captures a partial early exit.
type StrategyUnwound struct {
	Strategy  common.Address
	Caller    common.Address
	Requested *big.Int
	Recovered *big.Int
	NAV       *big.Int
}

// EventType satisfies the Event interface.
func (StrategyUnwound) EventType() string { return TypeStrategyUnwound }

// Event renders the attribute map consumed by indexers.
func (e StrategyUnwound) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyUnwound,
		Attributes: map[string]string{
			"strategy":  e.Strategy.Hex(),
			"caller":    e.Caller.Hex(),
			"requested": formatAmount(e.Requested),
			"recovered": formatAmount(e.Recovered),
			"nav":       formatAmount(e.NAV),
		},
	}
}

// StrategyFinalized summarises the settlement of a strategy.
type StrategyFinalized struct {
	Strategy         common.Address
	Keeper           common.Address
	CapitalAllocated *big.Int
	CapitalReturned  *big.Int
	ReserveDelta     *big.Int
	StakeSlashed     *big.Int
	Rewards          *big.Int
	ExitedAt         int64
}

// EventType satisfies the Event interface.
func (StrategyFinalized) EventType() string { return TypeStrategyFinalized }

// Event renders the attribute map consumed by indexers.
func (e StrategyFinalized) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyFinalized,
		Attributes: map[string]string{
			"strategy":         e.Strategy.Hex(),
			"keeper":           e.Keeper.Hex(),
			"capitalAllocated": formatAmount(e.CapitalAllocated),
			"capitalReturned":  formatAmount(e.CapitalReturned),
			"reserveDelta":     formatAmount(e.ReserveDelta),
			"stakeSlashed":     formatAmount(e.StakeSlashed),
			"rewards":          formatAmount(e.Rewards),
			"exitedAt":         intToString(e.ExitedAt),
		},
	}
}

// StrategyExpired marks a candidate that never reached execution.
type StrategyExpired struct {
	Strategy  common.Address
	Caller    common.Address
	ExpiredAt int64
}

// EventType satisfies the Event interface.
func (StrategyExpired) EventType() string { return TypeStrategyExpired }

// Event renders the attribute map consumed by indexers.
func (e StrategyExpired) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyExpired,
		Attributes: map[string]string{
			"strategy":  e.Strategy.Hex(),
			"caller":    e.Caller.Hex(),
			"expiredAt": intToString(e.ExpiredAt),
		},
	}
}

// StrategyTrade records an intermediate conversion between two assets.
type StrategyTrade struct {
	Strategy   common.Address
	FromAsset  common.Address
	FromAmount *big.Int
	ToAsset    common.Address
	ToAmount   *big.Int
	Slippage   *big.Int
}

// EventType satisfies the Event interface.
func (StrategyTrade) EventType() string { return TypeStrategyTrade }

// Event renders the attribute map consumed by indexers.
func (e StrategyTrade) Event() *types.Event {
	return &types.Event{
		Type: TypeStrategyTrade,
		Attributes: map[string]string{
			"strategy":   e.Strategy.Hex(),
			"fromAsset":  e.FromAsset.Hex(),
			"fromAmount": formatAmount(e.FromAmount),
			"toAsset":    e.ToAsset.Hex(),
			"toAmount":   formatAmount(e.ToAmount),
			"slippage":   formatAmount(e.Slippage),
		},
	}
}

// KeeperPaid records a keeper fee settlement (or the debt accrued instead).
type KeeperPaid struct {
	Garden common.Address
	Keeper common.Address
	Fee    *big.Int
	Debt   *big.Int
}

// EventType satisfies the Event interface.
func (KeeperPaid) EventType() string { return TypeKeeperPaid }

// Event renders the attribute map consumed by indexers.
func (e KeeperPaid) Event() *types.Event {
	return &types.Event{
		Type: TypeKeeperPaid,
		Attributes: map[string]string{
			"garden": e.Garden.Hex(),
			"keeper": e.Keeper.Hex(),
			"fee":    formatAmount(e.Fee),
			"debt":   formatAmount(e.Debt),
		},
	}
}

// RewardsClaimed records a contributor claiming settled strategy rewards.
type RewardsClaimed struct {
	Garden  common.Address
	Account common.Address
	Amount  *big.Int
}

// EventType satisfies the Event interface.
func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

// Event renders the attribute map consumed by indexers.
func (e RewardsClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsClaimed,
		Attributes: map[string]string{
			"garden":  e.Garden.Hex(),
			"account": e.Account.Hex(),
			"amount":  formatAmount(e.Amount),
		},
	}
}
