// Package keeper runs the scheduled sweeps that move strategies through the
// time-gated part of their lifecycle: executing resolved strategies once the
// cooldown passes, finalizing them once their duration elapses and expiring
// candidates nobody executed.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	strategyerrors "gardenchain/core/errors"
	"gardenchain/core/precise"
	nativecommon "gardenchain/native/common"
	"gardenchain/native/controller"
	"gardenchain/native/strategy"
	"gardenchain/observability"
	telemetry "gardenchain/observability/otel"
	"gardenchain/services/strategyd/node"
)

const (
	outcomeOK        = "ok"
	outcomeSkipped   = "skipped"
	outcomeThrottled = "throttled"
)

// Options configures a keeper.
type Options struct {
	Address  common.Address
	Fee      *big.Int
	Quota    nativecommon.Quota
	Schedule string
	Logger   *slog.Logger
}

// Result summarises a single sweep.
type Result struct {
	Executed  []common.Address
	Finalized []common.Address
	Expired   []common.Address
	Failed    map[common.Address]error
}

// Keeper sweeps every strategy of a node on a cron schedule.
type Keeper struct {
	node     *node.Node
	address  common.Address
	fee      *big.Int
	quota    nativecommon.Quota
	schedule string
	logger   *slog.Logger
	metrics  *observability.KeeperMetrics
	tracer   trace.Tracer
	actions  metric.Int64Counter

	sweepMu sync.Mutex
	mu      sync.Mutex
	usage   nativecommon.QuotaNow
}

// New constructs a keeper acting as opts.Address against n.
func New(n *node.Node, opts Options) (*Keeper, error) {
	if n == nil {
		return nil, fmt.Errorf("keeper: node required")
	}
	if opts.Address == (common.Address{}) {
		return nil, fmt.Errorf("keeper: address required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	actions, err := telemetry.Meter().Int64Counter("garden.keeper.actions",
		metric.WithDescription("Keeper actions attempted, by action and outcome."))
	if err != nil {
		return nil, fmt.Errorf("keeper: %w", err)
	}
	return &Keeper{
		node:     n,
		address:  opts.Address,
		fee:      precise.Copy(opts.Fee),
		quota:    opts.Quota,
		schedule: schedule,
		logger:   logger.With("keeper", opts.Address.Hex()),
		metrics:  observability.Keeper(),
		tracer:   telemetry.Tracer(),
		actions:  actions,
		usage:    nativecommon.QuotaNow{FeeUsed: new(big.Int)},
	}, nil
}

// Run sweeps on the configured schedule until ctx is cancelled and waits for
// any running sweep before returning.
func (k *Keeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(k.schedule, func() { k.Sweep(ctx) }); err != nil {
		return fmt.Errorf("keeper: schedule %q: %w", k.schedule, err)
	}
	k.logger.Info("keeper started", "schedule", k.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	k.logger.Info("keeper stopped")
	return nil
}

// Sweep performs one pass over every strategy. Overlapping sweeps are
// skipped.
func (k *Keeper) Sweep(ctx context.Context) Result {
	res := Result{Failed: make(map[common.Address]error)}
	if !k.sweepMu.TryLock() {
		k.record(ctx, "sweep", outcomeSkipped)
		return res
	}
	defer k.sweepMu.Unlock()

	ctx, span := k.tracer.Start(ctx, "keeper.sweep")
	defer span.End()
	start := time.Now()
	defer func() { k.metrics.ObserveSweep("sweep", time.Since(start)) }()

	snap := k.node.Registry.Snapshot()
	if !snap.IsValidKeeper(k.address) {
		k.logger.Warn("keeper not whitelisted, sweep skipped")
		k.record(ctx, "sweep", outcomeSkipped)
		return res
	}
	for _, addr := range k.node.Engine.List() {
		if ctx.Err() != nil {
			break
		}
		s, err := k.node.Engine.GetStrategyDetails(addr)
		if err != nil {
			res.Failed[addr] = err
			continue
		}
		k.visit(ctx, s, snap, &res)
	}
	k.recordGauges()
	span.SetAttributes(
		attribute.Int("executed", len(res.Executed)),
		attribute.Int("finalized", len(res.Finalized)),
		attribute.Int("expired", len(res.Expired)),
		attribute.Int("failed", len(res.Failed)),
	)
	return res
}

func (k *Keeper) visit(ctx context.Context, s *strategy.Strategy, snap controller.Snapshot, res *Result) {
	now := k.node.Now()
	switch s.State() {
	case strategy.StateProposed:
		if !now.Before(s.CandidateDeadline(snap)) {
			k.expire(ctx, s, res)
		}
	case strategy.StateResolved:
		switch {
		case !now.Before(s.CandidateDeadline(snap)):
			k.expire(ctx, s, res)
		case !now.Before(s.ResolvedAt.Add(snap.Cooldown)):
			k.execute(ctx, s, snap, res)
		}
	case strategy.StateActive:
		if !now.Before(s.ExecutedAt.Add(s.Duration)) {
			k.finalize(ctx, s, snap, res)
		}
	}
}

func (k *Keeper) expire(ctx context.Context, s *strategy.Strategy, res *Result) {
	err := k.call(ctx, "expire", s.Address, nil, func() error {
		return k.node.Engine.ExpireCandidateStrategy(k.address, s.Address)
	})
	k.collect(res, &res.Expired, s.Address, err)
}

// execute allocates as much of the remaining requested capital as the
// garden's allocation limit and liquidity allow.
func (k *Keeper) execute(ctx context.Context, s *strategy.Strategy, snap controller.Snapshot, res *Result) {
	g, ok := k.node.Garden(s.Garden)
	if !ok {
		res.Failed[s.Address] = fmt.Errorf("keeper: unknown garden %s", s.Garden.Hex())
		return
	}
	capital := new(big.Int).Sub(s.MaxCapitalRequested, s.CapitalAllocated)
	capital = precise.Min(capital, precise.Mul(s.MaxAllocationPercentage, g.TotalCapital()))
	fee := precise.Min(k.fee, s.KeeperFeeCeiling(snap, capital))
	capital = precise.Min(capital, new(big.Int).Sub(g.LiquidReserve(), fee))
	if capital.Sign() <= 0 {
		k.record(ctx, "execute", outcomeSkipped)
		k.logger.Debug("no capital available", "strategy", s.Address.Hex(), "garden", s.Garden.Hex())
		return
	}
	fee = precise.Min(fee, s.KeeperFeeCeiling(snap, capital))
	err := k.call(ctx, "execute", s.Address, fee, func() error {
		return k.node.Engine.ExecuteStrategy(k.address, s.Address, capital, fee)
	})
	k.collect(res, &res.Executed, s.Address, err)
}

func (k *Keeper) finalize(ctx context.Context, s *strategy.Strategy, snap controller.Snapshot, res *Result) {
	fee := precise.Min(k.fee, s.KeeperFeeCeiling(snap, s.CapitalAllocated))
	err := k.call(ctx, "finalize", s.Address, fee, func() error {
		return k.node.Engine.FinalizeStrategy(k.address, s.Address, fee)
	})
	k.collect(res, &res.Finalized, s.Address, err)
}

func (k *Keeper) collect(res *Result, done *[]common.Address, addr common.Address, err error) {
	switch {
	case err == nil:
		*done = append(*done, addr)
	case errors.Is(err, errThrottled):
	default:
		res.Failed[addr] = err
	}
}

var errThrottled = errors.New("keeper: quota exhausted")

// call runs one engine action under the epoch quota. Usage is only charged
// when the action commits.
func (k *Keeper) call(ctx context.Context, action string, addr common.Address, fee *big.Int, fn func() error) error {
	_, span := k.tracer.Start(ctx, "keeper."+action, trace.WithAttributes(
		attribute.String("strategy", addr.Hex()),
		attribute.String("fee", precise.Copy(fee).String()),
	))
	defer span.End()

	k.mu.Lock()
	next, err := nativecommon.CheckQuota(k.quota, k.quota.Epoch(k.node.Now().Unix()), k.usage, 1, fee)
	k.mu.Unlock()
	if err != nil {
		k.record(ctx, action, outcomeThrottled)
		k.logger.Warn("keeper quota exhausted", "action", action, "strategy", addr.Hex(), "error", err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", errThrottled, err)
	}
	if err := fn(); err != nil {
		class := strategyerrors.Classify(err)
		k.record(ctx, action, class.String())
		level := slog.LevelError
		if class.Retryable() {
			level = slog.LevelWarn
		}
		k.logger.Log(ctx, level, "keeper action failed", "action", action, "strategy", addr.Hex(), "class", class.String(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	k.mu.Lock()
	k.usage = next
	k.mu.Unlock()
	k.record(ctx, action, outcomeOK)
	k.logger.Info("keeper action committed", "action", action, "strategy", addr.Hex(), "fee", precise.Copy(fee).String())
	return nil
}

func (k *Keeper) record(ctx context.Context, action, outcome string) {
	k.metrics.RecordJob(action, outcome)
	k.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// Usage reports the quota counters of the current epoch.
func (k *Keeper) Usage() nativecommon.QuotaNow {
	k.mu.Lock()
	defer k.mu.Unlock()
	return nativecommon.QuotaNow{ReqCount: k.usage.ReqCount, FeeUsed: precise.Copy(k.usage.FeeUsed), EpochID: k.usage.EpochID}
}

func (k *Keeper) recordGauges() {
	for _, g := range k.node.Gardens() {
		k.metrics.RecordLiquidity(g.Address().Hex(), g.LiquidReserve())
	}
	now := k.node.Now()
	for _, asset := range k.node.Protocol.Assets {
		quote, err := k.node.Oracle.Quote(common.HexToAddress(asset.Address))
		if err != nil {
			continue
		}
		k.metrics.RecordFreshness(asset.Symbol, now.Sub(quote.Timestamp))
	}
}
