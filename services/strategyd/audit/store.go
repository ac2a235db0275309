// Package audit keeps an append-only SQL trail of committed strategy events
// and trades for operators and indexers.
package audit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"gardenchain/core/events"
	"gardenchain/core/types"
	"gardenchain/native/strategy"
)

// eventRenderer is implemented by events that expose indexer attributes.
type eventRenderer interface {
	Event() *types.Event
}

// Store persists audit records. It satisfies events.Emitter and
// strategy.LedgerSink so the engine can publish into it directly.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the audit database using driver ("sqlite" or "postgres")
// and migrates the schema.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return New(db, logger)
}

// New wraps an existing connection.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Store{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Failures are logged; the transition that
// produced the event has already committed.
func (s *Store) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := map[string]string{}
	if rendered, ok := evt.(eventRenderer); ok {
		if e := rendered.Event(); e != nil && e.Attributes != nil {
			attrs = e.Attributes
		}
	}
	if err := s.RecordEvent(context.Background(), evt.EventType(), attrs); err != nil {
		s.logger.Error("audit: record event", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// RecordEvent appends an event row.
func (s *Store) RecordEvent(ctx context.Context, eventType string, attrs map[string]string) error {
	payload, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	record := EventRecord{
		ID:         uuid.New(),
		Type:       eventType,
		Strategy:   attrs["strategy"],
		Attributes: string(payload),
		CreatedAt:  s.now(),
	}
	record.Checksum = attributesChecksum(eventType, attrs)
	return s.db.WithContext(ctx).Create(&record).Error
}

// RecordTrade implements strategy.LedgerSink.
func (s *Store) RecordTrade(addr common.Address, trade strategy.TradeRecord) {
	record := TradeRecord{
		ID:         uuid.New(),
		Strategy:   addr.Hex(),
		FromAsset:  trade.FromAsset.Hex(),
		FromAmount: amountString(trade.FromAmount),
		ToAsset:    trade.ToAsset.Hex(),
		ToAmount:   amountString(trade.ToAmount),
		Slippage:   amountString(trade.Slippage),
		ExecutedAt: trade.At.UTC(),
		CreatedAt:  s.now(),
	}
	record.Checksum = tradeChecksum(record)
	if err := s.db.Create(&record).Error; err != nil {
		s.logger.Error("audit: record trade", slog.String("strategy", record.Strategy), slog.Any("error", err))
	}
}

// Events lists the recorded events of a strategy, oldest first. An empty
// strategy lists every event. limit <= 0 returns all rows.
func (s *Store) Events(ctx context.Context, strategyAddr string, limit int) ([]EventRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at asc")
	if strategyAddr != "" {
		q = q.Where("strategy = ?", strategyAddr)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []EventRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Trades lists the recorded trades of a strategy in execution order.
func (s *Store) Trades(ctx context.Context, strategyAddr string) ([]TradeRecord, error) {
	var out []TradeRecord
	err := s.db.WithContext(ctx).Where("strategy = ?", strategyAddr).Order("executed_at asc, created_at asc").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify reports whether every stored row still matches its checksum.
func (s *Store) Verify(ctx context.Context) error {
	var evts []EventRecord
	if err := s.db.WithContext(ctx).Find(&evts).Error; err != nil {
		return err
	}
	for _, e := range evts {
		sum, err := eventChecksum(e)
		if err != nil {
			return fmt.Errorf("audit: event %s checksum mismatch: %w", e.ID, err)
		}
		if sum != e.Checksum {
			return fmt.Errorf("audit: event %s checksum mismatch", e.ID)
		}
	}
	var trades []TradeRecord
	if err := s.db.WithContext(ctx).Find(&trades).Error; err != nil {
		return err
	}
	for _, t := range trades {
		if tradeChecksum(t) != t.Checksum {
			return fmt.Errorf("audit: trade %s checksum mismatch", t.ID)
		}
	}
	return nil
}

func eventChecksum(r EventRecord) (string, error) {
	var attrs map[string]string
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return "", fmt.Errorf("decode attributes: %w", err)
	}
	return attributesChecksum(r.Type, attrs), nil
}

func attributesChecksum(eventType string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(eventType)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(attrs[k])
	}
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func tradeChecksum(r TradeRecord) string {
	joined := strings.Join([]string{
		r.Strategy, r.FromAsset, r.FromAmount, r.ToAsset, r.ToAmount, r.Slippage,
		strconv.FormatInt(r.ExecutedAt.Unix(), 10),
	}, "|")
	sum := blake3.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
