package audit

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gardenchain/core/events"
	"gardenchain/native/strategy"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEmitRecordsRenderedAttributes(t *testing.T) {
	store := setupStore(t)
	addr := common.HexToAddress("0xabc")
	store.Emit(events.StrategyExpired{Strategy: addr, Caller: common.HexToAddress("0x1"), ExpiredAt: 42})
	store.Emit(events.KeeperPaid{Garden: common.HexToAddress("0x2"), Keeper: common.HexToAddress("0x3"), Fee: big.NewInt(7)})

	rows, err := store.Events(context.Background(), addr.Hex(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, events.TypeStrategyExpired, rows[0].Type)
	require.Contains(t, rows[0].Attributes, `"expiredAt":"42"`)

	all, err := store.Events(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NoError(t, store.Verify(context.Background()))
}

func TestRecordTradeAndVerify(t *testing.T) {
	store := setupStore(t)
	addr := common.HexToAddress("0xabc")
	store.RecordTrade(addr, strategy.TradeRecord{
		FromAsset:  common.HexToAddress("0xd1"),
		FromAmount: big.NewInt(2_000),
		ToAsset:    common.HexToAddress("0xe1"),
		ToAmount:   big.NewInt(1),
		Slippage:   big.NewInt(-5),
		At:         time.Unix(1_700_000_000, 0),
	})

	trades, err := store.Trades(context.Background(), addr.Hex())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.Equal(t, "2000", trades[0].FromAmount)
	require.Equal(t, "-5", trades[0].Slippage)
	require.NoError(t, store.Verify(context.Background()))

	require.NoError(t, store.db.Model(&TradeRecord{}).Where("id = ?", trades[0].ID).Update("to_amount", "1000").Error)
	require.Error(t, store.Verify(context.Background()))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	require.Error(t, err)
}

func TestVerifyRejectsUnreadableAttributes(t *testing.T) {
	store := setupStore(t)
	addr := common.HexToAddress("0xabc")
	require.NoError(t, store.RecordEvent(context.Background(), events.TypeStrategyExpired, map[string]string{"strategy": addr.Hex()}))
	require.NoError(t, store.RecordEvent(context.Background(), events.TypeKeeperPaid, nil))
	require.NoError(t, store.Verify(context.Background()))

	rows, err := store.Events(context.Background(), addr.Hex(), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, store.db.Model(&EventRecord{}).Where("id = ?", rows[0].ID).Update("attributes", "{corrupt").Error)

	err = store.Verify(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode attributes")
}
