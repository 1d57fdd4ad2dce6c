package storage

import (
	"context"
	"io"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/jansgame/roundwatch/internal/eventlog"
	"github.com/jansgame/roundwatch/internal/round"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a file-backed SQLite database with the production schema
func newTestDB(t *testing.T) *DB {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "roundwatch.db")), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)

	db := &DB{conn: conn, log: log}
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func purchase(ticketID uint64, txHash string, ts int64) eventlog.TicketPurchaseEvent {
	return eventlog.TicketPurchaseEvent{
		Player:           common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TicketID:         ticketID,
		TimestampSeconds: ts,
		TxHash:           txHash,
		BlockNumber:      uint64(ts),
		AmountPaidNative: big.NewInt(5),
	}
}

func TestProgressCheckpointRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Ping(ctx))

	_, events, found, err := db.LoadProgress(ctx, 3)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, events)

	require.NoError(t, db.SaveProgress(ctx, 3, 100, []eventlog.TicketPurchaseEvent{
		purchase(1, "0xaa", 1000),
		purchase(2, "0xbb", 1001),
	}))
	// a re-scanned overlap carries ticket 2 again, with different hash casing
	require.NoError(t, db.SaveProgress(ctx, 3, 150, []eventlog.TicketPurchaseEvent{
		purchase(2, "0xBB", 1001),
		purchase(3, "0xcc", 1002),
	}))
	require.NoError(t, db.SaveProgress(ctx, 4, 160, []eventlog.TicketPurchaseEvent{
		purchase(1, "0xdd", 1003),
	}))

	watermark, events, found, err := db.LoadProgress(ctx, 3)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(150), watermark)
	require.Len(t, events, 3, "duplicate purchase is ignored")
	assert.Equal(t, []uint64{3, 2, 1}, []uint64{events[0].TicketID, events[1].TicketID, events[2].TicketID})
	assert.Equal(t, "0xbb", events[1].TxHash)
	require.NotNil(t, events[0].AmountPaidNative)
	assert.Equal(t, "5", events[0].AmountPaidNative.String())

	watermark, events, found, err = db.LoadProgress(ctx, 4)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(160), watermark)
	assert.Len(t, events, 1)
}

func TestSaveProgressWithoutEventsAdvancesWatermark(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveProgress(ctx, 5, 200, nil))
	require.NoError(t, db.SaveProgress(ctx, 5, 260, nil))

	watermark, events, found, err := db.LoadProgress(ctx, 5)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(260), watermark)
	assert.Empty(t, events)
}

func TestUpsertAndListRounds(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	open := &round.State{ContractPhase: round.PhaseSalesOpen, Round: round.Snapshot{RoundID: 7}}
	require.NoError(t, db.UpsertRound(ctx, NewRoundRecord(open, 2)))
	require.NoError(t, db.UpsertRound(ctx, NewRoundRecord(&round.State{
		ContractPhase: round.PhasePendingStart,
		Round:         round.Snapshot{RoundID: 8},
	}, 0)))

	closed := &round.State{ContractPhase: round.PhaseSalesClosed, Round: round.Snapshot{RoundID: 7}}
	require.NoError(t, db.UpsertRound(ctx, NewRoundRecord(closed, 5)))

	rounds, err := db.ListRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, uint64(8), rounds[0].RoundID)
	assert.Equal(t, uint64(7), rounds[1].RoundID)
	assert.Equal(t, string(round.PhaseSalesClosed), rounds[1].Phase)
	assert.Equal(t, 5, rounds[1].TicketCount)
	assert.NotZero(t, rounds[1].FirstSeenTS)

	rounds, err = db.ListRounds(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rounds, 1)
}

func TestWatermarkKey(t *testing.T) {
	assert.Equal(t, "ticket_watermark:42", WatermarkKey(42))
	assert.LessOrEqual(t, len(WatermarkKey(^uint64(0))), 64, "fits the state_key column")
}

func TestTicketPurchaseRoundTrip(t *testing.T) {
	player := common.HexToAddress("0x7964861254d0e3dd30f732db49052198a9b90eae")
	e := eventlog.TicketPurchaseEvent{
		Player:           player,
		TicketID:         9,
		TimestampSeconds: 1_700_000_000,
		TxHash:           "0xABCDEF",
		BlockNumber:      123,
		AmountPaidNative: big.NewInt(5_000_000),
	}

	row := NewTicketPurchase(3, e)
	assert.Equal(t, "0xabcdef", row.TxHash)
	assert.Equal(t, uint64(3), row.RoundID)
	assert.Equal(t, "0x7964861254d0e3Dd30f732DB49052198A9b90eae", row.PlayerAddress)
	assert.Equal(t, "5000000", row.AmountPaidWei)

	back := row.Event()
	assert.Equal(t, player, back.Player)
	assert.Equal(t, uint64(9), back.TicketID)
	assert.Equal(t, int64(1_700_000_000), back.TimestampSeconds)
	require.NotNil(t, back.AmountPaidNative)
	assert.Equal(t, int64(5_000_000), back.AmountPaidNative.Int64())
}

func TestTicketPurchaseWithoutAmount(t *testing.T) {
	row := NewTicketPurchase(3, eventlog.TicketPurchaseEvent{TxHash: "0x1", TicketID: 1})
	assert.Empty(t, row.AmountPaidWei)
	assert.Nil(t, row.Event().AmountPaidNative)
}

func TestNewRoundRecord(t *testing.T) {
	start := int64(1_700_000_000)
	score := 9
	st := &round.State{
		Phase:         round.PhasePaused,
		ContractPhase: round.PhaseEvaluated,
		Round: round.Snapshot{
			RoundID:                12,
			StartTime:              &start,
			StartSnapshotSubmitted: true,
			EndSnapshotSubmitted:   true,
			ResultsEvaluated:       true,
			HighestScore:           &score,
			ActualOutcomes:         []bool{true, false, true, true, false, false, true, false, true, true},
		},
	}

	rec := NewRoundRecord(st, 44)
	assert.Equal(t, uint64(12), rec.RoundID)
	assert.Equal(t, "evaluated", rec.Phase, "stores the contract phase, not the maintenance overlay")
	assert.Equal(t, start, rec.StartTime)
	assert.True(t, rec.ResultsEvaluated)
	assert.Equal(t, 9, *rec.HighestScore)
	assert.Equal(t, "UDUUDDUDUU", rec.ActualOutcomes)
	assert.Equal(t, 44, rec.TicketCount)
}

func TestNewRoundRecordPending(t *testing.T) {
	rec := NewRoundRecord(&round.State{
		ContractPhase: round.PhasePendingStart,
		Round:         round.Snapshot{RoundID: 13},
	}, 0)
	assert.Zero(t, rec.StartTime)
	assert.Nil(t, rec.HighestScore)
	assert.Empty(t, rec.ActualOutcomes)
}
