package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/jansgame/roundwatch/internal/eventlog"
	"github.com/jansgame/roundwatch/internal/metrics"
	"github.com/jansgame/roundwatch/internal/round"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const watermarkKeyPrefix = "ticket_watermark:"

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

var _ eventlog.Checkpointer = (*DB)(nil)

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection; /ready calls it when persistence is enabled
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate runs GORM auto-migration
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&AppState{},
		&TicketPurchase{},
		&RoundRecord{},
	)
}

// GetState retrieves a state value by key
func (db *DB) GetState(ctx context.Context, key string) (string, bool, error) {
	var state AppState
	result := db.conn.WithContext(ctx).Where("state_key = ?", key).First(&state)
	metrics.RecordDatabaseQuery("get_state", ignoreNotFound(result.Error))
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if result.Error != nil {
		return "", false, result.Error
	}
	return state.StateValue, true, nil
}

func setState(tx *gorm.DB, key, value string) error {
	state := AppState{
		StateKey:   key,
		StateValue: value,
		UpdatedTS:  time.Now().Unix(),
	}
	return tx.Save(&state).Error
}

// LoadProgress returns the stored block watermark and purchases of a round
func (db *DB) LoadProgress(ctx context.Context, roundID uint64) (uint64, []eventlog.TicketPurchaseEvent, bool, error) {
	value, found, err := db.GetState(ctx, WatermarkKey(roundID))
	if err != nil || !found {
		return 0, nil, false, err
	}
	watermark, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, nil, false, fmt.Errorf("corrupt watermark %q for round %d: %w", value, roundID, err)
	}

	rows, err := db.PurchasesForRound(ctx, roundID)
	if err != nil {
		return 0, nil, false, err
	}
	events := make([]eventlog.TicketPurchaseEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.Event())
	}
	return watermark, events, true, nil
}

// SaveProgress inserts new purchases and advances the round watermark in one transaction
func (db *DB) SaveProgress(ctx context.Context, roundID, watermark uint64, newEvents []eventlog.TicketPurchaseEvent) error {
	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(newEvents) > 0 {
			rows := make([]TicketPurchase, len(newEvents))
			for i, e := range newEvents {
				rows[i] = NewTicketPurchase(roundID, e)
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
				return fmt.Errorf("insert purchases: %w", err)
			}
		}
		return setState(tx, WatermarkKey(roundID), strconv.FormatUint(watermark, 10))
	})
	metrics.RecordDatabaseQuery("save_progress", err)
	return err
}

// PurchasesForRound lists stored purchases, newest first
func (db *DB) PurchasesForRound(ctx context.Context, roundID uint64) ([]TicketPurchase, error) {
	var rows []TicketPurchase
	result := db.conn.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("timestamp_sec DESC, ticket_id DESC").
		Find(&rows)
	metrics.RecordDatabaseQuery("purchases_for_round", result.Error)
	return rows, result.Error
}

// UpsertRound records the latest observed state of a round
func (db *DB) UpsertRound(ctx context.Context, rec *RoundRecord) error {
	rec.UpdatedTS = time.Now().Unix()
	result := db.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "round_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"phase", "start_time", "start_snapshot_submitted", "end_snapshot_submitted",
			"results_evaluated", "aborted", "highest_score", "actual_outcomes",
			"ticket_count", "updated_ts",
		}),
	}).Create(rec)
	metrics.RecordDatabaseQuery("upsert_round", result.Error)
	return result.Error
}

// ListRounds returns the most recent rounds first
func (db *DB) ListRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	var rounds []RoundRecord
	result := db.conn.WithContext(ctx).Order("round_id DESC").Limit(limit).Find(&rounds)
	metrics.RecordDatabaseQuery("list_rounds", result.Error)
	return rounds, result.Error
}

// WatermarkKey is the AppState key holding a round's last scanned block
func WatermarkKey(roundID uint64) string {
	return watermarkKeyPrefix + strconv.FormatUint(roundID, 10)
}

// NewTicketPurchase converts a fetched event into a row
func NewTicketPurchase(roundID uint64, e eventlog.TicketPurchaseEvent) TicketPurchase {
	row := TicketPurchase{
		TxHash:        strings.ToLower(e.TxHash),
		TicketID:      e.TicketID,
		RoundID:       roundID,
		PlayerAddress: e.Player.Hex(),
		BlockNumber:   e.BlockNumber,
		TimestampSec:  e.TimestampSeconds,
	}
	if e.AmountPaidNative != nil {
		row.AmountPaidWei = e.AmountPaidNative.String()
	}
	return row
}

// Event converts a row back into the tracker's event type
func (t TicketPurchase) Event() eventlog.TicketPurchaseEvent {
	e := eventlog.TicketPurchaseEvent{
		Player:           common.HexToAddress(t.PlayerAddress),
		TicketID:         t.TicketID,
		TimestampSeconds: t.TimestampSec,
		TxHash:           t.TxHash,
		BlockNumber:      t.BlockNumber,
	}
	if amount, ok := new(big.Int).SetString(t.AmountPaidWei, 10); ok {
		e.AmountPaidNative = amount
	}
	return e
}

// NewRoundRecord converts a derived round state into a row
func NewRoundRecord(st *round.State, ticketCount int) *RoundRecord {
	snap := st.Round
	rec := &RoundRecord{
		RoundID:                snap.RoundID,
		Phase:                  string(st.ContractPhase),
		StartSnapshotSubmitted: snap.StartSnapshotSubmitted,
		EndSnapshotSubmitted:   snap.EndSnapshotSubmitted,
		ResultsEvaluated:       snap.ResultsEvaluated,
		Aborted:                snap.Aborted,
		HighestScore:           snap.HighestScore,
		ActualOutcomes:         EncodeOutcomes(snap.ActualOutcomes),
		TicketCount:            ticketCount,
	}
	if snap.StartTime != nil {
		rec.StartTime = *snap.StartTime
	}
	return rec
}

// EncodeOutcomes renders outcomes as U/D per pool
func EncodeOutcomes(outcomes []bool) string {
	var b strings.Builder
	for _, up := range outcomes {
		if up {
			b.WriteByte('U')
		} else {
			b.WriteByte('D')
		}
	}
	return b.String()
}

func ignoreNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
