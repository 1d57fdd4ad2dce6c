package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/view"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	snapshotFile  = "snapshots/latest_snapshot.json"
	dailyLogDir   = "dailylogs_v8"
	dailyLogIndex = "index.json"
)

// ErrInvalidLogName is returned for log names that would escape the log directory
var ErrInvalidLogName = errors.New("invalid log file name")

// snapshotPriceOptions keep one more significant digit than token prices elsewhere
var snapshotPriceOptions = view.PriceOptions{
	AdditionalZeroThreshold: 3,
	SignificantDigits:       4,
	DefaultDisplayDecimals:  6,
	MinNormalDecimals:       2,
}

// Value is a JSON scalar published either as a string or a number
type Value string

// UnmarshalJSON accepts strings, numbers and null
func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*v = Value(n.String())
	return nil
}

// Float parses the value, tolerating "$" and thousands separators
func (v Value) Float() (float64, bool) {
	s := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(string(v)))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// SnapshotToken is one pool in the daily prediction snapshot
type SnapshotToken struct {
	Name                     string `json:"name" validate:"required"`
	PoolName                 string `json:"pool_name"`
	BaseTokenPriceUSD        Value  `json:"base_token_price_usd"`
	PriceChangePercentage1h  Value  `json:"price_change_percentage_1h"`
	PriceChangePercentage6h  Value  `json:"price_change_percentage_6h"`
	PriceChangePercentage24h Value  `json:"price_change_percentage_24h"`
	FDVUSD                   Value  `json:"fdv_usd"`
}

// TokenRow is a snapshot token formatted for display
type TokenRow struct {
	Name      string `json:"name"`
	PoolName  string `json:"poolName"`
	PriceUSD  string `json:"priceUsd"`
	Change1h  string `json:"change1h"`
	Change6h  string `json:"change6h"`
	Change24h string `json:"change24h"`
	FDV       string `json:"fdv"`
}

// Snapshot is the latest daily snapshot
type Snapshot struct {
	Tokens []SnapshotToken `json:"tokens" validate:"min=1,dive"`
	// Complete is false when the snapshot does not have one token per prediction
	Complete bool       `json:"complete"`
	Rows     []TokenRow `json:"rows"`
}

// LogEntry is one line of the daily log index
type LogEntry struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	File string `json:"file" validate:"required"`
}

// Store reads the published snapshot and daily logs from a data directory
type Store struct {
	dir      string
	validate *validator.Validate
	log      *logrus.Logger
}

// NewStore creates a store rooted at dir
func NewStore(dir string, log *logrus.Logger) *Store {
	return &Store{dir: dir, validate: validator.New(), log: log}
}

// LatestSnapshot loads and validates the latest snapshot
func (s *Store) LatestSnapshot() (*Snapshot, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var tokens []SnapshotToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("snapshot is not a valid token array: %w", err)
	}

	snap := &Snapshot{Tokens: tokens, Complete: len(tokens) == chain.PredictionCount}
	if err := s.validate.Struct(snap); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	if !snap.Complete {
		s.log.WithFields(logrus.Fields{
			"tokens":   len(tokens),
			"expected": chain.PredictionCount,
		}).Warn("Snapshot token count does not match the number of predictions")
	}

	snap.Rows = make([]TokenRow, len(tokens))
	for i, t := range tokens {
		snap.Rows[i] = FormatToken(t)
	}
	return snap, nil
}

// FormatToken renders one snapshot token
func FormatToken(t SnapshotToken) TokenRow {
	row := TokenRow{
		Name:      t.Name,
		PoolName:  t.PoolName,
		PriceUSD:  view.FormatPriceWithZeroCount(string(t.BaseTokenPriceUSD), snapshotPriceOptions),
		Change1h:  percent(t.PriceChangePercentage1h),
		Change6h:  percent(t.PriceChangePercentage6h),
		Change24h: percent(t.PriceChangePercentage24h),
		FDV:       "N/A",
	}
	if row.Name == "" {
		row.Name = "N/A"
	}
	if fdv, ok := t.FDVUSD.Float(); ok {
		row.FDV = formatUSD(fdv)
	}
	return row
}

func percent(v Value) string {
	f, ok := v.Float()
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", f)
}

var usdPrinter = message.NewPrinter(language.English)

func formatUSD(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return sign + usdPrinter.Sprintf("$%d", int64(math.Round(v)))
}

// DailyLogIndex lists the published daily logs, newest first
func (s *Store) DailyLogIndex() ([]LogEntry, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, dailyLogDir, dailyLogIndex))
	if err != nil {
		return nil, fmt.Errorf("failed to read log index: %w", err)
	}
	var entries []LogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("log index is not a valid array: %w", err)
	}
	if err := s.validate.Var(entries, "dive"); err != nil {
		return nil, fmt.Errorf("invalid log index: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})
	return entries, nil
}

// DailyLog returns the contents of one daily log. Names are resolved inside
// the log directory only.
func (s *Store) DailyLog(name string) ([]byte, error) {
	name, err := cleanLogName(name)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(filepath.Join(s.dir, dailyLogDir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read log %s: %w", name, err)
	}
	return content, nil
}

// cleanLogName accepts index entries written with or without the directory prefix
func cleanLogName(name string) (string, error) {
	name = strings.TrimPrefix(name, dailyLogDir+"/")
	if name == "" || name == dailyLogIndex ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidLogName, name)
	}
	return name, nil
}
