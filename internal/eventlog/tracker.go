package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jansgame/roundwatch/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Source is what the tracker needs from a Fetcher
type Source interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FetchNewPurchaseEvents(ctx context.Context, roundID, from, to uint64) ([]TicketPurchaseEvent, error)
}

// Checkpointer persists per-round scan progress so a restart resumes where it stopped
type Checkpointer interface {
	LoadProgress(ctx context.Context, roundID uint64) (watermark uint64, events []TicketPurchaseEvent, found bool, err error)
	SaveProgress(ctx context.Context, roundID, watermark uint64, newEvents []TicketPurchaseEvent) error
}

// WindowConfig sizes the first scan of a round
type WindowConfig struct {
	MinBlocks    uint64
	MaxBlocks    uint64
	AvgBlockTime time.Duration
}

// SyncResult describes one Sync call
type SyncResult struct {
	RoundID   uint64
	FromBlock uint64
	ToBlock   uint64
	NewEvents int
	Skipped   bool // no new blocks since the watermark
}

// Tracker owns the cached purchase set and block watermark of the current round
type Tracker struct {
	source      Source
	checkpoints Checkpointer
	window      WindowConfig
	log         *logrus.Logger

	mu           sync.Mutex
	roundID      uint64
	events       []TicketPurchaseEvent
	seen         map[eventKey]struct{}
	watermark    uint64
	hasWatermark bool
	restored     bool
}

// NewTracker creates a tracker. checkpoints may be nil.
func NewTracker(source Source, checkpoints Checkpointer, window WindowConfig, log *logrus.Logger) *Tracker {
	if window.MinBlocks == 0 {
		window.MinBlocks = 2000
	}
	if window.MaxBlocks < window.MinBlocks {
		window.MaxBlocks = window.MinBlocks
	}
	if window.AvgBlockTime <= 0 {
		window.AvgBlockTime = 4 * time.Second
	}
	return &Tracker{
		source:      source,
		checkpoints: checkpoints,
		window:      window,
		log:         log,
		seen:        make(map[eventKey]struct{}),
	}
}

// Reset drops all cached events and the watermark and switches to roundID
func (t *Tracker) Reset(roundID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(roundID)
}

func (t *Tracker) resetLocked(roundID uint64) {
	t.roundID = roundID
	t.events = nil
	t.seen = make(map[eventKey]struct{})
	t.watermark = 0
	t.hasWatermark = false
	t.restored = false
}

// Events returns the cached purchases, newest first
func (t *Tracker) Events() []TicketPurchaseEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TicketPurchaseEvent(nil), t.events...)
}

// Watermark returns the last fully scanned block, if any
func (t *Tracker) Watermark() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark, t.hasWatermark
}

// RoundID returns the round the cache belongs to
func (t *Tracker) RoundID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roundID
}

// WindowBlocks sizes the first scan from the round's elapsed time
func (t *Tracker) WindowBlocks(startTime *int64, now time.Time) uint64 {
	if startTime == nil || *startTime <= 0 {
		return t.window.MinBlocks
	}
	elapsed := now.Sub(time.Unix(*startTime, 0))
	if elapsed <= 0 {
		return t.window.MinBlocks
	}
	blocks := uint64(elapsed / t.window.AvgBlockTime)
	if blocks < t.window.MinBlocks {
		return t.window.MinBlocks
	}
	if blocks > t.window.MaxBlocks {
		return t.window.MaxBlocks
	}
	return blocks
}

// Sync scans blocks past the watermark and merges new purchases. On error the
// cache and watermark are left as they were.
func (t *Tracker) Sync(ctx context.Context, roundID uint64, startTime *int64, now time.Time) (SyncResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if roundID != t.roundID {
		t.resetLocked(roundID)
	}
	result := SyncResult{RoundID: roundID}
	if roundID == 0 {
		result.Skipped = true
		return result, nil
	}
	t.restoreLocked(ctx)

	head, err := t.source.HeadBlock(ctx)
	if err != nil {
		return result, err
	}

	var from uint64
	if t.hasWatermark {
		from = t.watermark + 1
		if from > head {
			result.Skipped = true
			return result, nil
		}
	} else {
		window := t.WindowBlocks(startTime, now)
		if head > window {
			from = head - window
		}
	}
	result.FromBlock, result.ToBlock = from, head

	fetched, err := t.source.FetchNewPurchaseEvents(ctx, roundID, from, head)
	if err != nil {
		return result, err
	}

	fresh := t.mergeLocked(fetched)
	t.watermark = head
	t.hasWatermark = true
	result.NewEvents = len(fresh)
	metrics.EventsFetched.Add(float64(len(fresh)))

	if t.checkpoints != nil {
		if err := t.checkpoints.SaveProgress(ctx, roundID, head, fresh); err != nil {
			t.log.WithFields(logrus.Fields{
				"round_id":  roundID,
				"watermark": head,
				"error":     err.Error(),
			}).Warn("Failed to persist event log progress")
		}
	}
	return result, nil
}

func (t *Tracker) restoreLocked(ctx context.Context) {
	if t.restored || t.checkpoints == nil {
		return
	}
	t.restored = true

	watermark, events, found, err := t.checkpoints.LoadProgress(ctx, t.roundID)
	if err != nil {
		t.log.WithFields(logrus.Fields{
			"round_id": t.roundID,
			"error":    err.Error(),
		}).Warn("Failed to restore event log progress, rescanning")
		return
	}
	if !found {
		return
	}
	t.mergeLocked(events)
	t.watermark = watermark
	t.hasWatermark = true
	t.log.WithFields(logrus.Fields{
		"round_id":  t.roundID,
		"watermark": watermark,
		"events":    len(events),
	}).Info("Restored event log progress")
}

// mergeLocked adds unseen events and re-sorts newest first. Returns the added events.
func (t *Tracker) mergeLocked(events []TicketPurchaseEvent) []TicketPurchaseEvent {
	var fresh []TicketPurchaseEvent
	for _, e := range events {
		k := e.key()
		if _, dup := t.seen[k]; dup {
			continue
		}
		t.seen[k] = struct{}{}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return nil
	}
	t.events = append(t.events, fresh...)
	sort.SliceStable(t.events, func(i, j int) bool {
		a, b := t.events[i], t.events[j]
		if a.TimestampSeconds != b.TimestampSeconds {
			return a.TimestampSeconds > b.TimestampSeconds
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber > b.BlockNumber
		}
		return a.TicketID > b.TicketID
	})
	return fresh
}
