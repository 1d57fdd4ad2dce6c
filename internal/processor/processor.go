package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jansgame/roundwatch/internal/alerts"
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/jansgame/roundwatch/internal/eventlog"
	"github.com/jansgame/roundwatch/internal/gamestats"
	"github.com/jansgame/roundwatch/internal/metrics"
	"github.com/jansgame/roundwatch/internal/pricefeed"
	"github.com/jansgame/roundwatch/internal/round"
	"github.com/jansgame/roundwatch/internal/storage"
	"github.com/jansgame/roundwatch/internal/view"
	"github.com/sirupsen/logrus"
)

// RoundSource derives the current round
type RoundSource interface {
	Derive(ctx context.Context, now time.Time) (*round.State, error)
}

// PriceSource produces the per-cycle price context
type PriceSource interface {
	Snapshot(ctx context.Context) pricefeed.PriceContext
}

// EventSyncer keeps the purchase cache of the current round
type EventSyncer interface {
	Reset(roundID uint64)
	Sync(ctx context.Context, roundID uint64, startTime *int64, now time.Time) (eventlog.SyncResult, error)
	Events() []eventlog.TicketPurchaseEvent
}

// StatsSource reads pool statistics
type StatsSource interface {
	Collect(ctx context.Context, prices pricefeed.PriceContext) (*gamestats.Stats, error)
}

// RoundStore records round history
type RoundStore interface {
	UpsertRound(ctx context.Context, rec *storage.RoundRecord) error
}

// Snapshot is everything one cycle produced. Published snapshots are never modified.
type Snapshot struct {
	CycleID     string              `json:"cycleId"`
	Input       view.Input          `json:"-"`
	View        *view.View          `json:"view"`
	SyncResult  eventlog.SyncResult `json:"sync"`
	Degraded    []string            `json:"degraded,omitempty"`
	PublishedAt time.Time           `json:"publishedAt"`
	Duration    time.Duration       `json:"duration"`
}

// Processor owns the polling state: the last good derivation, the purchase
// tracker and the last published snapshot.
type Processor struct {
	cfg     *config.Config
	rounds  RoundSource
	prices  PriceSource
	events  EventSyncer
	stats   StatsSource
	store   RoundStore
	alerter alerts.Sender
	log     *logrus.Logger
	now     func() time.Time

	running   sync.Mutex
	lastGood  *round.State
	published atomic.Pointer[Snapshot]
}

// New creates a processor. store may be nil to run without persistence.
func New(
	cfg *config.Config,
	rounds RoundSource,
	prices PriceSource,
	events EventSyncer,
	stats StatsSource,
	store RoundStore,
	alerter alerts.Sender,
	log *logrus.Logger,
) *Processor {
	return &Processor{
		cfg:     cfg,
		rounds:  rounds,
		prices:  prices,
		events:  events,
		stats:   stats,
		store:   store,
		alerter: alerter,
		log:     log,
		now:     time.Now,
	}
}

// Latest returns the last published snapshot, or nil before the first cycle completes
func (p *Processor) Latest() *Snapshot {
	return p.published.Load()
}

// Ready reports whether a snapshot has been published
func (p *Processor) Ready() bool {
	return p.published.Load() != nil
}

// RunCycle performs one poll. Every step degrades on its own; a snapshot is
// always published unless ctx is cancelled first.
func (p *Processor) RunCycle(ctx context.Context) (*Snapshot, error) {
	p.running.Lock()
	defer p.running.Unlock()

	start := p.now()
	snap := &Snapshot{CycleID: uuid.NewString()}
	log := p.log.WithField("cycle_id", snap.CycleID)

	var (
		state    *round.State
		roundErr error
		prices   pricefeed.PriceContext
		wg       sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		state, roundErr = p.rounds.Derive(ctx, start)
	}()
	go func() {
		defer wg.Done()
		prices = p.prices.Snapshot(ctx)
	}()
	wg.Wait()

	if roundErr != nil {
		snap.Degraded = append(snap.Degraded, "round")
		log.WithError(roundErr).Error("Failed to derive round state")
	} else {
		if state.RoundChanged {
			metrics.RoundChanges.Inc()
			p.events.Reset(state.Round.RoundID)
			log.WithFields(logrus.Fields{
				"previous_round_id": state.PreviousRoundID,
				"round_id":          state.Round.RoundID,
			}).Info("Round changed")
		}

		result, err := p.events.Sync(ctx, state.Round.RoundID, state.Round.StartTime, start)
		snap.SyncResult = result
		if err != nil {
			snap.Degraded = append(snap.Degraded, "events")
			log.WithError(err).WithField("round_id", state.Round.RoundID).Warn("Failed to sync purchase events")
		} else if result.NewEvents > 0 {
			log.WithFields(logrus.Fields{
				"round_id":   result.RoundID,
				"from_block": result.FromBlock,
				"to_block":   result.ToBlock,
				"new_events": result.NewEvents,
			}).Info("Synced purchase events")
		}
	}
	if prices.NativeUSDPrice == nil || prices.TokenPerNativeRate == nil {
		snap.Degraded = append(snap.Degraded, "prices")
	}

	stats, statsErr := p.stats.Collect(ctx, prices)
	if statsErr != nil {
		snap.Degraded = append(snap.Degraded, "stats")
		log.WithError(statsErr).Warn("Failed to collect game statistics")
	}

	if err := ctx.Err(); err != nil {
		metrics.RecordCycle(p.now().Sub(start), cycleStatus(err, nil))
		return nil, err
	}

	events := p.events.Events()
	shown := prices
	if roundErr != nil {
		// the error state shows no cached purchases or prices
		events = nil
		shown = pricefeed.PriceContext{}
	}
	snap.Input = view.Input{
		Round:    state,
		Prices:   shown,
		Stats:    stats,
		StatsErr: statsErr,
		Events:   events,
		Decimals: view.Decimals{
			Native:  p.cfg.NativeDecimals,
			Token:   p.cfg.TokenDecimals,
			LPToken: p.cfg.LPTokenDecimals,
		},
		Now: start,
	}
	snap.View = view.Render(snap.Input)
	snap.PublishedAt = p.now()
	snap.Duration = snap.PublishedAt.Sub(start)
	p.published.Store(snap)

	if state != nil {
		metrics.RecordRound(state.Round.RoundID, string(state.Phase), round.PhaseNames())
	} else {
		metrics.RecordRound(0, string(round.PhaseError), round.PhaseNames())
	}
	metrics.RecordCycle(snap.Duration, cycleStatus(nil, snap.Degraded))

	if roundErr == nil {
		p.persist(ctx, log, state, len(events))
		p.notify(ctx, log, state, len(events))
		p.lastGood = state
	}

	log.WithFields(logrus.Fields{
		"phase":       snap.View.Phase,
		"round_id":    snap.View.RoundID,
		"tickets":     len(events),
		"degraded":    snap.Degraded,
		"duration_ms": snap.Duration.Milliseconds(),
	}).Debug("Cycle complete")
	return snap, nil
}

func (p *Processor) persist(ctx context.Context, log *logrus.Entry, state *round.State, ticketCount int) {
	if p.store == nil || state.Round.RoundID == 0 {
		return
	}
	if err := p.store.UpsertRound(ctx, storage.NewRoundRecord(state, ticketCount)); err != nil {
		log.WithError(err).WithField("round_id", state.Round.RoundID).Warn("Failed to persist round record")
	}
}

func (p *Processor) notify(ctx context.Context, log *logrus.Entry, state *round.State, ticketCount int) {
	if p.alerter == nil {
		return
	}
	for _, n := range alerts.Detect(p.lastGood, state, ticketCount, p.cfg.Environment, state.ObservedAt) {
		err := p.alerter.Send(ctx, n)
		metrics.RecordAlert(string(n.Kind), err)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"kind":     n.Kind,
				"round_id": n.RoundID,
			}).Error("Failed to send notification")
		}
	}
}

// Run polls until ctx is cancelled. The first cycle starts immediately and a
// cycle never overlaps the previous one: the next starts interval after the
// previous started, or right away if it overran.
func (p *Processor) Run(ctx context.Context, interval, cycleTimeout time.Duration) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Polling loop stopped")
			return
		case <-timer.C:
		}

		start := p.now()
		cycleCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
		_, err := p.RunCycle(cycleCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			p.log.WithError(err).WithField("timeout", cycleTimeout.String()).Warn("Cycle did not publish")
		}

		wait := interval - p.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

func cycleStatus(err error, degraded []string) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case err != nil:
		return "cancelled"
	case len(degraded) > 0:
		return "degraded"
	default:
		return "ok"
	}
}
