package round

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/sirupsen/logrus"
)

// Reader is the slice of the game contract the deriver reads
type Reader interface {
	CurrentRoundID(ctx context.Context) (uint64, error)
	RoundData(ctx context.Context, roundID uint64) (*chain.RoundData, error)
	TicketSalesDurationSeconds(ctx context.Context) (int64, error)
	CurrentTicketPriceNative(ctx context.Context) (*big.Int, error)
	LatestBlockTime(ctx context.Context) (int64, error)
}

// State is one derivation result
type State struct {
	Round         Snapshot `json:"round"`
	Phase         Phase    `json:"phase"`
	ContractPhase Phase    `json:"contractPhase"` // before the maintenance overlay
	ChainTime     int64    `json:"chainTime"`
	SalesDuration int64    `json:"salesDurationSeconds"`
	SalesEndTime  *int64   `json:"salesEndTime"`
	// TicketPriceNative is only read while sales are open
	TicketPriceNative *big.Int  `json:"ticketPriceNative"`
	PurchasesAllowed  bool      `json:"purchasesAllowed"`
	RoundChanged      bool      `json:"roundChanged"`
	PreviousRoundID   uint64    `json:"previousRoundId"`
	ObservedAt        time.Time `json:"observedAt"`
}

// SalesRemaining is the time left to buy tickets, zero when sales are not open
func (s *State) SalesRemaining() time.Duration {
	if s.ContractPhase != PhaseSalesOpen || s.SalesEndTime == nil {
		return 0
	}
	remaining := time.Duration(*s.SalesEndTime-s.ChainTime) * time.Second
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Deriver turns contract reads into a State and tracks round id changes
type Deriver struct {
	reader      Reader
	maintenance *MaintenanceWindow
	log         *logrus.Logger

	mu          sync.Mutex
	lastRoundID uint64
	observed    bool
}

// NewDeriver creates a deriver. A nil maintenance window disables the overlay.
func NewDeriver(reader Reader, maintenance *MaintenanceWindow, log *logrus.Logger) *Deriver {
	return &Deriver{reader: reader, maintenance: maintenance, log: log}
}

// Derive reads the current round and interprets it. On a read error the
// returned State has PhaseError and no price, alongside the wrapped error.
func (d *Deriver) Derive(ctx context.Context, now time.Time) (*State, error) {
	state, err := d.read(ctx)
	if err != nil {
		return &State{Phase: PhaseError, ContractPhase: PhaseError, ObservedAt: now}, err
	}
	state.ObservedAt = now

	d.mu.Lock()
	if d.observed && state.Round.RoundID != d.lastRoundID {
		state.RoundChanged = true
		state.PreviousRoundID = d.lastRoundID
		if state.Round.RoundID < d.lastRoundID {
			d.log.WithFields(logrus.Fields{
				"previous_round_id": d.lastRoundID,
				"round_id":          state.Round.RoundID,
			}).Warn("Round id went backwards, treating as a contract-level reset")
		}
	}
	d.lastRoundID = state.Round.RoundID
	d.observed = true
	d.mu.Unlock()

	state.Phase = state.ContractPhase
	state.PurchasesAllowed = state.ContractPhase == PhaseSalesOpen
	if d.paused(state.ContractPhase, now) {
		state.Phase = PhasePaused
		state.PurchasesAllowed = false
	}
	return state, nil
}

func (d *Deriver) paused(phase Phase, now time.Time) bool {
	if d.maintenance == nil || phase == PhaseNoRound || phase == PhaseError {
		return false
	}
	return d.maintenance.Contains(now)
}

func (d *Deriver) read(ctx context.Context) (*State, error) {
	roundID, err := d.reader.CurrentRoundID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current round id: %w", err)
	}
	if roundID == 0 {
		return &State{ContractPhase: PhaseNoRound}, nil
	}

	rd, err := d.reader.RoundData(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("read round %d: %w", roundID, err)
	}
	snap := SnapshotFromRoundData(rd)
	snap.RoundID = roundID
	state := &State{Round: snap}

	in := Inputs{
		RoundID:                roundID,
		StartSnapshotSubmitted: snap.StartSnapshotSubmitted,
		EndSnapshotSubmitted:   snap.EndSnapshotSubmitted,
		Aborted:                snap.Aborted,
		ResultsEvaluated:       snap.ResultsEvaluated,
		StartTime:              snap.StartTime,
	}
	if snap.StartSnapshotSubmitted && !snap.Aborted && !snap.ResultsEvaluated {
		if in.SalesDurationSeconds, err = d.reader.TicketSalesDurationSeconds(ctx); err != nil {
			return nil, fmt.Errorf("read ticket sales duration: %w", err)
		}
		if in.CurrentChainTime, err = d.reader.LatestBlockTime(ctx); err != nil {
			return nil, fmt.Errorf("read chain time: %w", err)
		}
		state.ChainTime = in.CurrentChainTime
		state.SalesDuration = in.SalesDurationSeconds
		if snap.StartTime != nil {
			end := *snap.StartTime + in.SalesDurationSeconds
			state.SalesEndTime = &end
		}
	}
	state.ContractPhase = DerivePhase(in)

	if state.ContractPhase == PhaseSalesOpen {
		price, err := d.reader.CurrentTicketPriceNative(ctx)
		if err != nil {
			return nil, fmt.Errorf("read ticket price: %w", err)
		}
		state.TicketPriceNative = price
	}
	return state, nil
}
