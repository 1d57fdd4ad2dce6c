package round

import (
	"github.com/jansgame/roundwatch/internal/chain"
)

// Phase is the lifecycle stage of the current round
type Phase string

const (
	PhaseNoRound      Phase = "no_round"
	PhasePendingStart Phase = "pending_start"
	PhaseSalesOpen    Phase = "sales_open"
	PhaseSalesClosed  Phase = "sales_closed"
	PhaseEvaluated    Phase = "evaluated"
	PhaseAborted      Phase = "aborted"
	PhasePaused       Phase = "paused"
	PhaseError        Phase = "error"
)

// AllPhases lists every phase, in lifecycle order
var AllPhases = []Phase{
	PhaseNoRound, PhasePendingStart, PhaseSalesOpen, PhaseSalesClosed,
	PhaseEvaluated, PhaseAborted, PhasePaused, PhaseError,
}

// PhaseNames returns AllPhases as strings, for metric labels
func PhaseNames() []string {
	names := make([]string, len(AllPhases))
	for i, p := range AllPhases {
		names[i] = string(p)
	}
	return names
}

// Inputs is everything the phase depends on
type Inputs struct {
	RoundID                uint64
	StartSnapshotSubmitted bool
	EndSnapshotSubmitted   bool
	Aborted                bool
	ResultsEvaluated       bool
	CurrentChainTime       int64
	StartTime              *int64
	SalesDurationSeconds   int64
}

// DerivePhase interprets contract state. It has no side effects.
func DerivePhase(in Inputs) Phase {
	switch {
	case in.RoundID == 0:
		return PhaseNoRound
	case in.Aborted:
		return PhaseAborted
	case in.ResultsEvaluated:
		return PhaseEvaluated
	case !in.StartSnapshotSubmitted:
		return PhasePendingStart
	}

	var start int64
	if in.StartTime != nil {
		start = *in.StartTime
	}
	if in.CurrentChainTime <= start+in.SalesDurationSeconds {
		return PhaseSalesOpen
	}
	return PhaseSalesClosed
}

// Snapshot is the current round as read from roundsData. A new round id
// produces a new Snapshot; an existing one is never modified.
type Snapshot struct {
	RoundID                uint64 `json:"roundId"`
	StartTime              *int64 `json:"startTime"`
	StartSnapshotSubmitted bool   `json:"startSnapshotSubmitted"`
	EndSnapshotSubmitted   bool   `json:"endSnapshotSubmitted"`
	ResultsEvaluated       bool   `json:"resultsEvaluated"`
	Aborted                bool   `json:"aborted"`
	HighestScore           *int   `json:"highestScore"`
	ActualOutcomes         []bool `json:"actualOutcomes"`
}

// SnapshotFromRoundData maps contract fields, turning unset values into nil
func SnapshotFromRoundData(rd *chain.RoundData) Snapshot {
	s := Snapshot{
		RoundID:                rd.RoundID,
		StartSnapshotSubmitted: rd.StartSnapshotSubmitted,
		EndSnapshotSubmitted:   rd.EndSnapshotSubmitted,
		ResultsEvaluated:       rd.ResultsEvaluated,
		Aborted:                rd.Aborted,
	}
	if rd.StartTime > 0 {
		start := rd.StartTime
		s.StartTime = &start
	}
	if rd.ResultsEvaluated {
		score := int(rd.HighestScore)
		s.HighestScore = &score
		s.ActualOutcomes = append([]bool(nil), rd.ActualOutcomes...)
	}
	return s
}

// StatusText is the short round status shown next to player tickets
func StatusText(s Snapshot) string {
	switch {
	case s.Aborted:
		return "ABORTED"
	case s.ResultsEvaluated:
		return "Results Evaluated"
	case s.EndSnapshotSubmitted:
		return "End Snapshot Submitted"
	case s.StartSnapshotSubmitted:
		return "Active"
	default:
		return "Not Started"
	}
}
