package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jansgame/roundwatch/internal/round"
)

// Severity represents alert severity
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityAlert Severity = "ALERT"
)

// Kind is the round lifecycle event being announced
type Kind string

const (
	KindRoundStarted   Kind = "round_started"
	KindPhaseChanged   Kind = "phase_changed"
	KindRoundEvaluated Kind = "round_evaluated"
	KindRoundAborted   Kind = "round_aborted"
)

// Notification describes one round lifecycle transition
type Notification struct {
	ID              string
	Kind            Kind
	Severity        Severity
	RoundID         uint64
	PreviousRoundID uint64
	FromPhase       round.Phase
	ToPhase         round.Phase
	HighestScore    *int
	ActualOutcomes  []bool
	TicketCount     int
	Timestamp       time.Time
	Environment     string
}

// Sender defines the interface for alert senders
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// Detect compares two consecutive derivations and returns the transitions
// worth announcing. The first observation and error states produce nothing.
func Detect(prev, cur *round.State, ticketCount int, environment string, now time.Time) []*Notification {
	if prev == nil || cur == nil ||
		prev.ContractPhase == round.PhaseError || cur.ContractPhase == round.PhaseError {
		return nil
	}

	base := func(kind Kind, severity Severity, from, to round.Phase) *Notification {
		return &Notification{
			ID:              uuid.NewString(),
			Kind:            kind,
			Severity:        severity,
			RoundID:         cur.Round.RoundID,
			PreviousRoundID: prev.Round.RoundID,
			FromPhase:       from,
			ToPhase:         to,
			HighestScore:    cur.Round.HighestScore,
			ActualOutcomes:  cur.Round.ActualOutcomes,
			TicketCount:     ticketCount,
			Timestamp:       now,
			Environment:     environment,
		}
	}

	if cur.Round.RoundID != prev.Round.RoundID {
		if cur.Round.RoundID == 0 {
			return nil
		}
		return []*Notification{base(KindRoundStarted, SeverityInfo, prev.ContractPhase, cur.ContractPhase)}
	}

	if cur.ContractPhase != prev.ContractPhase {
		switch cur.ContractPhase {
		case round.PhaseEvaluated:
			return []*Notification{base(KindRoundEvaluated, SeverityInfo, prev.ContractPhase, cur.ContractPhase)}
		case round.PhaseAborted:
			return []*Notification{base(KindRoundAborted, SeverityAlert, prev.ContractPhase, cur.ContractPhase)}
		default:
			return []*Notification{base(KindPhaseChanged, SeverityInfo, prev.ContractPhase, cur.ContractPhase)}
		}
	}

	// maintenance overlay switched on or off
	if cur.Phase != prev.Phase {
		return []*Notification{base(KindPhaseChanged, SeverityWarn, prev.Phase, cur.Phase)}
	}
	return nil
}

// Title is a one-line headline shared by every sender
func (n *Notification) Title() string {
	switch n.Kind {
	case KindRoundStarted:
		return fmt.Sprintf("Round %d started", n.RoundID)
	case KindRoundEvaluated:
		return fmt.Sprintf("Round %d evaluated", n.RoundID)
	case KindRoundAborted:
		return fmt.Sprintf("Round %d aborted", n.RoundID)
	default:
		return fmt.Sprintf("Round %d: %s -> %s", n.RoundID, n.FromPhase, n.ToPhase)
	}
}

// Details renders the notification body as "key: value" lines
func (n *Notification) Details() []string {
	lines := []string{
		fmt.Sprintf("Round: %d", n.RoundID),
		fmt.Sprintf("Phase: %s -> %s", n.FromPhase, n.ToPhase),
	}
	if n.Kind == KindRoundStarted && n.PreviousRoundID != 0 {
		lines = append(lines, fmt.Sprintf("Previous round: %d", n.PreviousRoundID))
	}
	if n.HighestScore != nil {
		lines = append(lines, fmt.Sprintf("Highest score: %d/10", *n.HighestScore))
	}
	if len(n.ActualOutcomes) > 0 {
		lines = append(lines, "Outcomes: "+outcomeArrows(n.ActualOutcomes))
	}
	if n.TicketCount > 0 {
		lines = append(lines, fmt.Sprintf("Tickets: %d", n.TicketCount))
	}
	return lines
}

func outcomeArrows(outcomes []bool) string {
	var b strings.Builder
	for _, up := range outcomes {
		if up {
			b.WriteString("↑")
		} else {
			b.WriteString("↓")
		}
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
