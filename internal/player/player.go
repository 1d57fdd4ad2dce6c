package player

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/round"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// MinWinningScore is the lowest highest-score that pays out
	MinWinningScore = 8
	// MaxWinnerScan caps how many ticket ids are inspected per round
	MaxWinnerScan = 200

	ticketFetchConcurrency = 8
)

// Reader is the part of the game contract used for player lookups
type Reader interface {
	RoundData(ctx context.Context, roundID uint64) (*chain.RoundData, error)
	PlayerTicketIDsForRound(ctx context.Context, roundID uint64, player common.Address) ([]uint64, error)
	AllTicketIDsForRound(ctx context.Context, roundID uint64) ([]uint64, error)
	TicketByID(ctx context.Context, ticketID uint64) (*chain.Ticket, error)
}

// RoundSummary describes a round from a player's point of view
type RoundSummary struct {
	RoundID        uint64 `json:"roundId"`
	Status         string `json:"status"`
	Evaluated      bool   `json:"evaluated"`
	HighestScore   *int   `json:"highestScore,omitempty"`
	ActualOutcomes []bool `json:"actualOutcomes,omitempty"`
}

// Winners lists the tickets that matched the round's highest score
type Winners struct {
	RoundID      uint64         `json:"roundId"`
	HighestScore int            `json:"highestScore"`
	Eligible     bool           `json:"eligible"`
	Scanned      int            `json:"scanned"`
	Truncated    bool           `json:"truncated"`
	Tickets      []chain.Ticket `json:"tickets"`
}

// Service answers ticket and winner queries
type Service struct {
	game Reader
	log  *logrus.Logger
}

// NewService creates a player service
func NewService(game Reader, log *logrus.Logger) *Service {
	return &Service{game: game, log: log}
}

// Tickets returns every ticket addr bought in a round, in id order
func (s *Service) Tickets(ctx context.Context, roundID uint64, addr common.Address) ([]chain.Ticket, error) {
	ids, err := s.game.PlayerTicketIDsForRound(ctx, roundID, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for %s: %w", addr.Hex(), err)
	}
	return s.fetchTickets(ctx, ids)
}

// RoundSummary reads the round's status, outcomes and highest score
func (s *Service) RoundSummary(ctx context.Context, roundID uint64) (*RoundSummary, error) {
	rd, err := s.game.RoundData(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to read round %d: %w", roundID, err)
	}
	snap := round.SnapshotFromRoundData(rd)
	return &RoundSummary{
		RoundID:        roundID,
		Status:         round.StatusText(snap),
		Evaluated:      snap.ResultsEvaluated,
		HighestScore:   snap.HighestScore,
		ActualOutcomes: snap.ActualOutcomes,
	}, nil
}

// Winners scans the first MaxWinnerScan tickets of an evaluated round for
// those scoring the highest score. Rounds that are not evaluated, or whose
// highest score is below MinWinningScore, have no winners.
func (s *Service) Winners(ctx context.Context, roundID uint64) (*Winners, error) {
	rd, err := s.game.RoundData(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to read round %d: %w", roundID, err)
	}
	out := &Winners{RoundID: roundID, HighestScore: int(rd.HighestScore), Tickets: []chain.Ticket{}}
	if !rd.ResultsEvaluated || rd.Aborted || rd.HighestScore < MinWinningScore {
		return out, nil
	}
	out.Eligible = true

	ids, err := s.game.AllTicketIDsForRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets for round %d: %w", roundID, err)
	}
	if len(ids) > MaxWinnerScan {
		s.log.WithFields(logrus.Fields{
			"round_id": roundID,
			"tickets":  len(ids),
			"scanned":  MaxWinnerScan,
		}).Warn("Round has more tickets than the winner scan covers")
		ids = ids[:MaxWinnerScan]
		out.Truncated = true
	}
	out.Scanned = len(ids)

	tickets, err := s.fetchTickets(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, t := range tickets {
		if t.Score == rd.HighestScore {
			out.Tickets = append(out.Tickets, t)
		}
	}
	return out, nil
}

func (s *Service) fetchTickets(ctx context.Context, ids []uint64) ([]chain.Ticket, error) {
	tickets := make([]chain.Ticket, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ticketFetchConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			t, err := s.game.TicketByID(gctx, id)
			if err != nil {
				return fmt.Errorf("failed to read ticket %d: %w", id, err)
			}
			tickets[i] = *t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tickets, nil
}
