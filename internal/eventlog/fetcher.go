package eventlog

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrBatchFailed wraps the first failing eth_getLogs batch of a fetch
var ErrBatchFailed = errors.New("log batch failed")

// TicketPurchaseEvent is one ticket bought in the current round. (TxHash, TicketID) is unique.
type TicketPurchaseEvent struct {
	Player           common.Address `json:"player"`
	TicketID         uint64         `json:"ticketId"`
	TimestampSeconds int64          `json:"timestamp"`
	TxHash           string         `json:"txHash"`
	BlockNumber      uint64         `json:"blockNumber"`
	AmountPaidNative *big.Int       `json:"amountPaidNative,omitempty"`
}

type eventKey struct {
	txHash   string
	ticketID uint64
}

func (e TicketPurchaseEvent) key() eventKey {
	return eventKey{txHash: e.TxHash, ticketID: e.TicketID}
}

// Fetcher scans TicketPurchased logs in fixed-size block batches
type Fetcher struct {
	provider    chain.Provider
	game        *chain.GameContract
	batchSize   uint64
	concurrency int
	blockTimes  *expirable.LRU[uint64, int64]
	log         *logrus.Logger
}

// NewFetcher creates a fetcher. Block timestamps are cached for an hour.
func NewFetcher(provider chain.Provider, game *chain.GameContract, batchSize uint64, concurrency, cacheSize int, log *logrus.Logger) *Fetcher {
	if batchSize == 0 {
		batchSize = 1000
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{
		provider:    provider,
		game:        game,
		batchSize:   batchSize,
		concurrency: concurrency,
		blockTimes:  expirable.NewLRU[uint64, int64](cacheSize, nil, time.Hour),
		log:         log,
	}
}

// HeadBlock returns the latest block number
func (f *Fetcher) HeadBlock(ctx context.Context) (uint64, error) {
	n, err := f.provider.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("read head block: %w", err)
	}
	return n, nil
}

type blockRange struct {
	from, to uint64
}

func splitRange(from, to, size uint64) []blockRange {
	var out []blockRange
	for start := from; start <= to; start += size {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		out = append(out, blockRange{from: start, to: end})
		if end == to {
			break
		}
	}
	return out
}

// FetchNewPurchaseEvents returns the round's purchases in [from, to], ordered by
// block and log index. If any batch fails nothing is returned.
func (f *Fetcher) FetchNewPurchaseEvents(ctx context.Context, roundID, from, to uint64) ([]TicketPurchaseEvent, error) {
	if from > to {
		return nil, nil
	}
	batches := splitRange(from, to, f.batchSize)
	results := make([][]TicketPurchaseEvent, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			events, err := f.fetchBatch(gctx, roundID, b)
			metrics.RecordLogBatch(err)
			if err != nil {
				return fmt.Errorf("%w: blocks %d-%d: %w", ErrBatchFailed, b.from, b.to, err)
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []TicketPurchaseEvent
	for _, events := range results {
		all = append(all, events...)
	}

	f.log.WithFields(logrus.Fields{
		"round_id":   roundID,
		"from_block": from,
		"to_block":   to,
		"batches":    len(batches),
		"events":     len(all),
	}).Debug("Fetched ticket purchase logs")

	return all, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, roundID uint64, b blockRange) ([]TicketPurchaseEvent, error) {
	logs, err := f.provider.FilterLogs(ctx, f.game.TicketPurchasedQuery(roundID, b.from, b.to))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	events := make([]TicketPurchaseEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		parsed, err := f.game.ParseTicketPurchased(l)
		if err != nil {
			return nil, err
		}
		if parsed.RoundID != roundID {
			continue
		}
		ts, err := f.blockTime(ctx, l.BlockNumber)
		if err != nil {
			return nil, err
		}
		events = append(events, TicketPurchaseEvent{
			Player:           parsed.Player,
			TicketID:         parsed.TicketID,
			TimestampSeconds: ts,
			TxHash:           parsed.TxHash.Hex(),
			BlockNumber:      parsed.BlockNumber,
			AmountPaidNative: parsed.AmountPaidNative,
		})
	}
	return events, nil
}

func (f *Fetcher) blockTime(ctx context.Context, number uint64) (int64, error) {
	if ts, ok := f.blockTimes.Get(number); ok {
		return ts, nil
	}
	header, err := f.provider.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("read block %d header: %w", number, err)
	}
	ts := int64(header.Time)
	f.blockTimes.Add(number, ts)
	return ts, nil
}
