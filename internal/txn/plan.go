package txn

import (
	"fmt"
	"math/big"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/shopspring/decimal"
)

const (
	// MaxBulkTickets is the most tickets one buyMultipleTickets call may carry
	MaxBulkTickets = 3
	// SwapShareBps is the part of the ticket value the contract swaps into JANS
	SwapShareBps = 7940
	// DefaultSlippageBps applies to the swap inside a ticket purchase
	DefaultSlippageBps = 50
	// PurchaseDeadline is how long a submitted purchase stays valid
	PurchaseDeadline = 20 * time.Minute

	BaseTicketGas     uint64 = 1_500_000
	PerBulkTicketGas  uint64 = 300_000
	FormLPGas         uint64 = 1_200_000
	ClaimLpRewardGas  uint64 = 500_000
	DefaultLPSlippage        = 5 // percent

	bpsDenominator = 10_000
)

var minSwapOutputFloor = big.NewInt(1)

// Picks is one ticket's up/down predictions, one per pool
type Picks [chain.PredictionCount]bool

// PurchaseRequest describes a ticket purchase before swap bounds are computed
type PurchaseRequest struct {
	TicketPrice *big.Int
	Count       int
	// Bulk sends buyMultipleTickets. Bulk purchases with no Predictions get random picks.
	Bulk        bool
	Predictions [][]bool
	// TokenPerNative is the router quote; nil falls back to the minimum swap output
	TokenPerNative *float64
	SlippageBps    int64
	NativeDecimals int
	TokenDecimals  int
	Now            time.Time
}

// PurchasePlan is everything needed to submit a purchase
type PurchasePlan struct {
	Bulk          bool
	Predictions   []Picks
	Value         *big.Int
	SwapAmount    *big.Int
	ExpectedOut   *big.Int
	MinSwapOutput *big.Int
	Deadline      *big.Int
	GasLimit      uint64
}

// NewPurchasePlan validates a request and computes value, minimum swap
// output, deadline and gas limit
func NewPurchasePlan(req PurchaseRequest) (*PurchasePlan, error) {
	if req.TicketPrice == nil || req.TicketPrice.Sign() <= 0 {
		return nil, ErrSalesClosed
	}
	if req.Count < 1 || (!req.Bulk && req.Count != 1) || req.Count > MaxBulkTickets {
		return nil, fmt.Errorf("%w: %d (1-%d)", ErrInvalidQuantity, req.Count, MaxBulkTickets)
	}

	picks, err := planPicks(req)
	if err != nil {
		return nil, err
	}

	value := new(big.Int).Mul(req.TicketPrice, big.NewInt(int64(req.Count)))
	swap := new(big.Int).Mul(value, big.NewInt(SwapShareBps))
	swap.Quo(swap, big.NewInt(bpsDenominator))

	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = DefaultSlippageBps
	}
	expected, minOut := MinSwapOutput(swap, req.TokenPerNative, slippage, req.NativeDecimals, req.TokenDecimals)

	gas := BaseTicketGas
	if req.Bulk && req.Count > 1 {
		gas += PerBulkTicketGas * uint64(req.Count)
	}

	return &PurchasePlan{
		Bulk:          req.Bulk,
		Predictions:   picks,
		Value:         value,
		SwapAmount:    swap,
		ExpectedOut:   expected,
		MinSwapOutput: minOut,
		Deadline:      big.NewInt(req.Now.Add(PurchaseDeadline).Unix()),
		GasLimit:      gas,
	}, nil
}

// MinSwapOutput returns the expected JANS out of swapping swapWei at the
// quoted rate and the slippage-bounded minimum, floored at 1 wei. A zero
// swap needs no minimum.
func MinSwapOutput(swapWei *big.Int, tokenPerNative *float64, slippageBps int64, nativeDecimals, tokenDecimals int) (expected, minOut *big.Int) {
	if swapWei.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if tokenPerNative == nil || *tokenPerNative <= 0 {
		return nil, new(big.Int).Set(minSwapOutputFloor)
	}
	expected = decimal.NewFromBigInt(swapWei, -int32(nativeDecimals)).
		Mul(decimal.NewFromFloat(*tokenPerNative)).
		Shift(int32(tokenDecimals)).
		Truncate(0).
		BigInt()

	minOut = new(big.Int).Mul(expected, big.NewInt(bpsDenominator-slippageBps))
	minOut.Quo(minOut, big.NewInt(bpsDenominator))
	if minOut.Cmp(minSwapOutputFloor) < 0 {
		minOut.Set(minSwapOutputFloor)
	}
	return expected, minOut
}

func planPicks(req PurchaseRequest) ([]Picks, error) {
	if len(req.Predictions) == 0 {
		if !req.Bulk {
			return nil, ErrInvalidPicks
		}
		return RandomPicks(req.Count, func() bool { return rand.IntN(2) == 1 }), nil
	}
	if len(req.Predictions) != req.Count {
		return nil, fmt.Errorf("%w: got %d prediction sets for %d tickets", ErrInvalidPicks, len(req.Predictions), req.Count)
	}
	out := make([]Picks, len(req.Predictions))
	for i, p := range req.Predictions {
		if len(p) != chain.PredictionCount {
			return nil, fmt.Errorf("%w: ticket %d has %d predictions, want %d", ErrInvalidPicks, i+1, len(p), chain.PredictionCount)
		}
		copy(out[i][:], p)
	}
	return out, nil
}

// RandomPicks draws n prediction sets from coin
func RandomPicks(n int, coin func() bool) []Picks {
	out := make([]Picks, n)
	for i := range out {
		for j := range out[i] {
			out[i][j] = coin()
		}
	}
	return out
}

// LPMinimums applies the LP slippage percentage to both accumulated sides
func LPMinimums(funds *chain.LpFormingFunds, slippagePct int64) (minToken, minNative *big.Int, err error) {
	if funds == nil || funds.NativeForLP == nil || funds.TokenForLP == nil ||
		funds.NativeForLP.Sign() <= 0 || funds.TokenForLP.Sign() <= 0 {
		return nil, nil, ErrNoLPFunds
	}
	if slippagePct <= 0 || slippagePct >= 100 {
		slippagePct = DefaultLPSlippage
	}
	keep := big.NewInt(100 - slippagePct)
	minToken = new(big.Int).Mul(funds.TokenForLP, keep)
	minToken.Quo(minToken, big.NewInt(100))
	minNative = new(big.Int).Mul(funds.NativeForLP, keep)
	minNative.Quo(minNative, big.NewInt(100))
	return minToken, minNative, nil
}

// ParsePicks reads one prediction set written as one U/D (or 1/0) per pool
func ParsePicks(s string) ([]bool, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != chain.PredictionCount {
		return nil, fmt.Errorf("%w: %q has %d picks, want %d", ErrInvalidPicks, s, len(s), chain.PredictionCount)
	}
	picks := make([]bool, len(s))
	for i, c := range s {
		switch c {
		case 'U', '1':
			picks[i] = true
		case 'D', '0':
		default:
			return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrInvalidPicks, c, i+1)
		}
	}
	return picks, nil
}
