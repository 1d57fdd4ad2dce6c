package gamestats

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/pricefeed"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// BurnCycleDivisor splits the original supply into 5% burn cycles
const BurnCycleDivisor = 20

// Reader is the part of the game contract the collector reads
type Reader interface {
	PrizePoolJANS(ctx context.Context) (*big.Int, error)
	TotalJansBurnedInGame(ctx context.Context) (*big.Int, error)
	ContractLpTokenBalance(ctx context.Context) (*big.Int, error)
	GameLPToken(ctx context.Context) (common.Address, error)
	AccumulatedLpFormingFunds(ctx context.Context) (*chain.LpFormingFunds, error)
}

// SupplyReader reads ERC20 total supply
type SupplyReader interface {
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
}

// LPPricer values one LP token in USD
type LPPricer interface {
	LPTokenPriceUSD(ctx context.Context, pair common.Address, prices pricefeed.PriceContext) *float64
}

// BurnStats summarises JANS burned by the game
type BurnStats struct {
	CurrentSupply  *big.Int `json:"currentSupply"`
	Burned         *big.Int `json:"burned"`
	OriginalSupply *big.Int `json:"originalSupply"`
	// PercentOfSupply is burned relative to the current supply
	PercentOfSupply *float64 `json:"percentOfSupply"`
	// PercentOfOriginal is burned relative to supply before any burn
	PercentOfOriginal *float64 `json:"percentOfOriginal"`
	Cycle             *uint64  `json:"cycle"`
}

// Stats is one read of the game's pools and derived USD values
type Stats struct {
	PrizePoolJANS  *big.Int              `json:"prizePoolJans"`
	LPTokenBalance *big.Int              `json:"lpTokenBalance"`
	GameLPToken    common.Address        `json:"gameLpToken"`
	LpFormingFunds *chain.LpFormingFunds `json:"lpFormingFunds"`
	Burn           BurnStats             `json:"burn"`

	TokenUSD     *float64 `json:"tokenUsd"`
	LPTokenUSD   *float64 `json:"lpTokenUsd"`
	PrizePoolUSD *float64 `json:"prizePoolUsd"`
	BurnedUSD    *float64 `json:"burnedUsd"`
	LPBalanceUSD *float64 `json:"lpBalanceUsd"`
}

// Collector reads game statistics
type Collector struct {
	game     Reader
	supply   SupplyReader
	lpPricer LPPricer
	token    common.Address
	tokenDec int32
	lpDec    int32
}

// NewCollector creates a collector for the JANS token at token
func NewCollector(game Reader, supply SupplyReader, lpPricer LPPricer, token common.Address, tokenDecimals, lpDecimals int) *Collector {
	return &Collector{
		game:     game,
		supply:   supply,
		lpPricer: lpPricer,
		token:    token,
		tokenDec: int32(tokenDecimals),
		lpDec:    int32(lpDecimals),
	}
}

// Collect reads all pools concurrently; any read failure fails the whole collection
func (c *Collector) Collect(ctx context.Context, prices pricefeed.PriceContext) (*Stats, error) {
	var (
		prize, burned, lpBalance, supply *big.Int
		lpToken                          common.Address
		funds                            *chain.LpFormingFunds
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if prize, err = c.game.PrizePoolJANS(gctx); err != nil {
			return fmt.Errorf("read prize pool: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if burned, err = c.game.TotalJansBurnedInGame(gctx); err != nil {
			return fmt.Errorf("read burned total: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if lpBalance, err = c.game.ContractLpTokenBalance(gctx); err != nil {
			return fmt.Errorf("read LP balance: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if lpToken, err = c.game.GameLPToken(gctx); err != nil {
			return fmt.Errorf("read game LP token: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if funds, err = c.game.AccumulatedLpFormingFunds(gctx); err != nil {
			return fmt.Errorf("read LP forming funds: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if supply, err = c.supply.TotalSupply(gctx, c.token); err != nil {
			return fmt.Errorf("read JANS total supply: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &Stats{
		PrizePoolJANS:  prize,
		LPTokenBalance: lpBalance,
		GameLPToken:    lpToken,
		LpFormingFunds: funds,
		Burn:           ComputeBurnStats(burned, supply),
		TokenUSD:       pricefeed.DerivedTokenUSD(prices),
	}

	if stats.TokenUSD != nil {
		stats.PrizePoolUSD = c.usd(prize, c.tokenDec, *stats.TokenUSD)
		stats.BurnedUSD = c.usd(burned, c.tokenDec, *stats.TokenUSD)
	}

	if lpBalance.Sign() == 0 {
		zero := 0.0
		stats.LPBalanceUSD = &zero
	} else if lpToken != (common.Address{}) {
		stats.LPTokenUSD = c.lpPricer.LPTokenPriceUSD(ctx, lpToken, prices)
		if stats.LPTokenUSD != nil {
			stats.LPBalanceUSD = c.usd(lpBalance, c.lpDec, *stats.LPTokenUSD)
		}
	}
	return stats, nil
}

func (c *Collector) usd(amount *big.Int, decimals int32, price float64) *float64 {
	v, _ := decimal.NewFromBigInt(amount, -decimals).Mul(decimal.NewFromFloat(price)).Float64()
	return &v
}

// ComputeBurnStats derives burn percentages and the current 5% burn cycle
func ComputeBurnStats(burned, currentSupply *big.Int) BurnStats {
	stats := BurnStats{CurrentSupply: currentSupply, Burned: burned}
	if burned == nil || currentSupply == nil {
		return stats
	}
	original := new(big.Int).Add(currentSupply, burned)
	stats.OriginalSupply = original

	burnedDec := decimal.NewFromBigInt(burned, 0)
	hundred := decimal.NewFromInt(100)
	if currentSupply.Sign() > 0 && burned.Sign() >= 0 {
		pct, _ := burnedDec.Div(decimal.NewFromBigInt(currentSupply, 0)).Mul(hundred).Float64()
		stats.PercentOfSupply = &pct
	}
	if original.Sign() > 0 {
		pct, _ := burnedDec.Div(decimal.NewFromBigInt(original, 0)).Mul(hundred).Float64()
		stats.PercentOfOriginal = &pct

		cycle := uint64(1)
		threshold := new(big.Int).Div(original, big.NewInt(BurnCycleDivisor))
		if threshold.Sign() > 0 {
			completed := new(big.Int).Div(burned, threshold)
			cycle = completed.Uint64() + 1
		}
		stats.Cycle = &cycle
	}
	return stats
}
