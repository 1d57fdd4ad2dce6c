package gamestats

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/chain/chaintest"
	"github.com/jansgame/roundwatch/internal/pricefeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jans    = common.HexToAddress("0xA52fc8BD9b64cb971cCa78b558de8DE8615c9a28")
	lpToken = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

type fixedLPPrice struct {
	price *float64
	calls int
}

func (f *fixedLPPrice) LPTokenPriceUSD(ctx context.Context, pair common.Address, prices pricefeed.PriceContext) *float64 {
	f.calls++
	return f.price
}

func f64(v float64) *float64 { return &v }

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func newCollector(t *testing.T, p *chaintest.Provider, lp LPPricer) *Collector {
	t.Helper()
	gameABI, err := chain.ParseGameABI()
	require.NoError(t, err)
	dexABI, err := chain.ParseDexABI()
	require.NoError(t, err)
	game := chain.NewGameContract(common.HexToAddress("0x7964861254d0e3Dd30f732DB49052198A9b90eae"), gameABI, p, []string{"isAborted"})
	return NewCollector(game, chain.NewDex(dexABI, p), lp, jans, 18, 18)
}

func scriptPools(p *chaintest.Provider) {
	p.Set("prizePoolJANS", tokens(1000))
	p.Set("totalJansBurnedInGame", tokens(50))
	p.Set("getContractLpTokenBalance", tokens(2))
	p.Set("GAME_LP_TOKEN", lpToken)
	p.Set("getAccumulatedLpFormingFunds", tokens(3), tokens(4), tokens(1))
	p.SetAt(jans, "totalSupply", tokens(950))
}

func TestCollect(t *testing.T) {
	p := chaintest.New()
	scriptPools(p)
	lp := &fixedLPPrice{price: f64(1.5)}
	c := newCollector(t, p, lp)

	prices := pricefeed.PriceContext{NativeUSDPrice: f64(0.02), TokenPerNativeRate: f64(10)}
	stats, err := c.Collect(context.Background(), prices)
	require.NoError(t, err)

	assert.Equal(t, tokens(1000), stats.PrizePoolJANS)
	assert.Equal(t, lpToken, stats.GameLPToken)
	assert.Equal(t, tokens(4), stats.LpFormingFunds.TokenForLP)

	require.NotNil(t, stats.TokenUSD)
	assert.InDelta(t, 0.002, *stats.TokenUSD, 1e-12)
	require.NotNil(t, stats.PrizePoolUSD)
	assert.InDelta(t, 2.0, *stats.PrizePoolUSD, 1e-9)
	require.NotNil(t, stats.BurnedUSD)
	assert.InDelta(t, 0.1, *stats.BurnedUSD, 1e-9)
	require.NotNil(t, stats.LPBalanceUSD)
	assert.InDelta(t, 3.0, *stats.LPBalanceUSD, 1e-9)

	require.NotNil(t, stats.Burn.Cycle)
	assert.Equal(t, uint64(2), *stats.Burn.Cycle)
}

func TestCollectWithoutPrices(t *testing.T) {
	p := chaintest.New()
	scriptPools(p)
	lp := &fixedLPPrice{}
	c := newCollector(t, p, lp)

	stats, err := c.Collect(context.Background(), pricefeed.PriceContext{})
	require.NoError(t, err)
	assert.Nil(t, stats.TokenUSD)
	assert.Nil(t, stats.PrizePoolUSD)
	assert.Nil(t, stats.BurnedUSD)
	assert.Nil(t, stats.LPBalanceUSD)
}

func TestCollectZeroRateGivesZeroUSD(t *testing.T) {
	p := chaintest.New()
	scriptPools(p)
	c := newCollector(t, p, &fixedLPPrice{})

	stats, err := c.Collect(context.Background(), pricefeed.PriceContext{NativeUSDPrice: f64(0.02), TokenPerNativeRate: f64(0)})
	require.NoError(t, err)
	require.NotNil(t, stats.PrizePoolUSD)
	assert.Equal(t, 0.0, *stats.PrizePoolUSD)
}

func TestCollectEmptyLPBalanceSkipsPricing(t *testing.T) {
	p := chaintest.New()
	scriptPools(p)
	p.Set("getContractLpTokenBalance", big.NewInt(0))
	lp := &fixedLPPrice{price: f64(9)}
	c := newCollector(t, p, lp)

	stats, err := c.Collect(context.Background(), pricefeed.PriceContext{})
	require.NoError(t, err)
	require.NotNil(t, stats.LPBalanceUSD)
	assert.Equal(t, 0.0, *stats.LPBalanceUSD)
	assert.Zero(t, lp.calls)
}

func TestCollectFailsOnReadError(t *testing.T) {
	p := chaintest.New()
	scriptPools(p)
	p.Fail("totalJansBurnedInGame", errors.New("rpc timeout"))
	c := newCollector(t, p, &fixedLPPrice{})

	_, err := c.Collect(context.Background(), pricefeed.PriceContext{})
	assert.ErrorContains(t, err, "read burned total")
}

func TestComputeBurnStats(t *testing.T) {
	t.Run("first cycle", func(t *testing.T) {
		s := ComputeBurnStats(tokens(40), tokens(960))
		assert.Equal(t, tokens(1000), s.OriginalSupply)
		require.NotNil(t, s.PercentOfOriginal)
		assert.InDelta(t, 4.0, *s.PercentOfOriginal, 1e-9)
		require.NotNil(t, s.PercentOfSupply)
		assert.InDelta(t, 4.1666666667, *s.PercentOfSupply, 1e-6)
		assert.Equal(t, uint64(1), *s.Cycle)
	})

	t.Run("exactly five percent starts cycle two", func(t *testing.T) {
		s := ComputeBurnStats(tokens(50), tokens(950))
		assert.Equal(t, uint64(2), *s.Cycle)
	})

	t.Run("nothing burned", func(t *testing.T) {
		s := ComputeBurnStats(big.NewInt(0), tokens(1000))
		assert.Equal(t, 0.0, *s.PercentOfSupply)
		assert.Equal(t, uint64(1), *s.Cycle)
	})

	t.Run("tiny supply has no threshold", func(t *testing.T) {
		s := ComputeBurnStats(big.NewInt(1), big.NewInt(5))
		assert.Equal(t, uint64(1), *s.Cycle)
	})

	t.Run("empty supply", func(t *testing.T) {
		s := ComputeBurnStats(big.NewInt(0), big.NewInt(0))
		assert.Nil(t, s.PercentOfSupply)
		assert.Nil(t, s.PercentOfOriginal)
		assert.Nil(t, s.Cycle)
	})
}
