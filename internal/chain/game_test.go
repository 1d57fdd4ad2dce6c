package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/chain/chaintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcomes(bits ...int) [10]bool {
	var out [10]bool
	for _, b := range bits {
		out[b] = true
	}
	return out
}

func setRound(p *chaintest.Provider, id, start int64, startSnap, endSnap, evaluated, aborted bool, score uint8) {
	p.Set("roundsData",
		big.NewInt(id), big.NewInt(start), big.NewInt(0),
		startSnap, endSnap, evaluated, aborted,
		score, outcomes(0, 3, 9),
	)
}

func initGame(t *testing.T, p *chaintest.Provider, abortFields ...string) *chain.GameContract {
	t.Helper()
	cfg := testConfig()
	if len(abortFields) > 0 {
		cfg.AbortFieldNames = abortFields
	}
	c, _ := newClient(t, cfg, p)
	require.NoError(t, c.Init(context.Background()))
	g, err := c.Contract()
	require.NoError(t, err)
	return g
}

func TestRoundData(t *testing.T) {
	p := chaintest.New()
	setRound(p, 7, 1_700_000_000, true, true, true, false, 9)
	g := initGame(t, p)

	rd, err := g.RoundData(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), rd.RoundID)
	assert.Equal(t, int64(1_700_000_000), rd.StartTime)
	assert.True(t, rd.StartSnapshotSubmitted)
	assert.True(t, rd.EndSnapshotSubmitted)
	assert.True(t, rd.ResultsEvaluated)
	assert.False(t, rd.Aborted)
	assert.Equal(t, uint8(9), rd.HighestScore)
	assert.Equal(t, []bool{true, false, false, true, false, false, false, false, false, true}, rd.ActualOutcomes)
}

func TestRoundDataAbortFieldResolution(t *testing.T) {
	t.Run("first present candidate wins", func(t *testing.T) {
		p := chaintest.New()
		setRound(p, 3, 0, false, false, false, true, 0)
		g := initGame(t, p, "aborted", "isAborted")

		rd, err := g.RoundData(context.Background(), 3)
		require.NoError(t, err)
		assert.True(t, rd.Aborted)
	})

	t.Run("no candidate present", func(t *testing.T) {
		p := chaintest.New()
		setRound(p, 3, 0, false, false, false, true, 0)
		g := initGame(t, p, "cancelled")

		_, err := g.RoundData(context.Background(), 3)
		assert.ErrorContains(t, err, "abort fields")
	})
}

func TestScalarReads(t *testing.T) {
	p := chaintest.New()
	p.Set("currentRoundId", big.NewInt(12))
	p.Set("ticketSalesDurationSeconds", big.NewInt(86400))
	p.Set("getCurrentTicketPriceNative", big.NewInt(5e18))
	p.Set("GAME_LP_TOKEN", jans)
	p.Set("currentLpDistributionId", big.NewInt(4))
	p.Set("hasClaimedLpReward", true)
	p.HeadTime = 1_700_000_123
	g := initGame(t, p)
	ctx := context.Background()

	id, err := g.CurrentRoundID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), id)

	dur, err := g.TicketSalesDurationSeconds(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(86400), dur)

	price, err := g.CurrentTicketPriceNative(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5e18), price)

	lp, err := g.GameLPToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, jans, lp)

	distID, err := g.CurrentLpDistributionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), distID)

	claimed, err := g.HasClaimedLpReward(ctx, 4, wtara)
	require.NoError(t, err)
	assert.True(t, claimed)

	now, err := g.LatestBlockTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_123), now)
}

func TestTupleReads(t *testing.T) {
	p := chaintest.New()
	p.Set("getAccumulatedLpFormingFunds", big.NewInt(10), big.NewInt(20), big.NewInt(30))
	p.Set("distributionSnapshots", big.NewInt(1000), big.NewInt(50), big.NewInt(1_700_000_000), true)
	p.Set("getTicketById", big.NewInt(2), wtara, big.NewInt(1_700_000_500), big.NewInt(5e18), big.NewInt(100), uint8(8), outcomes(1, 2))
	p.Set("getPlayerTicketIdsForRound", []*big.Int{big.NewInt(11), big.NewInt(14)})
	g := initGame(t, p)
	ctx := context.Background()

	funds, err := g.AccumulatedLpFormingFunds(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), funds.NativeForLP)
	assert.Equal(t, big.NewInt(20), funds.TokenForLP)
	assert.Equal(t, big.NewInt(30), funds.NativeForReward)

	snap, err := g.DistributionSnapshot(ctx, 1)
	require.NoError(t, err)
	assert.True(t, snap.Finalized)
	assert.Equal(t, int64(1_700_000_000), snap.SnapshotTime)

	ticket, err := g.TicketByID(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), ticket.ID)
	assert.Equal(t, uint64(2), ticket.RoundID)
	assert.Equal(t, wtara, ticket.Player)
	assert.Equal(t, uint8(8), ticket.Score)
	assert.Len(t, ticket.Picks, chain.PredictionCount)
	assert.True(t, ticket.Picks[1])

	ids, err := g.PlayerTicketIDsForRound(ctx, 2, wtara)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 14}, ids)
}

func TestReadErrorsAreWrapped(t *testing.T) {
	p := chaintest.New()
	p.Fail("currentRoundId", errors.New("timeout"))
	g := initGame(t, p)

	_, err := g.CurrentRoundID(context.Background())
	assert.ErrorContains(t, err, "call currentRoundId")
	assert.ErrorContains(t, err, "timeout")
}

func TestTicketPurchasedRoundTrip(t *testing.T) {
	p := chaintest.New()
	g := initGame(t, p)
	player := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := common.HexToHash("0x01")

	l := chaintest.PurchaseLog(g.ABI(), 5, player, 42, big.NewInt(3e18), tx, 900, 2)
	ev, err := g.ParseTicketPurchased(l)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), ev.RoundID)
	assert.Equal(t, player, ev.Player)
	assert.Equal(t, uint64(42), ev.TicketID)
	assert.Equal(t, big.NewInt(3e18), ev.AmountPaidNative)
	assert.Equal(t, uint64(900), ev.BlockNumber)

	q := g.TicketPurchasedQuery(5, 100, 200)
	assert.Equal(t, []common.Address{gameAddr}, q.Addresses)
	assert.Equal(t, l.Topics[0], q.Topics[0][0])
	assert.Equal(t, l.Topics[1], q.Topics[1][0])

	l.Topics = l.Topics[:1]
	_, err = g.ParseTicketPurchased(l)
	assert.Error(t, err)
}

func TestDexReads(t *testing.T) {
	p := chaintest.New()
	pair := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	p.Set("getReserves", big.NewInt(1000), big.NewInt(2000), uint32(1_700_000_000))
	p.Set("token0", wtara)
	p.Set("token1", jans)
	p.SetAt(pair, "totalSupply", big.NewInt(500))
	p.SetAt(jans, "totalSupply", big.NewInt(9_000_000))
	p.Set("getAmountsOut", []*big.Int{big.NewInt(1e18), big.NewInt(250)})

	c, _ := newClient(t, testConfig(), p)
	require.NoError(t, c.Init(context.Background()))
	dex, err := c.Dex()
	require.NoError(t, err)
	ctx := context.Background()

	state, err := dex.Reserves(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, wtara, state.Token0)
	assert.Equal(t, jans, state.Token1)
	assert.Equal(t, big.NewInt(1000), state.Reserve0)
	assert.Equal(t, big.NewInt(2000), state.Reserve1)
	assert.Equal(t, big.NewInt(500), state.TotalSupply)

	supply, err := dex.TotalSupply(ctx, jans)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9_000_000), supply)

	amounts, err := dex.AmountsOut(ctx, routerAddr, big.NewInt(1e18), []common.Address{wtara, jans})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(250), amounts[1])
}
