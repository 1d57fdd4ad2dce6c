package chain_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/chain/chaintest"
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gameAddr   = common.HexToAddress("0x7964861254d0e3Dd30f732DB49052198A9b90eae")
	routerAddr = common.HexToAddress("0x329553E2706859Ab82636950c96A8dbbEb28f14A")
	wtara      = common.HexToAddress("0x5d0Fa4C5668E5809c83c95A7CeF3a9dd7C68d4fE")
	jans       = common.HexToAddress("0xA52fc8BD9b64cb971cCa78b558de8DE8615c9a28")
)

func testConfig() *config.Config {
	return &config.Config{
		RPCURL:              "http://node.invalid",
		ExpectedChainID:     841,
		NetworkName:         "Taraxa Mainnet",
		RPCRequestsPerSec:   1000,
		GameContractAddress: gameAddr.Hex(),
		AbortFieldNames:     []string{"isAborted", "aborted"},
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newClient(t *testing.T, cfg *config.Config, p *chaintest.Provider) (*chain.Client, *int) {
	t.Helper()
	dials := 0
	dial := func(ctx context.Context, url string) (chain.Provider, error) {
		dials++
		return p, nil
	}
	return chain.NewClient(cfg, dial, quietLogger()), &dials
}

func TestHandlesRequireInit(t *testing.T) {
	c, _ := newClient(t, testConfig(), chaintest.New())

	_, err := c.Contract()
	var notInit *chain.NotInitializedError
	require.ErrorAs(t, err, &notInit)
	assert.Equal(t, "contract", notInit.Handle)

	_, err = c.Provider()
	assert.ErrorAs(t, err, &notInit)
	_, err = c.Dex()
	assert.ErrorAs(t, err, &notInit)
	_, err = c.RequireChainID()
	assert.ErrorAs(t, err, &notInit)
}

func TestInitIsIdempotent(t *testing.T) {
	p := chaintest.New()
	c, dials := newClient(t, testConfig(), p)

	require.NoError(t, c.Init(context.Background()))
	first, err := c.Contract()
	require.NoError(t, err)

	require.NoError(t, c.Init(context.Background()))
	second, err := c.Contract()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, *dials)
	assert.Equal(t, 1, p.CallCount("eth_chainId"))
	assert.Equal(t, gameAddr, first.Address())
}

func TestInitToleratesWrongNetworkButSignerPathDoesNot(t *testing.T) {
	p := chaintest.New()
	p.ChainIDValue = 1
	c, _ := newClient(t, testConfig(), p)

	require.NoError(t, c.Init(context.Background()))

	_, err := c.RequireChainID()
	assert.ErrorIs(t, err, chain.ErrWrongNetwork)
}

func TestInitFailsWhenChainIDUnreadable(t *testing.T) {
	p := chaintest.New()
	p.Fail("eth_chainId", errors.New("connection refused"))
	c, _ := newClient(t, testConfig(), p)

	err := c.Init(context.Background())
	assert.Error(t, err)

	_, err = c.Contract()
	var notInit *chain.NotInitializedError
	assert.ErrorAs(t, err, &notInit)
}

func TestRequireChainIDReturnsCopy(t *testing.T) {
	c, _ := newClient(t, testConfig(), chaintest.New())
	require.NoError(t, c.Init(context.Background()))

	id, err := c.RequireChainID()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(841), id)
}
