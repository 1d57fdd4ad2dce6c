package chain

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/jansgame/roundwatch/internal/metrics"
	"github.com/jansgame/roundwatch/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

//go:embed abi/game.json
var gameABIJSON string

//go:embed abi/dex.json
var dexABIJSON string

// ErrWrongNetwork is returned by the signing path when the node reports an unexpected chain id
var ErrWrongNetwork = errors.New("connected to wrong network")

// NotInitializedError is returned when handles are requested before Init has completed
type NotInitializedError struct {
	Handle string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("chain client not initialized: %s requested before Init", e.Handle)
}

// Provider is the read-only subset of ethclient.Client the service depends on
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// DialFunc opens a Provider for an RPC URL
type DialFunc func(ctx context.Context, rpcURL string) (Provider, error)

// DialEthclient dials a JSON-RPC endpoint with go-ethereum's ethclient
func DialEthclient(ctx context.Context, rpcURL string) (Provider, error) {
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return cli, nil
}

// Client holds the process-wide read connection and the game contract handle.
// Handles are built once by Init and memoized.
type Client struct {
	cfg     *config.Config
	dial    DialFunc
	limiter *ratelimit.Limiter
	log     *logrus.Logger

	mu       sync.RWMutex
	raw      Provider
	provider Provider
	game     *GameContract
	dex      *Dex
	chainID  *big.Int
}

// NewClient creates an uninitialized client. Init must be called before use.
func NewClient(cfg *config.Config, dial DialFunc, log *logrus.Logger) *Client {
	if dial == nil {
		dial = DialEthclient
	}
	return &Client{
		cfg:     cfg,
		dial:    dial,
		limiter: ratelimit.New(cfg.RPCRequestsPerSec, int(cfg.RPCRequestsPerSec)+1),
		log:     log,
	}
}

// Init dials the node, confirms the chain id and builds the contract handles.
// A chain id mismatch only warns: the read path keeps working against whatever node it got.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.game != nil {
		return nil
	}

	raw, err := c.dial(ctx, c.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.RPCURL, err)
	}
	provider := &instrumentedProvider{next: raw, limiter: c.limiter}

	chainID, err := provider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if chainID.Int64() != c.cfg.ExpectedChainID {
		c.log.WithFields(logrus.Fields{
			"connected_chain_id": chainID.String(),
			"expected_chain_id":  c.cfg.ExpectedChainID,
			"network":            c.cfg.NetworkName,
		}).Warn("Read-only provider connected to unexpected network")
	} else {
		c.log.WithFields(logrus.Fields{
			"chain_id": chainID.String(),
			"network":  c.cfg.NetworkName,
		}).Info("Read-only provider connected")
	}

	gameABI, err := loadGameABI(c.cfg.GameABIPath)
	if err != nil {
		return err
	}
	dexABI, err := ParseDexABI()
	if err != nil {
		return err
	}

	c.raw = raw
	c.provider = provider
	c.chainID = chainID
	c.game = &GameContract{
		address:     common.HexToAddress(c.cfg.GameContractAddress),
		abi:         gameABI,
		provider:    provider,
		abortFields: c.cfg.AbortFieldNames,
	}
	c.dex = &Dex{abi: dexABI, provider: provider}

	return nil
}

// Contract returns the memoized game contract handle
func (c *Client) Contract() (*GameContract, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.game == nil {
		return nil, &NotInitializedError{Handle: "contract"}
	}
	return c.game, nil
}

// Provider returns the memoized, rate-limited read provider
func (c *Client) Provider() (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.provider == nil {
		return nil, &NotInitializedError{Handle: "provider"}
	}
	return c.provider, nil
}

// Dex returns the memoized router/pair/ERC20 reader
func (c *Client) Dex() (*Dex, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dex == nil {
		return nil, &NotInitializedError{Handle: "dex"}
	}
	return c.dex, nil
}

// Backend returns the unwrapped connection, used by the signing path to send transactions
func (c *Client) Backend() (Provider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.raw == nil {
		return nil, &NotInitializedError{Handle: "backend"}
	}
	return c.raw, nil
}

// RequireChainID is the signing-path check: unlike Init it fails on a mismatch
func (c *Client) RequireChainID() (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.chainID == nil {
		return nil, &NotInitializedError{Handle: "chain id"}
	}
	if c.chainID.Int64() != c.cfg.ExpectedChainID {
		return nil, fmt.Errorf("%w: node reports chain %s, expected %d (%s)",
			ErrWrongNetwork, c.chainID, c.cfg.ExpectedChainID, c.cfg.NetworkName)
	}
	return new(big.Int).Set(c.chainID), nil
}

// ParseGameABI parses the embedded game contract ABI
func ParseGameABI() (abi.ABI, error) {
	return loadGameABI("")
}

// ParseDexABI parses the embedded router/pair/ERC20 ABI
func ParseDexABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(dexABIJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse dex ABI: %w", err)
	}
	return parsed, nil
}

func loadGameABI(path string) (abi.ABI, error) {
	source := gameABIJSON
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, fmt.Errorf("read game ABI %s: %w", path, err)
		}
		source = string(b)
	}
	parsed, err := abi.JSON(strings.NewReader(source))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse game ABI: %w", err)
	}
	return parsed, nil
}

// instrumentedProvider rate-limits every call and records RPC metrics
type instrumentedProvider struct {
	next    Provider
	limiter *ratelimit.Limiter
}

func (p *instrumentedProvider) do(ctx context.Context, method string, fn func() error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	start := time.Now()
	err := fn()
	metrics.RecordRPC(method, time.Since(start), err)
	return err
}

func (p *instrumentedProvider) ChainID(ctx context.Context) (id *big.Int, err error) {
	err = p.do(ctx, "eth_chainId", func() error {
		id, err = p.next.ChainID(ctx)
		return err
	})
	return id, err
}

func (p *instrumentedProvider) BlockNumber(ctx context.Context) (n uint64, err error) {
	err = p.do(ctx, "eth_blockNumber", func() error {
		n, err = p.next.BlockNumber(ctx)
		return err
	})
	return n, err
}

func (p *instrumentedProvider) HeaderByNumber(ctx context.Context, number *big.Int) (h *types.Header, err error) {
	err = p.do(ctx, "eth_getBlockByNumber", func() error {
		h, err = p.next.HeaderByNumber(ctx, number)
		return err
	})
	return h, err
}

func (p *instrumentedProvider) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) (out []byte, err error) {
	err = p.do(ctx, "eth_call", func() error {
		out, err = p.next.CallContract(ctx, call, blockNumber)
		return err
	})
	return out, err
}

func (p *instrumentedProvider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) (logs []types.Log, err error) {
	err = p.do(ctx, "eth_getLogs", func() error {
		logs, err = p.next.FilterLogs(ctx, q)
		return err
	})
	return logs, err
}
