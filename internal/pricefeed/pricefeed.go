package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/jansgame/roundwatch/internal/metrics"
	"github.com/jansgame/roundwatch/internal/ratelimit"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PriceContext is the per-cycle price input. Nil means unavailable; a zero
// rate is a real value and is kept distinct from nil.
type PriceContext struct {
	NativeUSDPrice     *float64 `json:"nativeUsdPrice"`
	TokenPerNativeRate *float64 `json:"tokenPerNativeRate"`
}

// TokenUSD is the derived JANS/USD price for this context
func (p PriceContext) TokenUSD() *float64 {
	return DerivedTokenUSD(p)
}

// DerivedTokenUSD divides the native USD price by the JANS-per-native rate
func DerivedTokenUSD(p PriceContext) *float64 {
	if p.NativeUSDPrice == nil || p.TokenPerNativeRate == nil {
		return nil
	}
	rate := *p.TokenPerNativeRate
	switch {
	case rate == 0:
		return ptr(0)
	case rate < 0:
		return nil
	}
	return ptr(*p.NativeUSDPrice / rate)
}

// DexSource hands out the router/pair reader once the chain client is up
type DexSource interface {
	Dex() (*chain.Dex, error)
}

// Feed aggregates the off-chain native price and the on-chain router quote
type Feed struct {
	url           string
	assetID       string
	router        common.Address
	wrappedNative common.Address
	token         common.Address
	nativeDec     int32
	tokenDec      int32
	lpDec         int32
	cacheTTL      time.Duration
	timeout       time.Duration

	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      Cache
	dex        DexSource
	log        *logrus.Logger
}

// New creates a price feed. cache may be nil.
func New(cfg *config.Config, dex DexSource, cache Cache, log *logrus.Logger) *Feed {
	return &Feed{
		url:           cfg.CoinGeckoURL,
		assetID:       cfg.CoinGeckoAssetID,
		router:        common.HexToAddress(cfg.RouterAddress),
		wrappedNative: common.HexToAddress(cfg.WrappedNativeAddress),
		token:         common.HexToAddress(cfg.TokenAddress),
		nativeDec:     int32(cfg.NativeDecimals),
		tokenDec:      int32(cfg.TokenDecimals),
		lpDec:         int32(cfg.LPTokenDecimals),
		cacheTTL:      cfg.PriceCacheTTL,
		timeout:       cfg.PriceTimeout,
		httpClient:    &http.Client{Timeout: cfg.PriceTimeout},
		// CoinGecko's public tier allows roughly 30 calls a minute
		limiter: ratelimit.New(0.5, 2),
		cache:   cache,
		dex:     dex,
		log:     log,
	}
}

// Snapshot fetches both feeds concurrently
func (f *Feed) Snapshot(ctx context.Context) PriceContext {
	var prices PriceContext
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prices.NativeUSDPrice = f.FetchNativeUSDPrice(gctx)
		return nil
	})
	g.Go(func() error {
		prices.TokenPerNativeRate = f.FetchTokenPerNativeRate(gctx)
		return nil
	})
	_ = g.Wait()
	return prices
}

type coinGeckoQuote struct {
	USD *float64 `json:"usd"`
}

func (f *Feed) cacheKey() string {
	return "prices:" + f.assetID + ":usd"
}

// FetchNativeUSDPrice returns TARA/USD, or nil when the feed is unavailable
func (f *Feed) FetchNativeUSDPrice(ctx context.Context) *float64 {
	if price := f.cachedPrice(ctx); price != nil {
		metrics.RecordPriceFetch("coingecko", "cache_hit")
		return price
	}

	price, err := f.fetchCoinGecko(ctx)
	if err != nil {
		metrics.RecordPriceFetch("coingecko", "unavailable")
		f.log.WithFields(logrus.Fields{
			"feed":  "coingecko",
			"asset": f.assetID,
			"error": err.Error(),
		}).Warn("Native USD price unavailable")
		return nil
	}
	metrics.RecordPriceFetch("coingecko", "success")

	if f.cache != nil && f.cacheTTL > 0 {
		val := strconv.FormatFloat(price, 'g', -1, 64)
		if err := f.cache.Set(ctx, f.cacheKey(), val, f.cacheTTL); err != nil {
			f.log.WithError(err).Debug("Price cache write failed")
		}
	}
	return &price
}

func (f *Feed) cachedPrice(ctx context.Context) *float64 {
	if f.cache == nil {
		return nil
	}
	val, ok, err := f.cache.Get(ctx, f.cacheKey())
	if err != nil {
		f.log.WithError(err).Debug("Price cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil || !validPrice(price) {
		return nil
	}
	return &price
}

// fetchCoinGecko bounds the limiter wait and the request by one timeout
func (f *Feed) fetchCoinGecko(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var quotes map[string]coinGeckoQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	quote, ok := quotes[f.assetID]
	if !ok || quote.USD == nil {
		return 0, fmt.Errorf("response has no usd price for %s", f.assetID)
	}
	if !validPrice(*quote.USD) {
		return 0, fmt.Errorf("invalid usd price %v", *quote.USD)
	}
	return *quote.USD, nil
}

// FetchTokenPerNativeRate quotes how much JANS one native token buys on the router
func (f *Feed) FetchTokenPerNativeRate(ctx context.Context) *float64 {
	rate, err := f.routerRate(ctx)
	if err != nil {
		metrics.RecordPriceFetch("router", "unavailable")
		f.log.WithFields(logrus.Fields{
			"feed":   "router",
			"router": f.router.Hex(),
			"error":  err.Error(),
		}).Warn("JANS per native rate unavailable")
		return nil
	}
	metrics.RecordPriceFetch("router", "success")
	return &rate
}

func (f *Feed) routerRate(ctx context.Context) (float64, error) {
	dex, err := f.dex.Dex()
	if err != nil {
		return 0, err
	}
	oneNative := decimal.New(1, f.nativeDec).BigInt()
	amounts, err := dex.AmountsOut(ctx, f.router, oneNative, []common.Address{f.wrappedNative, f.token})
	if err != nil {
		return 0, err
	}
	if len(amounts) < 2 {
		return 0, fmt.Errorf("router returned %d amounts", len(amounts))
	}
	rate, _ := decimal.NewFromBigInt(amounts[len(amounts)-1], -f.tokenDec).Float64()
	return rate, nil
}

// LPTokenPriceUSD values one LP token of pair from its reserves. Returns nil
// when any input is unavailable and 0 for an empty or worthless pool.
func (f *Feed) LPTokenPriceUSD(ctx context.Context, pair common.Address, prices PriceContext) *float64 {
	if pair == (common.Address{}) {
		return nil
	}
	if prices.NativeUSDPrice == nil || *prices.NativeUSDPrice <= 0 {
		return nil
	}
	if prices.TokenPerNativeRate == nil || *prices.TokenPerNativeRate < 0 {
		return nil
	}

	dex, err := f.dex.Dex()
	if err != nil {
		return nil
	}
	state, err := dex.Reserves(ctx, pair)
	if err != nil {
		metrics.RecordPriceFetch("lp", "unavailable")
		f.log.WithFields(logrus.Fields{
			"feed":  "lp",
			"pair":  pair.Hex(),
			"error": err.Error(),
		}).Warn("LP token price unavailable")
		return nil
	}
	metrics.RecordPriceFetch("lp", "success")

	supply := decimal.NewFromBigInt(state.TotalSupply, -f.lpDec)
	if supply.IsZero() {
		return ptr(0)
	}

	nativeUSD := decimal.NewFromFloat(*prices.NativeUSDPrice)
	tokenUSD := decimal.Zero
	if p := DerivedTokenUSD(prices); p != nil {
		tokenUSD = decimal.NewFromFloat(*p)
	}

	value := decimal.Zero
	reserves := []struct {
		token   common.Address
		reserve *big.Int
	}{{state.Token0, state.Reserve0}, {state.Token1, state.Reserve1}}
	for _, r := range reserves {
		switch r.token {
		case f.wrappedNative:
			value = value.Add(decimal.NewFromBigInt(r.reserve, -f.nativeDec).Mul(nativeUSD))
		case f.token:
			value = value.Add(decimal.NewFromBigInt(r.reserve, -f.tokenDec).Mul(tokenUSD))
		}
	}
	if !value.IsPositive() {
		return ptr(0)
	}

	price, _ := value.Div(supply).Float64()
	return &price
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func ptr(v float64) *float64 {
	return &v
}
