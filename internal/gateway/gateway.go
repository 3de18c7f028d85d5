// Package gateway fetches market data (OHLCV candles and spot prices)
// from external providers with ordered fallback and per-provider rate
// limiting.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"solana-wallet-lab/internal/domain"
	"solana-wallet-lab/internal/observability"
)

// ErrUnavailable indicates every configured provider was tried and none
// returned data for the requested token. It is a terminal condition for
// the caller, not a transient failure.
var ErrUnavailable = errors.New("market data unavailable")

// CandleSource fetches OHLCV candles for a token mint over a time window.
type CandleSource interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// FetchCandles returns candles covering [startMs, endMs]. Providers
	// may return fewer candles than the window implies; the gateway
	// normalizes but does not reject sparse series.
	FetchCandles(ctx context.Context, mint string, startMs, endMs int64) ([]*domain.Candle, error)
}

// PriceSource fetches the current spot price for a token mint.
type PriceSource interface {
	Name() string
	FetchPrice(ctx context.Context, mint string) (float64, error)
}

// Default configuration values.
const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultRateLimit      = rate.Limit(5) // requests per second per provider
	DefaultRateBurst      = 5
	DefaultPriceCacheTTL  = 30 * time.Second
)

// Gateway multiplexes candle and price providers. Providers are tried in
// registration order; the first one that returns data wins. A provider
// error is logged and the next provider is tried.
type Gateway struct {
	candleSources []*limitedCandleSource
	priceSources  []*limitedPriceSource

	requestTimeout time.Duration
	logger         zerolog.Logger
	metrics        *observability.Metrics

	priceCacheTTL time.Duration
	priceCache    map[string]cachedPrice
	priceCacheMu  sync.Mutex

	now func() time.Time
}

type cachedPrice struct {
	price   float64
	fetched time.Time
}

type limitedCandleSource struct {
	src     CandleSource
	limiter *rate.Limiter
}

type limitedPriceSource struct {
	src     PriceSource
	limiter *rate.Limiter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRequestTimeout bounds each provider call.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.requestTimeout = d
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithPriceCacheTTL sets how long fetched prices are reused before a
// provider is asked again.
func WithPriceCacheTTL(d time.Duration) Option {
	return func(g *Gateway) {
		g.priceCacheTTL = d
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// WithMetrics enables per-provider call instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a Gateway with no providers registered.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		requestTimeout: DefaultRequestTimeout,
		logger:         zerolog.Nop(),
		priceCacheTTL:  DefaultPriceCacheTTL,
		priceCache:     make(map[string]cachedPrice),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterCandleSource appends a candle provider with its own rate limit.
// Registration order is fallback order.
func (g *Gateway) RegisterCandleSource(src CandleSource, limit rate.Limit, burst int) {
	g.candleSources = append(g.candleSources, &limitedCandleSource{
		src:     src,
		limiter: rate.NewLimiter(limit, burst),
	})
}

// RegisterPriceSource appends a price provider with its own rate limit.
func (g *Gateway) RegisterPriceSource(src PriceSource, limit rate.Limit, burst int) {
	g.priceSources = append(g.priceSources, &limitedPriceSource{
		src:     src,
		limiter: rate.NewLimiter(limit, burst),
	})
}

// FetchCandles returns a normalized candle series for the window, trying
// providers in order. Returns ErrUnavailable when no provider has data.
func (g *Gateway) FetchCandles(ctx context.Context, mint string, startMs, endMs int64) ([]*domain.Candle, error) {
	if mint == "" {
		return nil, fmt.Errorf("empty token mint")
	}
	if endMs < startMs {
		return nil, fmt.Errorf("window end %d before start %d", endMs, startMs)
	}
	if len(g.candleSources) == 0 {
		return nil, fmt.Errorf("no candle sources registered")
	}

	var lastErr error
	for _, ls := range g.candleSources {
		if err := ls.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		started := g.now()
		callCtx, cancel := context.WithTimeout(ctx, g.requestTimeout)
		candles, err := ls.src.FetchCandles(callCtx, mint, startMs, endMs)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.observe(ls.src.Name(), "error", started)
			g.logger.Warn().
				Str("provider", ls.src.Name()).
				Str("mint", mint).
				Err(err).
				Msg("candle provider failed, trying next")
			lastErr = err
			continue
		}
		if len(candles) == 0 {
			g.observe(ls.src.Name(), "empty", started)
			g.logger.Debug().
				Str("provider", ls.src.Name()).
				Str("mint", mint).
				Msg("candle provider returned no data")
			continue
		}
		g.observe(ls.src.Name(), "ok", started)
		return domain.NormalizeCandles(candles), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all candle providers failed: %w", lastErr)
	}
	return nil, ErrUnavailable
}

// FetchPrice returns the current price for a mint, trying providers in
// order. Prices are cached briefly so repeated lookups within a cycle do
// not hammer providers. Returns ErrUnavailable when no provider knows
// the token.
func (g *Gateway) FetchPrice(ctx context.Context, mint string) (float64, error) {
	if mint == "" {
		return 0, fmt.Errorf("empty token mint")
	}
	if len(g.priceSources) == 0 {
		return 0, fmt.Errorf("no price sources registered")
	}

	g.priceCacheMu.Lock()
	if c, ok := g.priceCache[mint]; ok && g.now().Sub(c.fetched) < g.priceCacheTTL {
		g.priceCacheMu.Unlock()
		return c.price, nil
	}
	g.priceCacheMu.Unlock()

	var lastErr error
	for _, ls := range g.priceSources {
		if err := ls.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		started := g.now()
		callCtx, cancel := context.WithTimeout(ctx, g.requestTimeout)
		price, err := ls.src.FetchPrice(callCtx, mint)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if errors.Is(err, ErrUnavailable) {
				g.observe(ls.src.Name(), "empty", started)
				continue
			}
			g.observe(ls.src.Name(), "error", started)
			g.logger.Warn().
				Str("provider", ls.src.Name()).
				Str("mint", mint).
				Err(err).
				Msg("price provider failed, trying next")
			lastErr = err
			continue
		}
		if price <= 0 {
			g.observe(ls.src.Name(), "empty", started)
			continue
		}
		g.observe(ls.src.Name(), "ok", started)

		g.priceCacheMu.Lock()
		g.priceCache[mint] = cachedPrice{price: price, fetched: g.now()}
		g.priceCacheMu.Unlock()
		return price, nil
	}

	if lastErr != nil {
		return 0, fmt.Errorf("all price providers failed: %w", lastErr)
	}
	return 0, ErrUnavailable
}

func (g *Gateway) observe(provider, outcome string, started time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	g.metrics.ProviderLatency.WithLabelValues(provider).Observe(g.now().Sub(started).Seconds())
}
