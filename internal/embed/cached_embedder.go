package embed

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/bwl/forest/internal/domain"
	"github.com/bwl/forest/pkg/resilience"
)

// CachedEmbedder wraps a Provider with the retry, circuit-breaker, and
// token-bucket behavior spec §4.B/§5 require. It retries transient failures
// with capped exponential backoff, mirroring the teacher's
// CallResult/BreakerStage composition in pkg/resilience/circuitbreaker.go,
// and translates exhausted-retry or open-circuit failures into
// domain.ErrProviderRateLimited / domain.ErrEmbeddingUnavailable so upstream
// callers degrade predictably. Throttling uses golang.org/x/time/rate rather
// than pkg/resilience's hand-rolled Limiter, the idiomatic fit named for
// "respect provider rate limits" in SPEC_FULL §4.B/§5/§4.K.
type CachedEmbedder struct {
	inner      Provider
	breaker    *resilience.Breaker
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
}

// CachedEmbedderOpts configures retry and throttling behavior.
type CachedEmbedderOpts struct {
	BreakerOpts resilience.BreakerOpts
	RateLimit   rate.Limit
	Burst       int
	MaxRetries  int
	BaseDelay   time.Duration
}

// DefaultCachedEmbedderOpts provides sensible defaults.
func DefaultCachedEmbedderOpts() CachedEmbedderOpts {
	return CachedEmbedderOpts{
		BreakerOpts: resilience.DefaultBreakerOpts,
		RateLimit:   10,
		Burst:       20,
		MaxRetries:  3,
		BaseDelay:   200 * time.Millisecond,
	}
}

// NewCachedEmbedder wraps inner with resilience behavior.
func NewCachedEmbedder(inner Provider, opts CachedEmbedderOpts) *CachedEmbedder {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 200 * time.Millisecond
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &CachedEmbedder{
		inner:      inner,
		breaker:    resilience.NewBreaker(opts.BreakerOpts),
		limiter:    rate.NewLimiter(opts.RateLimit, opts.Burst),
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
	}
}

func (c *CachedEmbedder) ModelID() string { return c.inner.ModelID() }
func (c *CachedEmbedder) Dimension() int  { return c.inner.Dimension() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := c.callWithRetry(ctx, func(ctx context.Context) error {
		v, err := c.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return normalizeUnit(out), nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := c.callWithRetry(ctx, func(ctx context.Context) error {
		v, err := c.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, v := range out {
		out[i] = normalizeUnit(v)
	}
	return out, nil
}

// normalizeUnit rescales v to unit length, guaranteeing the Provider
// contract (spec §4.B: "a successful result is a unit-norm float32 vector")
// regardless of whether the wrapped provider already normalizes.
func normalizeUnit(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// callWithRetry waits on the limiter, then runs f through the breaker,
// retrying up to maxRetries times with exponential backoff on failure. An
// open circuit is not retried; it fails fast as embedding-unavailable.
func (c *CachedEmbedder) callWithRetry(ctx context.Context, f func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.NewError(domain.KindCancelled, "embedding request cancelled while rate limited")
		}
		return err
	}

	var lastErr error
	delay := c.baseDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := c.breaker.Call(ctx, f)
		if err == nil {
			return nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return domain.NewError(domain.KindEmbeddingUnavailable, "embedding provider circuit open")
		}
		lastErr = err

		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return domain.NewError(domain.KindCancelled, "embedding request cancelled during retry backoff")
		case <-time.After(delay):
		}
		delay *= 2
	}
	return domain.NewError(domain.KindProviderRateLimited, "embedding provider exhausted retries: "+lastErr.Error())
}
