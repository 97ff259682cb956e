package embedder

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/oceanbase/vectormem/pkg/errs"
)

// RetryConfig controls validation, rate limiting and exponential backoff for Client.
type RetryConfig struct {
	// MaxAttempts is the total number of provider calls per request (default 5).
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt (default 200ms).
	BaseDelay time.Duration

	// MaxDelay caps a single backoff (default 10s).
	MaxDelay time.Duration

	// MaxTotalWait caps the sum of backoffs for one request (default 30s, 0 = no cap).
	MaxTotalWait time.Duration

	// Jitter is the +/- fraction applied to each delay (default 0.25).
	Jitter float64

	// Seed makes jitter reproducible when non-zero.
	Seed uint64

	// MaxInputLength is the longest accepted input in characters (default 8192).
	MaxInputLength int

	// RateLimit is the maximum provider calls per second (0 = unlimited).
	RateLimit float64

	// RateBurst is the limiter burst size (default 1 when RateLimit is set).
	RateBurst int
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		MaxTotalWait:   30 * time.Second,
		Jitter:         0.25,
		MaxInputLength: 8192,
	}
}

func (c *RetryConfig) applyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	if c.MaxInputLength <= 0 {
		c.MaxInputLength = d.MaxInputLength
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// Client wraps a Provider with input validation, an optional rate limiter and
// retry with exponential backoff. Client itself implements Provider.
//
// The only state shared between concurrent calls is the rate limiter.
type Client struct {
	provider Provider
	cfg      RetryConfig
	limiter  *rate.Limiter
	logger   logrus.FieldLogger
	sleep    func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for retry warnings.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSleep replaces the backoff sleep. Tests use it to record delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient wraps provider with the given retry policy.
func NewClient(provider Provider, cfg RetryConfig, opts ...ClientOption) *Client {
	cfg.applyDefaults()
	c := &Client{
		provider: provider,
		cfg:      cfg,
		logger:   logrus.StandardLogger(),
		sleep:    sleepContext,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "embedder")
	return c
}

// Config returns the effective retry configuration.
func (c *Client) Config() RetryConfig {
	return c.cfg
}

// Embed validates text and returns its vector, retrying transient provider failures.
//
// Errors:
//   - errs.ErrInvalidInput: empty or oversized text, or the provider rejected it
//   - errs.ErrAuthentication: the provider rejected the credentials
//   - errs.ErrEmbeddingUnavailable: retries exhausted
//   - ctx.Err(): the caller cancelled
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := c.Validate(text); err != nil {
		return nil, err
	}

	var vec []float64
	err := c.do(ctx, "embed", func(ctx context.Context) error {
		v, err := c.provider.Embed(ctx, text)
		if err != nil {
			return err
		}
		if err := c.checkDimension(v); err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch validates every text and embeds them in one provider call under the same retry policy.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, errs.InvalidInput("batch must contain at least one text")
	}
	for i, text := range texts {
		if err := c.Validate(text); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}

	var vecs [][]float64
	err := c.do(ctx, "embed_batch", func(ctx context.Context) error {
		v, err := c.provider.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("provider returned %d vectors for %d texts", len(v), len(texts))
		}
		for _, vec := range v {
			if err := c.checkDimension(vec); err != nil {
				return err
			}
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// Dimensions returns the dimension of the wrapped provider.
func (c *Client) Dimensions() int {
	return c.provider.Dimensions()
}

// Close closes the wrapped provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

// Delay returns the backoff after the given zero-based failed attempt:
// min(BaseDelay * 2^attempt, MaxDelay) with +/- Jitter applied, never above MaxDelay.
// With a non-zero Seed the result is a pure function of (Seed, attempt).
func (c *Client) Delay(attempt int) time.Duration {
	delay := c.cfg.MaxDelay
	if attempt < 32 {
		if d := c.cfg.BaseDelay << uint(attempt); d > 0 && d < delay {
			delay = d
		}
	}

	if c.cfg.Jitter > 0 {
		var r float64
		if c.cfg.Seed != 0 {
			r = rand.New(rand.NewPCG(c.cfg.Seed, uint64(attempt))).Float64()
		} else {
			r = rand.Float64()
		}
		delay += time.Duration((2*r - 1) * c.cfg.Jitter * float64(delay))
		if delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
	}
	return delay
}

// Validate checks text against the input constraints Embed enforces, without
// calling the provider. It returns errs.ErrInvalidInput naming the violated
// constraint.
func (c *Client) Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return errs.InvalidInput("text must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > c.cfg.MaxInputLength {
		return errs.InvalidInput("text length %d exceeds maximum %d", n, c.cfg.MaxInputLength)
	}
	return nil
}

func (c *Client) checkDimension(vec []float64) error {
	if len(vec) == 0 {
		return fmt.Errorf("provider returned an empty vector")
	}
	if dims := c.provider.Dimensions(); dims > 0 && len(vec) != dims {
		return errs.Dimension(dims, len(vec))
	}
	return nil
}

func (c *Client) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var (
		waited   time.Duration
		last     error
		attempts int
	)
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: rate limiter: %v", errs.ErrEmbeddingUnavailable, err)
			}
		}

		attempts++
		err := call(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !Retryable(err) {
			return classify(err)
		}
		last = err

		if attempt == c.cfg.MaxAttempts-1 {
			break
		}
		delay := c.Delay(attempt)
		if c.cfg.MaxTotalWait > 0 && waited+delay > c.cfg.MaxTotalWait {
			c.logger.WithFields(logrus.Fields{
				"op":      op,
				"attempt": attempts,
				"waited":  waited,
			}).Warn("embedding retry budget exhausted")
			break
		}

		c.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempts,
			"delay":   delay,
		}).WithError(err).Warn("embedding request failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		waited += delay
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %v", errs.ErrEmbeddingUnavailable, op, attempts, last)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
