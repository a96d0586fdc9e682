package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Options configure a Client.
type Options struct {
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int
	// BaseDelay is the first backoff interval; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff interval.
	MaxDelay time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// Limiter paces attempts across all workers. Nil means unlimited.
	Limiter *rate.Limiter
	// Breaker is shared by every caller of the client. Nil allocates one.
	Breaker *Breaker
	// Observe, if set, is called with the outcome of every attempt.
	Observe func(outcome string)
	Logger  *slog.Logger
}

// DefaultOptions mirrors the defaults of the configuration layer.
func DefaultOptions() Options {
	return Options{
		RetryLimit: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    60 * time.Second,
	}
}

// Client wraps a Transport with retries, exponential backoff with jitter,
// pacing, and a one-way circuit breaker.
type Client struct {
	transport Transport
	opts      Options
	breaker   *Breaker
	logger    *slog.Logger
	calls     atomic.Int64
}

// NewClient returns a client for transport.
func NewClient(transport Transport, opts Options) *Client {
	if opts.Breaker == nil {
		opts.Breaker = &Breaker{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryLimit < 0 {
		opts.RetryLimit = 0
	}
	return &Client{
		transport: transport,
		opts:      opts,
		breaker:   opts.Breaker,
		logger:    opts.Logger,
	}
}

// Model returns the transport's model identifier.
func (c *Client) Model() string { return c.transport.Model() }

// Breaker returns the client's circuit breaker.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Calls returns the number of attempts sent to the transport.
func (c *Client) Calls() int64 { return c.calls.Load() }

// Complete runs req until it succeeds, fails fatally, or exhausts the retry
// limit. Fatal failures trip the breaker. Truncated replies are returned
// with an error wrapping ErrTruncated unless req.RetryTruncated is set and
// retries remain; the partial text is returned alongside the error.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryLimit; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt); err != nil {
				return "", err
			}
		}
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("waiting for rate limiter: %w", err)
			}
		}
		if c.breaker.Open() {
			return "", ErrCircuitOpen
		}

		text, err := c.attempt(ctx, req)
		if err == nil {
			c.observe("success")
			return text, nil
		}
		if ctx.Err() != nil {
			c.observe(ClassTerminal.String())
			return "", ctx.Err()
		}

		class := ClassOf(err)
		c.observe(class.String())
		lastErr = err

		switch class {
		case ClassFatal:
			if c.breaker.Trip(err) {
				c.logger.Error("fatal API error, circuit breaker tripped", "error", err)
			}
			return "", err
		case ClassTruncated:
			if !req.RetryTruncated || attempt == c.opts.RetryLimit {
				return text, err
			}
		case ClassRetryable:
		default:
			return "", err
		}
		c.logger.Debug("retrying API call", "attempt", attempt+1, "class", class, "error", err)
	}
	return "", &APIError{
		Class: ClassTerminal,
		Err:   fmt.Errorf("giving up after %d attempts: %w", c.opts.RetryLimit+1, lastErr),
	}
}

func (c *Client) attempt(ctx context.Context, req Request) (string, error) {
	c.calls.Add(1)
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	reply, err := c.transport.Generate(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if reply.Truncated {
		return reply.Text, &APIError{Class: ClassTruncated, Err: ErrTruncated}
	}
	if req.CheckComplete != nil {
		if err := req.CheckComplete(reply.Text); err != nil {
			return reply.Text, &APIError{Class: ClassTruncated, Err: fmt.Errorf("%w: %w", ErrTruncated, err)}
		}
	}
	return reply.Text, nil
}

// backoff returns base*2^(attempt-1) capped at MaxDelay, plus up to 30%
// jitter of the base delay.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BaseDelay << (attempt - 1)
	if c.opts.MaxDelay > 0 && (d > c.opts.MaxDelay || d <= 0) {
		d = c.opts.MaxDelay
	}
	if c.opts.BaseDelay > 0 {
		d += time.Duration(rand.Int64N(int64(c.opts.BaseDelay)*3/10 + 1))
	}
	return d
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(c.backoff(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) observe(outcome string) {
	if c.opts.Observe != nil {
		c.opts.Observe(outcome)
	}
}
