package modelmux

import (
	"context"
	"strings"
	"time"
)

// DefaultResetInterval is how long the multiplexer stays switched away from
// the primary backend before a new call drifts it back.
const DefaultResetInterval = 3 * time.Minute

// Client multiplexes calls across an ordered list of backends. The first
// backend is the primary; on retryable failures the Client advances through
// the list cyclically, and after a quiet period it drifts back to the
// primary. Client itself implements Backend, so multiplexers compose.
type Client struct {
	backends         []Backend
	sel              *selector
	retryable        func(error) bool
	onError          func(ctx context.Context, err error, backend string)
	retryAfterOutput bool
}

var _ Backend = (*Client)(nil)

type config struct {
	retryable        func(error) bool
	onError          func(ctx context.Context, err error, backend string)
	resetInterval    time.Duration
	retryAfterOutput bool
	now              func() time.Time
}

// Option configures a Client.
type Option func(*config)

// WithRetryable replaces the default error classifier. The predicate decides
// whether a failure triggers a backend switch (true) or propagates
// immediately (false).
func WithRetryable(fn func(error) bool) Option {
	return func(c *config) {
		c.retryable = fn
	}
}

// WithOnError sets the failure-notification callback. It is invoked
// synchronously with the error and the name of the backend that failed,
// before the multiplexer switches or surfaces the error.
func WithOnError(fn func(ctx context.Context, err error, backend string)) Option {
	return func(c *config) {
		c.onError = fn
	}
}

// WithResetInterval sets how long the multiplexer stays on a non-primary
// backend before a new call resets it to the primary.
func WithResetInterval(d time.Duration) Option {
	return func(c *config) {
		c.resetInterval = d
	}
}

// WithRetryAfterOutput controls whether a stream is recovered on another
// backend after content has already been delivered to the caller. When
// false, a mid-stream failure after output terminates the stream with the
// error instead. Default true.
func WithRetryAfterOutput(v bool) Option {
	return func(c *config) {
		c.retryAfterOutput = v
	}
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// New creates a Client over the given backends. The list must be non-empty
// and its order is fixed: backends[0] is the primary.
func New(backends []Backend, opts ...Option) (*Client, error) {
	if len(backends) == 0 {
		return nil, &ConfigError{Message: "modelmux: backend list must not be empty"}
	}
	cfg := &config{
		retryable:        DefaultRetryable,
		resetInterval:    DefaultResetInterval,
		retryAfterOutput: true,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.retryable == nil {
		cfg.retryable = DefaultRetryable
	}
	list := make([]Backend, len(backends))
	copy(list, backends)
	return &Client{
		backends:         list,
		sel:              newSelector(len(list), cfg.resetInterval, cfg.now),
		retryable:        cfg.retryable,
		onError:          cfg.onError,
		retryAfterOutput: cfg.retryAfterOutput,
	}, nil
}

// Name identifies the multiplexer by its backend chain.
func (c *Client) Name() string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}

// CurrentBackend returns the name of the backend the next call will start
// on, ignoring any pending lazy reset.
func (c *Client) CurrentBackend() string {
	return c.backends[c.sel.current()].Name()
}

// Complete sends a blocking request to the active backend, switching to the
// next backend on retryable failures until one succeeds or the full cycle
// has been exhausted. Fatal errors propagate immediately without a switch.
// On success the cursor stays on whichever backend served the call.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	c.sel.maybeReset()
	initial := c.sel.current()
	for {
		b := c.backends[c.sel.current()]
		resp, err := b.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !c.retryable(err) {
			return nil, err
		}
		c.notify(ctx, err, b.Name())
		if c.sel.advance() == initial {
			// Every backend in the cycle has been tried once.
			return nil, err
		}
	}
}

// notify invokes the failure-notification callback, if configured. The
// callback runs synchronously; the multiplexer does not proceed until it
// returns.
func (c *Client) notify(ctx context.Context, err error, backend string) {
	if c.onError != nil {
		c.onError(ctx, err, backend)
	}
}

// Close releases resources held by backends that implement Closer.
func (c *Client) Close() error {
	var firstErr error
	for _, b := range c.backends {
		if closer, ok := b.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
