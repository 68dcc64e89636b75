// Package governor bounds concurrent calls to one remote system and absorbs
// rate limiting: a throttled call sleeps for the server's wait hint, with its
// slot released, and is retried until it succeeds or fails for another reason.
package governor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/zxperience/deskbridge/internal/telemetry"
)

const scopeName = "github.com/zxperience/deskbridge/governor"

// Defaults used when no option overrides them.
const (
	DefaultMaxConcurrent = 3
	DefaultWait          = 10 * time.Second
)

// ThrottledError signals that the remote system rejected a call because of
// rate limiting. RetryAfter is the server's wait hint in hint units
// (seconds for HTTP Retry-After); zero means no hint was sent.
type ThrottledError struct {
	RetryAfter float64
	Err        error
}

func (e *ThrottledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("throttled (retry after %v): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("throttled (retry after %v)", e.RetryAfter)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

// IsThrottled reports whether err is or wraps a *ThrottledError.
func IsThrottled(err error) bool {
	var te *ThrottledError
	return errors.As(err, &te)
}

// Governor executes calls against one remote system with at most N in flight.
// It is safe for concurrent use and is meant to be shared by every client of
// that system, across tenants.
type Governor struct {
	name        string
	max         int64
	sem         *semaphore.Weighted
	defaultWait time.Duration
	unit        time.Duration
	newTimer    func() backoff.Timer
	logger      *slog.Logger

	throttled telemetry.Counter
	inflight  metric.Int64UpDownCounter
}

// Option configures a Governor.
type Option func(*Governor)

// WithMaxConcurrent caps in-flight calls. Values below 1 are ignored.
func WithMaxConcurrent(n int) Option {
	return func(g *Governor) {
		if n > 0 {
			g.max = int64(n)
		}
	}
}

// WithDefaultWait sets the wait used when a throttled response carries no hint.
func WithDefaultWait(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.defaultWait = d
		}
	}
}

// WithUnit sets the duration of one wait-hint unit (default one second).
func WithUnit(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.unit = d
		}
	}
}

// WithLogger sets the logger used for throttling events.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMeter sets the meter used for governor metrics.
func WithMeter(m metric.Meter) Option {
	return func(g *Governor) {
		g.throttled = telemetry.NewCounter(m, "deskbridge.governor.throttled",
			"Calls rejected by the remote system with a rate-limit response")
		g.inflight, _ = m.Int64UpDownCounter("deskbridge.governor.inflight",
			metric.WithDescription("Calls currently in flight against the remote system"))
	}
}

// withTimer replaces the backoff timer; tests use it to observe waits.
func withTimer(newTimer func() backoff.Timer) Option {
	return func(g *Governor) { g.newTimer = newTimer }
}

// New creates a governor for the named remote system.
func New(name string, opts ...Option) *Governor {
	g := &Governor{
		name:        name,
		max:         DefaultMaxConcurrent,
		defaultWait: DefaultWait,
		unit:        time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	WithMeter(telemetry.Meter(scopeName))(g)
	for _, opt := range opts {
		opt(g)
	}
	g.sem = semaphore.NewWeighted(g.max)
	return g
}

// Name returns the remote system name the governor was created for.
func (g *Governor) Name() string { return g.name }

// MaxConcurrent returns the in-flight cap.
func (g *Governor) MaxConcurrent() int { return int(g.max) }

// Execute runs call once a slot is free. A *ThrottledError result makes the
// governor wait for the hinted duration (without holding a slot) and retry.
// Any other error is returned unchanged and not retried. Context
// cancellation ends waiting for a slot or a backoff and returns ctx.Err().
func (g *Governor) Execute(ctx context.Context, call func(ctx context.Context) error) error {
	bo := &hintBackOff{}

	op := func() error {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return backoff.Permanent(err)
		}
		g.addInflight(ctx, 1)
		err := call(ctx)
		g.addInflight(ctx, -1)
		g.sem.Release(1)

		if err == nil {
			return nil
		}
		var te *ThrottledError
		if errors.As(err, &te) {
			bo.next = g.waitFor(te)
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		g.throttled.Add(ctx, 1, attribute.String("system", g.name))
		g.logger.Warn("rate limited, backing off",
			"system", g.name,
			"wait", wait,
			"error", err)
	}

	var timer backoff.Timer
	if g.newTimer != nil {
		timer = g.newTimer()
	}
	return backoff.RetryNotifyWithTimer(op, backoff.WithContext(bo, ctx), notify, timer)
}

func (g *Governor) waitFor(te *ThrottledError) time.Duration {
	if te.RetryAfter <= 0 {
		return g.defaultWait
	}
	return time.Duration(te.RetryAfter * float64(g.unit))
}

func (g *Governor) addInflight(ctx context.Context, n int64) {
	if g.inflight != nil {
		g.inflight.Add(ctx, n, metric.WithAttributes(attribute.String("system", g.name)))
	}
}

// hintBackOff never gives up; its next interval is whatever the last
// throttled response asked for.
type hintBackOff struct {
	next time.Duration
}

func (b *hintBackOff) NextBackOff() time.Duration { return b.next }

func (b *hintBackOff) Reset() { b.next = 0 }
