// Package retry re-invokes channel operations with exponential backoff.
// Consumer-loss errors escape immediately so the run loop can rebuild the
// consumer instead of looping against a dead id, and stop requests are
// observed at every attempt boundary.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/opendxl/opendxl-streaming-client-go/cerr"
	"github.com/opendxl/opendxl-streaming-client-go/internal/observability"
)

type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	RetryOnFail     bool
}

func (c *Config) SetDefaults() {
	if c.InitialInterval == 0 {
		c.InitialInterval = 1 * time.Second
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
}

// Checks are consulted at every attempt boundary. Either func may be nil.
type Checks struct {
	Active        func() bool
	StopRequested func() bool
}

type Driver struct {
	conf Config
	l    *slog.Logger
}

func New(conf Config, l *slog.Logger) *Driver {
	conf.SetDefaults()
	return &Driver{
		conf: conf,
		l:    l,
	}
}

// Do runs fn until it succeeds, fails permanently, signals consumer loss, or
// a stop/destroy is observed. Attempts are unbounded; waits double from the
// initial interval up to the cap.
func (d *Driver) Do(ctx context.Context, op string, checks Checks, fn func(ctx context.Context) error) error {
	operation := func() (struct{}, error) {
		if checks.Active != nil && !checks.Active() {
			return struct{}{}, backoff.Permanent(cerr.Permanent("%s: channel destroyed", op))
		}
		if checks.StopRequested != nil && checks.StopRequested() {
			return struct{}{}, backoff.Permanent(cerr.Stop("%s: stop requested", op))
		}

		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}

		if !d.conf.RetryOnFail || !cerr.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.conf.InitialInterval
	b.MaxInterval = d.conf.MaxInterval
	b.Multiplier = d.conf.Multiplier
	b.RandomizationFactor = 0

	notify := func(err error, wait time.Duration) {
		d.l.Warn("operation failed, retrying", "op", op, "wait", wait, "err", err)
		observability.IncRetry(op)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithNotify(notify),
		backoff.WithMaxElapsedTime(0),
	)

	return err
}
