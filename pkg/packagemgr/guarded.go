package packagemgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/result"
	"github.com/windowsadmins/sweeper/pkg/retry"
)

// ErrBreakerOpen is returned while a manager's circuit breaker is open.
var ErrBreakerOpen = fmt.Errorf("circuit breaker open: %w", ErrUnavailable)

// Guarded wraps a Manager with a circuit breaker and retries listings.
// A manager that keeps failing (CLI missing, source corrupt) is skipped
// quickly instead of costing a full timeout per item.
type Guarded struct {
	inner   Manager
	breaker *circuit.Breaker
	retries retry.RetryConfig
}

// GuardOptions configures Guard.
type GuardOptions struct {
	Threshold   int64
	ListRetries int
}

// Guard wraps m.
func Guard(m Manager, opts GuardOptions) *Guarded {
	if opts.Threshold <= 0 {
		opts.Threshold = 3
	}
	if opts.ListRetries <= 0 {
		opts.ListRetries = 2
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	return &Guarded{
		inner: m,
		breaker: circuit.NewBreakerWithOptions(&circuit.Options{
			BackOff:    expBackoff,
			ShouldTrip: circuit.ThresholdTripFunc(opts.Threshold),
		}),
		retries: retry.RetryConfig{
			MaxRetries:      opts.ListRetries,
			InitialInterval: 2 * time.Second,
			Multiplier:      2,
		},
	}
}

// Name implements Manager.
func (g *Guarded) Name() string { return g.inner.Name() }

// Tripped reports whether the breaker is open.
func (g *Guarded) Tripped() bool { return g.breaker.Tripped() }

// call runs fn through the breaker. Cancellation and ErrNotInstalled do not count as failures.
func (g *Guarded) call(ctx context.Context, fn func(context.Context) error) error {
	if !g.breaker.Ready() {
		return fmt.Errorf("%s: %w", g.inner.Name(), ErrBreakerOpen)
	}
	var passthrough error
	err := g.breaker.Call(func() error {
		err := fn(ctx)
		if result.IsCancelled(err) || ctx.Err() != nil || errors.Is(err, ErrNotInstalled) {
			passthrough = err
			return nil
		}
		return err
	}, 0)
	if passthrough != nil {
		return passthrough
	}
	if err != nil && g.breaker.Tripped() {
		logging.Warn("Package manager disabled after repeated failures", "manager", g.inner.Name(), "error", err)
	}
	return err
}

// IsInstalled implements Manager.
func (g *Guarded) IsInstalled(ctx context.Context, id string) (bool, error) {
	var installed bool
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		installed, err = g.inner.IsInstalled(ctx, id)
		return err
	})
	return installed, err
}

// InstalledIDs implements Manager. Listing is retried before the breaker sees a failure.
func (g *Guarded) InstalledIDs(ctx context.Context) (IDSet, error) {
	var ids IDSet
	err := g.call(ctx, func(ctx context.Context) error {
		return retry.Retry(ctx, g.retries, func(ctx context.Context) error {
			var err error
			ids, err = g.inner.InstalledIDs(ctx)
			if errors.Is(err, ErrUnavailable) {
				return retry.NonRetryableError{Err: err}
			}
			return err
		})
	})
	return ids, err
}

// Uninstall implements Manager. Removals are never retried.
func (g *Guarded) Uninstall(ctx context.Context, id, source, displayName string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.inner.Uninstall(ctx, id, source, displayName)
	})
}
