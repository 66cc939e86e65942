// Package connector establishes outbound connections to the enclave,
// retrying with exponential backoff while the peer is not yet reachable.
package connector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Electron-Labs/nitro-attestation/pkg/transport"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

const (
	// DefaultUnit is the wait before the second attempt; each later wait doubles.
	DefaultUnit = time.Second
	multiplier  = 2
)

// Options bounds the retry schedule. Before attempt i (0-indexed, i >= 1)
// the connector waits Unit * 2^(i-1).
type Options struct {
	MaxAttempts int
	Unit        time.Duration

	// Notify, if set, is called with the failed attempt's error and the wait
	// that follows it.
	Notify backoff.Notify
}

// DefaultOptions returns 5 attempts with a 1s doubling wait.
func DefaultOptions() Options {
	return Options{MaxAttempts: types.DefaultMaxAttempts, Unit: DefaultUnit}
}

type Connector struct {
	dialer transport.Dialer
	opts   Options
	logger *zap.Logger
}

func New(dialer transport.Dialer, opts Options, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Unit <= 0 {
		opts.Unit = DefaultUnit
	}
	return &Connector{dialer: dialer, opts: opts, logger: logger}
}

// Connect returns the first connection that succeeds. When every attempt
// fails the returned error wraps the last connection error. MaxAttempts < 1
// fails with types.ErrNoAttempts without dialing.
func (c *Connector) Connect(ctx context.Context, addr types.Address) (*transport.Conn, error) {
	if c.opts.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w (max attempts %d)", types.ErrNoAttempts, c.opts.MaxAttempts)
	}

	attempt := 0
	operation := func() (*transport.Conn, error) {
		attempt++
		c.logger.Sugar().Debugw("Connecting to enclave", "addr", addr.String(), "attempt", attempt)
		return transport.Connect(ctx, c.dialer, addr, c.logger)
	}

	conn, err := backoff.Retry(
		ctx,
		operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(c.notify(addr)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: gave up on %s after %d attempt(s): %w", types.ErrConnection, addr, attempt, err)
	}
	return conn, nil
}

func (c *Connector) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.Unit
	b.Multiplier = multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	return b
}

func (c *Connector) notify(addr types.Address) backoff.Notify {
	return func(err error, wait time.Duration) {
		c.logger.Sugar().Infow("Enclave not reachable, backing off", "addr", addr.String(), "wait", wait, "error", err)
		if c.opts.Notify != nil {
			c.opts.Notify(err, wait)
		}
	}
}

// ConnectWithBackoff is a one-shot form of Connector.Connect.
func ConnectWithBackoff(ctx context.Context, dialer transport.Dialer, addr types.Address, opts Options, logger *zap.Logger) (*transport.Conn, error) {
	return New(dialer, opts, logger).Connect(ctx, addr)
}
