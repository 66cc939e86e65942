// Package transport owns the connection handles used by the attestation
// protocol. A Conn is held by exactly one goroutine and is torn down exactly
// once: both directions are shut down, then the socket is closed. Teardown
// failures are logged, never returned.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// halfCloser is implemented by *vsock.Conn and *net.TCPConn.
type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// Conn is an exclusively owned, bidirectional byte-stream endpoint.
type Conn struct {
	net.Conn

	logger *zap.Logger
	once   sync.Once
}

// Wrap takes ownership of c.
func Wrap(c net.Conn, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{Conn: c, logger: logger}
}

// Close shuts down both directions and releases the socket. Only the first
// call has any effect, and it always returns nil; failures are logged.
func (c *Conn) Close() error {
	c.once.Do(c.teardown)
	return nil
}

func (c *Conn) teardown() {
	remote := c.remote()
	if hc, ok := c.Conn.(halfCloser); ok {
		if err := hc.CloseRead(); err != nil {
			c.logger.Sugar().Debugw("Failed to shut down read side", "remote", remote, "error", err)
		}
		if err := hc.CloseWrite(); err != nil {
			c.logger.Sugar().Debugw("Failed to shut down write side", "remote", remote, "error", err)
		}
	}
	if err := c.Conn.Close(); err != nil {
		c.logger.Sugar().Warnw("Failed to close connection", "remote", remote, "error", err)
	}
}

func (c *Conn) remote() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// ApplyTimeout sets a deadline covering the rest of the exchange. A zero
// timeout leaves the connection without a deadline.
func (c *Conn) ApplyTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	if err := c.Conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: failed to set deadline: %w", types.ErrTransport, err)
	}
	return nil
}

// WatchContext aborts blocked reads and writes once ctx is done. The
// returned function stops the watch.
func (c *Conn) WatchContext(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = c.Conn.SetDeadline(time.Unix(1, 0))
	})
}

// Dialer opens outbound connections to an enclave address.
type Dialer interface {
	Dial(ctx context.Context, addr types.Address) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr types.Address) (net.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr types.Address) (net.Conn, error) {
	return f(ctx, addr)
}

// Connect makes a single outbound connection attempt.
func Connect(ctx context.Context, d Dialer, addr types.Address, logger *zap.Logger) (*Conn, error) {
	c, err := d.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", types.ErrConnection, addr, err)
	}
	return Wrap(c, logger), nil
}

// Accept blocks until a peer connects to ln and returns the owned handle.
func Accept(ln net.Listener, logger *zap.Logger) (*Conn, error) {
	c, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: accept failed: %w", types.ErrConnection, err)
	}
	return Wrap(c, logger), nil
}
