package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
	"github.com/Electron-Labs/nitro-attestation/pkg/transport"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
	"github.com/Electron-Labs/nitro-attestation/pkg/wire"
)

type ServerOptions struct {
	// Workers is the number of exchanges handled at once. One (the default)
	// services connections strictly in arrival order.
	Workers int

	// IOTimeout bounds each exchange; zero disables it.
	IOTimeout time.Duration

	// MaxMessageSize caps the size of a served document.
	MaxMessageSize int
}

func DefaultServerOptions() ServerOptions {
	return ServerOptions{Workers: 1, IOTimeout: DefaultIOTimeout}
}

// Server answers attestation requests on accepted connections.
//
// Per-connection failures are logged and the accept loop carries on. An
// unrecognized request code closes the connection without a response.
type Server struct {
	source attestation.Source
	opts   ServerOptions
	logger *zap.Logger
}

// NewServer returns a server backed by source. With more than one worker,
// calls into source are serialized.
func NewServer(source attestation.Source, opts ServerOptions, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Workers > 1 {
		source = attestation.Serialized(source)
	}
	return &Server{source: source, opts: opts, logger: logger}
}

// Serve accepts connections on ln until ctx is done or accept fails. It
// closes ln and waits for in-flight exchanges before returning. Cancellation
// is not an error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closeOnce sync.Once
	closeListener := func() {
		closeOnce.Do(func() {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Sugar().Warnw("Failed to close listener", "error", err)
			}
		})
	}
	defer closeListener()
	stop := context.AfterFunc(ctx, closeListener)
	defer stop()

	slots := make(chan struct{}, s.opts.Workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	s.logger.Sugar().Infow("Attestation server listening", "addr", ln.Addr().String(), "workers", s.opts.Workers)
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		conn, err := transport.Accept(ln, s.logger)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn *transport.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	start := time.Now()
	if err := s.exchange(ctx, conn); err != nil {
		s.logger.Sugar().Errorw("Attestation exchange failed", "remote", remote, "error", err)
		return
	}
	s.logger.Sugar().Debugw("Attestation exchange complete", "remote", remote, "duration", time.Since(start))
}

func (s *Server) exchange(ctx context.Context, conn *transport.Conn) error {
	if err := conn.ApplyTimeout(s.opts.IOTimeout); err != nil {
		return err
	}
	stop := conn.WatchContext(ctx)
	defer stop()

	code, err := wire.RecvUint64(conn)
	if err != nil {
		return fmt.Errorf("failed to receive request code: %w", err)
	}

	switch types.RequestCode(code) {
	case types.RequestAttestationDocument:
		doc, err := s.source.RequestDocument(ctx)
		if err != nil {
			if !errors.Is(err, types.ErrSource) {
				err = fmt.Errorf("%w: %w", types.ErrSource, err)
			}
			return err
		}
		if err := wire.WriteMessage(conn, doc, messageLimit(s.opts.MaxMessageSize)); err != nil {
			return fmt.Errorf("failed to send attestation document: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", types.ErrUnknownRequest, types.RequestCode(code))
	}
}
