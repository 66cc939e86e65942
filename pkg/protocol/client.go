package protocol

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Electron-Labs/nitro-attestation/pkg/connector"
	"github.com/Electron-Labs/nitro-attestation/pkg/transport"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
	"github.com/Electron-Labs/nitro-attestation/pkg/wire"
)

type ClientOptions struct {
	Connector connector.Options

	// IOTimeout bounds the exchange after connecting; zero disables it.
	IOTimeout time.Duration

	// MaxMessageSize caps the accepted document size; zero or anything above
	// types.MaxMessageSize means types.MaxMessageSize.
	MaxMessageSize int
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Connector: connector.DefaultOptions(),
		IOTimeout: DefaultIOTimeout,
	}
}

// Client fetches attestation documents from an enclave server.
type Client struct {
	connector *connector.Connector
	opts      ClientOptions
	logger    *zap.Logger
}

func NewClient(dialer transport.Dialer, opts ClientOptions, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		connector: connector.New(dialer, opts.Connector, logger),
		opts:      opts,
		logger:    logger,
	}
}

// FetchAttestationDocument connects to addr, requests a document and returns
// its bytes. The connection is torn down before returning on every path.
func (c *Client) FetchAttestationDocument(ctx context.Context, addr types.Address) ([]byte, error) {
	conn, err := c.connector.Connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// The deadline goes first so that a cancellation deadline set by the
	// watch is never overwritten.
	if err := conn.ApplyTimeout(c.opts.IOTimeout); err != nil {
		return nil, err
	}
	stop := conn.WatchContext(ctx)
	defer stop()

	c.logger.Sugar().Debugw("Requesting attestation document", "addr", addr.String())
	if err := wire.SendUint64(conn, uint64(types.RequestAttestationDocument)); err != nil {
		return nil, fmt.Errorf("failed to send request code: %w", err)
	}

	doc, err := wire.ReadMessage(conn, messageLimit(c.opts.MaxMessageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to receive attestation document: %w", err)
	}
	c.logger.Sugar().Infow("Received attestation document", "addr", addr.String(), "bytes", len(doc))
	return doc, nil
}
