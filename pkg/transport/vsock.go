package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/mdlayher/vsock"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// VsockDialer dials AF_VSOCK stream sockets.
type VsockDialer struct{}

func (VsockDialer) Dial(ctx context.Context, addr types.Address) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := vsock.Dial(addr.CID, addr.Port, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListenVsock binds a stream listener on port for any local context id.
func ListenVsock(port uint32) (net.Listener, error) {
	ln, err := vsock.ListenContextID(types.CIDAny, port, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on vsock port %d: %w", types.ErrConnection, port, err)
	}
	return ln, nil
}
