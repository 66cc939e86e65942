package attestation

import (
	"context"
	"fmt"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
	"go.uber.org/zap"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// NSMSource requests documents from the Nitro Secure Module at /dev/nsm.
// A session is opened and closed for every document.
type NSMSource struct {
	// UserData and PublicKey are embedded in every issued document.
	UserData  []byte
	PublicKey []byte

	Logger *zap.Logger
}

func (s *NSMSource) RequestDocument(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open NSM session: %w", types.ErrSource, err)
	}
	defer func() {
		if err := sess.Close(); err != nil && s.Logger != nil {
			s.Logger.Sugar().Warnw("Failed to close NSM session", "error", err)
		}
	}()

	res, err := sess.Send(&request.Attestation{
		UserData:  s.UserData,
		PublicKey: s.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send attestation request: %w", types.ErrSource, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("%w: NSM returned an error: %s", types.ErrSource, res.Error)
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, fmt.Errorf("%w: NSM returned no attestation document", types.ErrSource)
	}
	return res.Attestation.Document, nil
}
