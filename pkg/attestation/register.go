package attestation

import (
	"fmt"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// Open parses raw as a signed envelope, verifies it with v and decodes the
// payload. Failures wrap types.ErrMalformedEnvelope, types.ErrVerification or
// types.ErrMalformedDocument respectively.
func Open(raw []byte, v Verifier) (*Document, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	payload, err := v.Verify(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrVerification, err)
	}
	return DecodeDocument(payload)
}

// ExtractRegister returns the raw bytes of measurement register index from a
// signed attestation document.
func ExtractRegister(raw []byte, index uint, v Verifier) ([]byte, error) {
	doc, err := Open(raw, v)
	if err != nil {
		return nil, err
	}
	return doc.Register(index)
}
