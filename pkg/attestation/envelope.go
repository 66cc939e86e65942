package attestation

import (
	"bytes"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// Nitro documents are untagged COSE_Sign1 messages; the tagged form starts
// with tag 18 followed by the four-element array.
var sign1TagPrefix = []byte{0xd2}

// Envelope is a COSE_Sign1 message:
//
//	[protected: bstr, unprotected: map, payload: bstr, signature: bstr]
type Envelope struct {
	cose.Sign1Message
}

// ParseEnvelope decodes a COSE_Sign1 message, tagged or untagged. The payload
// must be attached and the protected header must name an algorithm.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", types.ErrMalformedEnvelope)
	}

	var env Envelope
	var err error
	if bytes.HasPrefix(data, sign1TagPrefix) {
		err = env.Sign1Message.UnmarshalCBOR(data)
	} else {
		err = (*cose.UntaggedSign1Message)(&env.Sign1Message).UnmarshalCBOR(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrMalformedEnvelope, err)
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: detached or empty payload", types.ErrMalformedEnvelope)
	}
	if len(env.Signature) == 0 {
		return nil, fmt.Errorf("%w: empty signature", types.ErrMalformedEnvelope)
	}
	if _, err := env.Algorithm(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Algorithm returns the COSE algorithm named by the protected header.
func (e *Envelope) Algorithm() (cose.Algorithm, error) {
	alg, err := e.Headers.Protected.Algorithm()
	if err != nil {
		return 0, fmt.Errorf("%w: protected header: %w", types.ErrMalformedEnvelope, err)
	}
	return alg, nil
}

// Marshal encodes e as an untagged COSE_Sign1 message, the form the NSM
// produces.
func (e *Envelope) Marshal() ([]byte, error) {
	return (*cose.UntaggedSign1Message)(&e.Sign1Message).MarshalCBOR()
}
