package attestation

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// Document is the payload of a Nitro attestation document.
type Document struct {
	ModuleID    string          `cbor:"module_id" json:"module_id"`
	Digest      string          `cbor:"digest" json:"digest"`
	Timestamp   uint64          `cbor:"timestamp" json:"timestamp"`
	PCRs        map[uint][]byte `cbor:"pcrs" json:"pcrs"`
	Certificate []byte          `cbor:"certificate" json:"certificate"`
	CABundle    [][]byte        `cbor:"cabundle" json:"cabundle"`
	PublicKey   []byte          `cbor:"public_key,omitempty" json:"public_key,omitempty"`
	UserData    []byte          `cbor:"user_data,omitempty" json:"user_data,omitempty"`
	Nonce       []byte          `cbor:"nonce,omitempty" json:"nonce,omitempty"`
}

// DecodeDocument parses a verified envelope payload.
func DecodeDocument(payload []byte) (*Document, error) {
	var doc Document
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrMalformedDocument, err)
	}
	switch {
	case doc.ModuleID == "":
		return nil, fmt.Errorf("%w: missing module_id", types.ErrMalformedDocument)
	case doc.PCRs == nil:
		return nil, fmt.Errorf("%w: missing pcrs", types.ErrMalformedDocument)
	case len(doc.Certificate) == 0:
		return nil, fmt.Errorf("%w: missing certificate", types.ErrMalformedDocument)
	}
	return &doc, nil
}

// Encode returns the CBOR form of the document.
func (d *Document) Encode() ([]byte, error) {
	return cbor.Marshal(d)
}

// Register returns the measurement stored at index.
func (d *Document) Register(index uint) ([]byte, error) {
	v, ok := d.PCRs[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %d", types.ErrMissingRegister, index)
	}
	return v, nil
}

// IssuedAt converts the millisecond timestamp to a time.Time.
func (d *Document) IssuedAt() time.Time {
	return time.UnixMilli(int64(d.Timestamp)).UTC()
}
