package types

import "fmt"

// MaxMessageSize bounds the payload of a single length-prefixed message.
const MaxMessageSize = 8192

// CIDAny binds a listener on every local context id (VMADDR_CID_ANY).
const CIDAny uint32 = 0xFFFFFFFF

// DefaultPort is the vsock port the enclave server listens on unless told otherwise.
const DefaultPort uint32 = 5000

// DefaultMaxAttempts is the number of connection attempts made by the client.
const DefaultMaxAttempts = 5

// RequestCode is the 8-byte value a client sends first on every exchange.
type RequestCode uint64

const (
	// RequestAttestationDocument asks the server for a fresh attestation document.
	RequestAttestationDocument RequestCode = 0
)

func (c RequestCode) String() string {
	switch c {
	case RequestAttestationDocument:
		return "attestation_document"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(c))
	}
}

// Address identifies a vsock endpoint: an enclave or host context id plus a port.
type Address struct {
	CID  uint32 `json:"cid" yaml:"cid"`
	Port uint32 `json:"port" yaml:"port"`
}

func (a Address) String() string {
	return fmt.Sprintf("vsock://%d:%d", a.CID, a.Port)
}
