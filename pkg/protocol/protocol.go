// Package protocol drives both sides of the attestation exchange:
//
//	client -> server  request code (8 bytes, little-endian; 0 = attestation document)
//	server -> client  length (8 bytes, little-endian, at most 8192)
//	server -> client  document bytes
//
// One exchange per connection; the connection is torn down afterwards.
package protocol

import (
	"time"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// DefaultIOTimeout bounds a whole exchange once the connection is up.
const DefaultIOTimeout = 30 * time.Second

func messageLimit(limit int) int {
	if limit <= 0 || limit > types.MaxMessageSize {
		return types.MaxMessageSize
	}
	return limit
}
