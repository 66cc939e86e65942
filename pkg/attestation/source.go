// Package attestation produces attestation documents inside the enclave and
// verifies them on the host: COSE_Sign1 envelope parsing, signature and
// certificate-chain checks, document decoding and PCR extraction.
package attestation

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// Source issues a fresh attestation document per call.
type Source interface {
	RequestDocument(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

func (f SourceFunc) RequestDocument(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

type serializedSource struct {
	mu  sync.Mutex
	src Source
}

// Serialized guards src with a mutex so that concurrent server workers reach
// it one at a time.
func Serialized(src Source) Source {
	return &serializedSource{src: src}
}

func (s *serializedSource) RequestDocument(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.RequestDocument(ctx)
}

// FileSource serves the document stored at Path. It lets the server run
// outside an enclave during development.
type FileSource struct {
	Path string
}

func (s FileSource) RequestDocument(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read document file: %w", types.ErrSource, err)
	}
	return doc, nil
}
