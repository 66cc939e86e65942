// Package store persists the results of a client fetch: the raw document and
// the extracted register in an output directory, and optionally a history of
// fetches in a SQLite archive.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	DocumentFileName = "attestation_doc.bin"

	dirMode  = 0755
	fileMode = 0600
)

// RegisterFileName names the file holding register index, e.g. pcr0.bin.
func RegisterFileName(index uint) string {
	return fmt.Sprintf("pcr%d.bin", index)
}

// FileStore writes fetch results under Dir, creating it when missing.
type FileStore struct {
	Dir    string
	Logger *zap.Logger
}

// Paths of the files written by a Save.
type Paths struct {
	Document string
	Register string
}

// Save writes the raw document and the bytes of register index. Existing files
// are overwritten.
func (s *FileStore) Save(document []byte, index uint, register []byte) (Paths, error) {
	if err := os.MkdirAll(s.Dir, dirMode); err != nil {
		return Paths{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := Paths{
		Document: filepath.Join(s.Dir, DocumentFileName),
		Register: filepath.Join(s.Dir, RegisterFileName(index)),
	}
	if err := os.WriteFile(paths.Document, document, fileMode); err != nil {
		return Paths{}, fmt.Errorf("failed to write attestation document: %w", err)
	}
	if err := os.WriteFile(paths.Register, register, fileMode); err != nil {
		return Paths{}, fmt.Errorf("failed to write register %d: %w", index, err)
	}

	if s.Logger != nil {
		s.Logger.Sugar().Infow("Attestation written to output directory",
			"document", paths.Document,
			"register", paths.Register,
			"bytes", len(document),
		)
	}
	return paths, nil
}
