package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Electron-Labs/nitro-attestation/pkg/store"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

func TestLatestCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := store.OpenArchive(path)
	require.NoError(t, err)
	for i, pcr := range [][]byte{{0x01}, {0xab, 0xcd}} {
		_, err := a.Record(context.Background(), store.Record{
			FetchedAt:    time.UnixMilli(1_700_000_000_000).Add(time.Duration(i) * time.Minute),
			Addr:         types.Address{CID: 16, Port: 5000},
			ModuleID:     "i-0123456789abcdef0-enc0123456789abcdef",
			DocTimestamp: 1_700_000_000_000,
			PCRIndex:     0,
			PCR:          pcr,
			Document:     []byte("DOC123"),
		})
		require.NoError(t, err)
	}
	require.NoError(t, a.Close())

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"attestation-client", "latest", "--archive-db", path}))

	assert.Contains(t, out.String(), "Record:     2 of 2")
	assert.Contains(t, out.String(), "Enclave:    vsock://16:5000")
	assert.Contains(t, out.String(), "PCR0:       abcd")
	assert.Contains(t, out.String(), "Document:   6 bytes")
}

func TestLatestCommandErrors(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"attestation-client", "latest"})
	assert.ErrorContains(t, err, "--archive-db is required")

	app = newApp()
	app.Writer = &bytes.Buffer{}
	err = app.Run([]string{"attestation-client", "latest", "--archive-db", filepath.Join(t.TempDir(), "missing.db")})
	assert.ErrorContains(t, err, "failed to open archive")

	empty := filepath.Join(t.TempDir(), "empty.db")
	a, err := store.OpenArchive(empty)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	app = newApp()
	app.Writer = &bytes.Buffer{}
	err = app.Run([]string{"attestation-client", "latest", "--archive-db", empty})
	assert.ErrorIs(t, err, store.ErrEmptyArchive)
}
