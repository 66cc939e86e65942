// Package wire implements the framing used between the enclave attestation
// server and its clients: fixed-width 8-byte little-endian integers and
// length-prefixed payloads, read and written with exact-length loops.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

// LengthSize is the width in bytes of every integer on the wire.
const LengthSize = 8

var byteOrder = binary.LittleEndian

// SendExact writes every byte of buf to w, continuing after partial writes.
func SendExact(w io.Writer, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, err := w.Write(buf[sent:])
		sent += n
		if err != nil {
			return classify(err, "write", sent, len(buf))
		}
		if n == 0 {
			return fmt.Errorf("%w: wrote %d of %d bytes", types.ErrShortWrite, sent, len(buf))
		}
	}
	return nil
}

// RecvExact fills buf completely from r, continuing after partial reads.
// It fails with types.ErrPeerClosed when the stream ends first.
func RecvExact(r io.Reader, buf []byte) error {
	received := 0
	for received < len(buf) {
		n, err := r.Read(buf[received:])
		received += n
		if received == len(buf) {
			return nil
		}
		if err != nil {
			return classify(err, "read", received, len(buf))
		}
	}
	return nil
}

// SendUint64 writes v as an 8-byte little-endian integer.
func SendUint64(w io.Writer, v uint64) error {
	var buf [LengthSize]byte
	byteOrder.PutUint64(buf[:], v)
	return SendExact(w, buf[:])
}

// RecvUint64 reads an 8-byte little-endian integer.
func RecvUint64(r io.Reader) (uint64, error) {
	var buf [LengthSize]byte
	if err := RecvExact(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(buf[:]), nil
}

// SendLength writes the length prefix of a payload.
func SendLength(w io.Writer, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", types.ErrProtocol, n)
	}
	return SendUint64(w, uint64(n))
}

// RecvLength reads a length prefix and rejects values above limit before
// anything is allocated for the payload.
func RecvLength(r io.Reader, limit int) (int, error) {
	n, err := RecvUint64(r)
	if err != nil {
		return 0, err
	}
	if n > uint64(limit) {
		return 0, fmt.Errorf("%w: %d > %d", types.ErrOversizeMessage, n, limit)
	}
	return int(n), nil
}

// WriteMessage sends len(payload) followed by payload. Payloads larger than
// limit are refused without writing anything.
func WriteMessage(w io.Writer, payload []byte, limit int) error {
	if len(payload) > limit {
		return fmt.Errorf("%w: %d > %d", types.ErrOversizeMessage, len(payload), limit)
	}
	if err := SendLength(w, len(payload)); err != nil {
		return fmt.Errorf("failed to send length: %w", err)
	}
	if err := SendExact(w, payload); err != nil {
		return fmt.Errorf("failed to send payload: %w", err)
	}
	return nil
}

// ReadMessage receives a length prefix and exactly that many payload bytes.
func ReadMessage(r io.Reader, limit int) ([]byte, error) {
	n, err := RecvLength(r, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to receive length: %w", err)
	}
	payload := make([]byte, n)
	if err := RecvExact(r, payload); err != nil {
		return nil, fmt.Errorf("failed to receive payload: %w", err)
	}
	return payload, nil
}

func classify(err error, op string, done, want int) error {
	if isPeerClosed(err) {
		return fmt.Errorf("%w: %s %d of %d bytes: %w", types.ErrPeerClosed, op, done, want, err)
	}
	return fmt.Errorf("%w: %s %d of %d bytes: %w", types.ErrTransport, op, done, want, err)
}

func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
