package attestation_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
	"github.com/Electron-Labs/nitro-attestation/pkg/attestation/attestationtest"
	"github.com/Electron-Labs/nitro-attestation/pkg/types"
)

var testPCRs = map[uint][]byte{0: {0x01, 0x02}, 1: {0x03}}

func TestExtractRegister(t *testing.T) {
	f := attestationtest.New(t)
	raw := f.Sign(t, f.Document(testPCRs))
	v := &attestation.CertificateVerifier{Roots: f.Roots}

	pcr0, err := attestation.ExtractRegister(raw, 0, v)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, pcr0)

	_, err = attestation.ExtractRegister(raw, 2, v)
	assert.ErrorIs(t, err, types.ErrMissingRegister)
	assert.ErrorIs(t, err, types.ErrLookup)
}

func TestOpenDecodesDocument(t *testing.T) {
	f := attestationtest.New(t)
	raw := f.Sign(t, f.Document(testPCRs))

	doc, err := attestation.Open(raw, &attestation.CertificateVerifier{})
	require.NoError(t, err)
	assert.Equal(t, "i-0123456789abcdef0-enc0123456789abcdef", doc.ModuleID)
	assert.Equal(t, "SHA384", doc.Digest)
	assert.True(t, f.Now.Equal(doc.IssuedAt()))
	assert.Equal(t, []byte("hello, world!"), doc.UserData)
	assert.Len(t, doc.PCRs, 2)
}

func TestTaggedEnvelope(t *testing.T) {
	f := attestationtest.New(t)
	raw := f.Sign(t, f.Document(testPCRs))
	tagged, err := cbor.Marshal(cbor.RawTag{Number: 18, Content: raw})
	require.NoError(t, err)

	pcr0, err := attestation.ExtractRegister(tagged, 0, &attestation.CertificateVerifier{Roots: f.Roots})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, pcr0)

	wrongTag, err := cbor.Marshal(cbor.RawTag{Number: 98, Content: raw})
	require.NoError(t, err)
	_, err = attestation.ParseEnvelope(wrongTag)
	assert.ErrorIs(t, err, types.ErrMalformedEnvelope)
}

func TestTamperedSignature(t *testing.T) {
	f := attestationtest.New(t)
	raw := f.Sign(t, f.Document(testPCRs))

	env, err := attestation.ParseEnvelope(raw)
	require.NoError(t, err)
	env.Signature[10] ^= 0xff
	tampered, err := env.Marshal()
	require.NoError(t, err)

	_, err = attestation.ExtractRegister(tampered, 0, &attestation.CertificateVerifier{Roots: f.Roots})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrVerification)
	assert.NotErrorIs(t, err, types.ErrDecode)
}

func TestTamperedPayload(t *testing.T) {
	f := attestationtest.New(t)
	raw := f.Sign(t, f.Document(testPCRs))

	env, err := attestation.ParseEnvelope(raw)
	require.NoError(t, err)
	doc, err := attestation.DecodeDocument(env.Payload)
	require.NoError(t, err)
	doc.PCRs[0] = []byte{0xde, 0xad}
	env.Payload, err = doc.Encode()
	require.NoError(t, err)
	tampered, err := env.Marshal()
	require.NoError(t, err)

	_, err = attestation.ExtractRegister(tampered, 0, &attestation.CertificateVerifier{})
	assert.ErrorIs(t, err, types.ErrVerification)
}

func TestSignedByForeignKey(t *testing.T) {
	f := attestationtest.New(t)
	other := attestationtest.New(t)
	payload, err := f.Document(testPCRs).Encode()
	require.NoError(t, err)
	raw := f.SignPayload(t, payload, other.LeafKey)

	_, err = attestation.Open(raw, &attestation.CertificateVerifier{})
	assert.ErrorIs(t, err, types.ErrVerification)
}

func TestUntrustedChain(t *testing.T) {
	f := attestationtest.New(t)
	other := attestationtest.New(t)
	raw := f.Sign(t, f.Document(testPCRs))

	_, err := attestation.Open(raw, &attestation.CertificateVerifier{Roots: other.Roots})
	assert.ErrorIs(t, err, types.ErrVerification)
}

func TestExpiredCertificate(t *testing.T) {
	f := attestationtest.New(t)
	raw := f.Sign(t, f.Document(testPCRs))
	v := &attestation.CertificateVerifier{
		Roots:       f.Roots,
		CurrentTime: func() time.Time { return f.Now.Add(48 * time.Hour) },
	}

	_, err := attestation.Open(raw, v)
	assert.ErrorIs(t, err, types.ErrVerification)
}

func TestMalformedEnvelope(t *testing.T) {
	for name, raw := range map[string][]byte{
		"empty":      nil,
		"garbage":    []byte("DOC123"),
		"short":      mustCBOR(t, []any{[]byte{0xa0}, map[int]int{}}),
		"no alg":     mustCBOR(t, []any{mustCBOR(t, map[int]int{}), map[int]int{}, []byte("p"), []byte("s")}),
		"no sig":     mustCBOR(t, []any{mustCBOR(t, map[int]int{1: -35}), map[int]int{}, []byte("p"), []byte{}}),
		"no payload": mustCBOR(t, []any{mustCBOR(t, map[int]int{1: -35}), map[int]int{}, []byte(nil), []byte("s")}),
	} {
		_, err := attestation.ExtractRegister(raw, 0, attestation.Unverified)
		assert.ErrorIs(t, err, types.ErrMalformedEnvelope, name)
		assert.ErrorIs(t, err, types.ErrDecode, name)
	}
}

func TestMalformedDocument(t *testing.T) {
	f := attestationtest.New(t)

	raw := f.SignPayload(t, mustCBOR(t, "not a document"), f.LeafKey)
	_, err := attestation.Open(raw, attestation.Unverified)
	assert.ErrorIs(t, err, types.ErrMalformedDocument)

	doc := f.Document(testPCRs)
	doc.ModuleID = ""
	_, err = attestation.Open(f.Sign(t, doc), &attestation.CertificateVerifier{})
	assert.ErrorIs(t, err, types.ErrMalformedDocument)
}

func TestEnvelopeAlgorithm(t *testing.T) {
	f := attestationtest.New(t)
	env, err := attestation.ParseEnvelope(f.Sign(t, f.Document(testPCRs)))
	require.NoError(t, err)

	alg, err := env.Algorithm()
	require.NoError(t, err)
	assert.Equal(t, cose.AlgorithmES384, alg)

	tagged, err := env.Sign1Message.MarshalCBOR()
	require.NoError(t, err)
	pcr0, err := attestation.ExtractRegister(tagged, 0, &attestation.CertificateVerifier{Roots: f.Roots})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, pcr0)
}

func TestAlgorithmKeyMismatch(t *testing.T) {
	for _, alg := range []cose.Algorithm{cose.AlgorithmES256, cose.AlgorithmES512, cose.AlgorithmPS256} {
		t.Run(alg.String(), func(t *testing.T) {
			f := attestationtest.New(t)
			env, err := attestation.ParseEnvelope(f.Sign(t, f.Document(testPCRs)))
			require.NoError(t, err)
			env.Headers.RawProtected = nil
			env.Headers.Protected.SetAlgorithm(alg)
			reencoded, err := env.Marshal()
			require.NoError(t, err)

			_, err = attestation.Open(reencoded, &attestation.CertificateVerifier{})
			assert.ErrorIs(t, err, types.ErrVerification)
		})
	}
}

func TestSerializedSource(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	src := attestation.Serialized(attestation.SourceFunc(func(context.Context) ([]byte, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return []byte("DOC123"), nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := src.RequestDocument(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, []byte("DOC123"), doc)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.bin")
	require.NoError(t, os.WriteFile(path, []byte("DOC123"), 0600))

	doc, err := attestation.FileSource{Path: path}.RequestDocument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("DOC123"), doc)

	_, err = attestation.FileSource{Path: path + ".missing"}.RequestDocument(context.Background())
	assert.ErrorIs(t, err, types.ErrSource)
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	require.NoError(t, err)
	return b
}
