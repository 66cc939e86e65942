// Package attestationtest builds signed attestation documents for tests: a
// P-384 root and leaf certificate pair standing in for the Nitro PKI.
package attestationtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"github.com/Electron-Labs/nitro-attestation/pkg/attestation"
)

type Fixture struct {
	Root    *x509.Certificate
	RootKey *ecdsa.PrivateKey
	Leaf    *x509.Certificate
	LeafKey *ecdsa.PrivateKey
	Roots   *x509.CertPool
	Now     time.Time
}

func New(t testing.TB) *Fixture {
	t.Helper()
	now := time.Now().Truncate(time.Second)

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test.nitro-enclaves"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	root, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "i-0123456789abcdef0-enc0123456789abcdef"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(3 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(root)

	return &Fixture{
		Root:    root,
		RootKey: rootKey,
		Leaf:    leaf,
		LeafKey: leafKey,
		Roots:   roots,
		Now:     now,
	}
}

// Document returns a document signed by the fixture's leaf with the given PCRs.
func (f *Fixture) Document(pcrs map[uint][]byte) *attestation.Document {
	return &attestation.Document{
		ModuleID:    "i-0123456789abcdef0-enc0123456789abcdef",
		Digest:      "SHA384",
		Timestamp:   uint64(f.Now.UnixMilli()),
		PCRs:        pcrs,
		Certificate: f.Leaf.Raw,
		CABundle:    [][]byte{f.Root.Raw},
		UserData:    []byte("hello, world!"),
	}
}

// Sign encodes doc and wraps it in an ES384 COSE_Sign1 envelope signed by the
// leaf key.
func (f *Fixture) Sign(t testing.TB, doc *attestation.Document) []byte {
	t.Helper()
	payload, err := doc.Encode()
	require.NoError(t, err)
	return f.SignPayload(t, payload, f.LeafKey)
}

// SignPayload signs an arbitrary payload with key as an untagged ES384
// COSE_Sign1 message.
func (f *Fixture) SignPayload(t testing.TB, payload []byte, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	signer, err := cose.NewSigner(cose.AlgorithmES384, key)
	require.NoError(t, err)

	env := &attestation.Envelope{}
	env.Headers.Protected = cose.ProtectedHeader{}
	env.Headers.Protected.SetAlgorithm(cose.AlgorithmES384)
	env.Payload = payload
	require.NoError(t, env.Sign(rand.Reader, nil, signer))

	raw, err := env.Marshal()
	require.NoError(t, err)
	return raw
}
