package attestation

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// Verifier checks an envelope's signature and returns its payload.
type Verifier interface {
	Verify(env *Envelope) ([]byte, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(env *Envelope) ([]byte, error)

func (f VerifierFunc) Verify(env *Envelope) ([]byte, error) {
	return f(env)
}

// Unverified returns the payload without checking the signature. It matches
// extracting a payload with no key and must only be used for inspection.
var Unverified Verifier = VerifierFunc(func(env *Envelope) ([]byte, error) {
	return env.Payload, nil
})

// certificateFields is the subset of the payload needed before it is trusted.
type certificateFields struct {
	Certificate []byte   `cbor:"certificate"`
	CABundle    [][]byte `cbor:"cabundle"`
}

// CertificateVerifier checks the envelope against the leaf certificate that
// the document carries. With Roots set, the leaf must also chain to one of
// them through the document's CA bundle.
type CertificateVerifier struct {
	Roots *x509.CertPool

	// CurrentTime is used for chain validation; nil means time.Now.
	CurrentTime func() time.Time
}

func (v *CertificateVerifier) Verify(env *Envelope) ([]byte, error) {
	var fields certificateFields
	if err := cbor.Unmarshal(env.Payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to read signing certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(fields.Certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing certificate: %w", err)
	}

	if err := verifySignature(env, leaf.PublicKey); err != nil {
		return nil, err
	}

	if v.Roots != nil {
		if err := v.verifyChain(leaf, fields.CABundle); err != nil {
			return nil, err
		}
	}
	return env.Payload, nil
}

func (v *CertificateVerifier) verifyChain(leaf *x509.Certificate, bundle [][]byte) error {
	intermediates := x509.NewCertPool()
	// The first bundle entry is the root; the rest lead down to the leaf.
	for i, der := range bundle {
		if i == 0 {
			continue
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("failed to parse CA bundle entry %d: %w", i, err)
		}
		intermediates.AddCert(cert)
	}

	now := time.Now
	if v.CurrentTime != nil {
		now = v.CurrentTime
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.Roots,
		Intermediates: intermediates,
		CurrentTime:   now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("certificate chain: %w", err)
	}
	return nil
}

func verifySignature(env *Envelope, key crypto.PublicKey) error {
	alg, err := env.Algorithm()
	if err != nil {
		return err
	}
	verifier, err := cose.NewVerifier(alg, key)
	if err != nil {
		return fmt.Errorf("unusable signing key for %s: %w", alg, err)
	}
	if err := env.Verify(nil, verifier); err != nil {
		return fmt.Errorf("COSE_Sign1 signature: %w", err)
	}
	return nil
}
