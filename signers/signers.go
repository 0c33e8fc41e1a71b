// Package signers provides the signature operators consumed by the
// envelope builder: local private keys, externally produced (remote)
// signatures, and PKCS#11 hardware tokens.
package signers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/georgepadayatti/gocades/cms"
)

// Common errors
var (
	ErrNilKey             = errors.New("private key is nil")
	ErrUnsupportedKeyType = errors.New("unsupported private key type")
	ErrEmptySignature     = errors.New("precomputed signature is empty")
)

// Operator computes the cryptographic signature over the digest of the
// DER-encoded signed attributes. Implementations carry the algorithm
// identifiers the resulting SignerInfo advertises.
type Operator interface {
	// Algorithm returns the digest/signature algorithm pair.
	Algorithm() cms.SignatureAlgorithm

	// SignDigest signs the given digest.
	SignDigest(digest []byte) ([]byte, error)
}

// KeyOperator signs with a local crypto.Signer.
type KeyOperator struct {
	key crypto.Signer
	alg cms.SignatureAlgorithm
}

// NewKeyOperator creates an operator from a private key and a digest
// algorithm name ("sha256", "sha384" or "sha512"; empty defaults to
// SHA-256). The signature algorithm family is detected from the key type.
func NewKeyOperator(key crypto.Signer, digest string) (*KeyOperator, error) {
	if key == nil {
		return nil, ErrNilKey
	}
	var family string
	switch key.Public().(type) {
	case *rsa.PublicKey:
		family = "rsa"
	case *ecdsa.PublicKey:
		family = "ecdsa"
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, key.Public())
	}
	alg, err := cms.SignatureAlgorithmByName(digest, family)
	if err != nil {
		return nil, fmt.Errorf("%w for %s key", err, family)
	}
	return &KeyOperator{key: key, alg: alg}, nil
}

// Algorithm returns the operator's algorithm pair.
func (o *KeyOperator) Algorithm() cms.SignatureAlgorithm {
	return o.alg
}

// SignDigest signs the digest with the wrapped key. RSA keys use
// PKCS#1 v1.5; ECDSA keys produce a DER-encoded Ecdsa-Sig-Value.
func (o *KeyOperator) SignDigest(digest []byte) ([]byte, error) {
	switch key := o.key.(type) {
	case *rsa.PrivateKey:
		return rsa.SignPKCS1v15(rand.Reader, key, o.alg.Hash, digest)
	default:
		return o.key.Sign(rand.Reader, digest, o.alg.Hash)
	}
}

// PrecomputedOperator carries a signature produced out of band, e.g. by a
// remote signing service completing a data-to-be-signed exchange.
type PrecomputedOperator struct {
	alg cms.SignatureAlgorithm
	sig []byte
}

// NewPrecomputedOperator creates an operator around an externally produced
// signature value.
func NewPrecomputedOperator(alg cms.SignatureAlgorithm, signature []byte) (*PrecomputedOperator, error) {
	if len(signature) == 0 {
		return nil, ErrEmptySignature
	}
	cp := make([]byte, len(signature))
	copy(cp, signature)
	return &PrecomputedOperator{alg: alg, sig: cp}, nil
}

// Algorithm returns the operator's algorithm pair.
func (o *PrecomputedOperator) Algorithm() cms.SignatureAlgorithm {
	return o.alg
}

// SignDigest returns the precomputed signature. The digest is ignored; the
// caller is responsible for having signed the same data-to-be-signed.
func (o *PrecomputedOperator) SignDigest(digest []byte) ([]byte, error) {
	out := make([]byte, len(o.sig))
	copy(out, o.sig)
	return out, nil
}
