// Package revocation provides the revocation evidence tokens (CRLs and
// OCSP responses) and the validation-data bag that is folded into a signed
// envelope to support long-term verification.
package revocation

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/ocsp"
)

// Common errors
var (
	ErrEmptyCRL          = errors.New("CRL token has no data")
	ErrEmptyOCSPResponse = errors.New("OCSP token has no data")
	ErrInvalidCRL        = errors.New("invalid CRL encoding")
	ErrInvalidOCSP       = errors.New("invalid OCSP response encoding")
)

// CRLToken is a certificate revocation list held as its encoded bytes.
// The underlying data is exposed as a stream so callers converting the
// token can use scoped acquisition.
type CRLToken struct {
	der []byte
}

// NewCRLToken creates a CRL token from DER bytes.
func NewCRLToken(der []byte) (*CRLToken, error) {
	if len(der) == 0 {
		return nil, ErrEmptyCRL
	}
	cp := make([]byte, len(der))
	copy(cp, der)
	return &CRLToken{der: cp}, nil
}

// OpenStream returns a reader over the token's encoded bytes. The caller
// must close it on every exit path.
func (t *CRLToken) OpenStream() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(t.der))
}

// Parse decodes the token into an x509 revocation list.
func (t *CRLToken) Parse() (*x509.RevocationList, error) {
	crl, err := x509.ParseRevocationList(t.der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCRL, err)
	}
	return crl, nil
}

// OCSPToken is an OCSP response held as its encoded BasicOCSPResponse
// bytes.
type OCSPToken struct {
	der []byte
}

// NewOCSPToken creates an OCSP token from an encoded response. The
// encoding is checked up front so a malformed response fails at
// construction rather than at merge time.
func NewOCSPToken(der []byte) (*OCSPToken, error) {
	if len(der) == 0 {
		return nil, ErrEmptyOCSPResponse
	}
	if _, err := ocsp.ParseResponse(der, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOCSP, err)
	}
	cp := make([]byte, len(der))
	copy(cp, der)
	return &OCSPToken{der: cp}, nil
}

// Encoded returns the encoded response bytes.
func (t *OCSPToken) Encoded() []byte {
	out := make([]byte, len(t.der))
	copy(out, t.der)
	return out
}

// Parse decodes the token with the ocsp package.
func (t *OCSPToken) Parse() (*ocsp.Response, error) {
	resp, err := ocsp.ParseResponse(t.der, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOCSP, err)
	}
	return resp, nil
}

// ValidationData is a bag of certificates and revocation evidence to be
// folded into an existing envelope. All collections have set semantics:
// a token already present by encoded-byte equality is not added again.
type ValidationData struct {
	certs      []*x509.Certificate
	crlTokens  []*CRLToken
	ocspTokens []*OCSPToken
}

// NewValidationData creates an empty validation-data bag.
func NewValidationData() *ValidationData {
	return &ValidationData{}
}

// AddCertificate adds a certificate unless one with identical encoded
// bytes is already present.
func (vd *ValidationData) AddCertificate(cert *x509.Certificate) {
	if cert == nil {
		return
	}
	for _, existing := range vd.certs {
		if bytes.Equal(existing.Raw, cert.Raw) {
			return
		}
	}
	vd.certs = append(vd.certs, cert)
}

// AddCRLToken adds a CRL token unless an identical one is already present.
func (vd *ValidationData) AddCRLToken(token *CRLToken) {
	if token == nil {
		return
	}
	for _, existing := range vd.crlTokens {
		if bytes.Equal(existing.der, token.der) {
			return
		}
	}
	vd.crlTokens = append(vd.crlTokens, token)
}

// AddOCSPToken adds an OCSP token unless an identical one is already
// present.
func (vd *ValidationData) AddOCSPToken(token *OCSPToken) {
	if token == nil {
		return
	}
	for _, existing := range vd.ocspTokens {
		if bytes.Equal(existing.der, token.der) {
			return
		}
	}
	vd.ocspTokens = append(vd.ocspTokens, token)
}

// Certificates returns the certificate tokens.
func (vd *ValidationData) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), vd.certs...)
}

// CRLTokens returns the CRL tokens.
func (vd *ValidationData) CRLTokens() []*CRLToken {
	return append([]*CRLToken(nil), vd.crlTokens...)
}

// OCSPTokens returns the OCSP tokens.
func (vd *ValidationData) OCSPTokens() []*OCSPToken {
	return append([]*OCSPToken(nil), vd.ocspTokens...)
}

// IsEmpty reports whether the bag contains no tokens at all.
func (vd *ValidationData) IsEmpty() bool {
	return len(vd.certs) == 0 && len(vd.crlTokens) == 0 && len(vd.ocspTokens) == 0
}
