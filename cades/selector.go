package cades

import (
	"bytes"
	"crypto/x509"
)

// CertificateSelector decides which certificates accompany a new
// signature in the envelope's certificate store. The signing certificate
// must be the first element of the returned slice.
type CertificateSelector interface {
	SelectCertificates(params *SignatureParameters) ([]*x509.Certificate, error)
}

// VerifierSettings configure the baseline selector: the candidate
// certificates available for chain building and the trust anchors that
// terminate a chain.
type VerifierSettings struct {
	// CandidateCertificates are intermediates considered during chain
	// construction, e.g. certificates delivered alongside the signing
	// certificate.
	CandidateCertificates []*x509.Certificate

	// TrustAnchors terminate the chain. Depending on IncludeAnchors they
	// are appended to the selection or left out.
	TrustAnchors []*x509.Certificate

	// IncludeAnchors controls whether trust anchors appear in the
	// envelope's certificate store. Baseline profiles normally omit them.
	IncludeAnchors bool
}

// BaselineCertificateSelector builds the certificate list for a baseline
// signature: the signing certificate first, followed by its chain up to
// (and optionally including) a trust anchor.
type BaselineCertificateSelector struct {
	settings VerifierSettings
}

// NewBaselineCertificateSelector returns a selector over the given
// settings.
func NewBaselineCertificateSelector(settings VerifierSettings) *BaselineCertificateSelector {
	return &BaselineCertificateSelector{settings: settings}
}

// SelectCertificates walks the issuer chain from the signing certificate
// through the candidate set. The signing certificate is always first; the
// walk stops at a self-signed certificate, at a trust anchor, or when no
// candidate issued the current certificate. Duplicates are never emitted.
func (s *BaselineCertificateSelector) SelectCertificates(params *SignatureParameters) ([]*x509.Certificate, error) {
	cert, ok := params.Identity.Certificate()
	if !ok {
		return nil, ErrMissingSigningCertificate
	}

	chain := []*x509.Certificate{cert}
	current := cert
	for {
		if isSelfSigned(current) {
			break
		}
		if anchor := s.findIssuer(s.settings.TrustAnchors, current); anchor != nil {
			if s.settings.IncludeAnchors && !containsCertificate(chain, anchor) {
				chain = append(chain, anchor)
			}
			break
		}
		issuer := s.findIssuer(s.settings.CandidateCertificates, current)
		if issuer == nil || containsCertificate(chain, issuer) {
			break
		}
		chain = append(chain, issuer)
		current = issuer
	}
	return chain, nil
}

// findIssuer returns the first certificate of pool that issued cert, or
// nil.
func (s *BaselineCertificateSelector) findIssuer(pool []*x509.Certificate, cert *x509.Certificate) *x509.Certificate {
	for _, candidate := range pool {
		if !bytes.Equal(cert.RawIssuer, candidate.RawSubject) {
			continue
		}
		if err := cert.CheckSignatureFrom(candidate); err != nil {
			continue
		}
		return candidate
	}
	return nil
}

func isSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignatureFrom(cert) == nil
}

func containsCertificate(list []*x509.Certificate, cert *x509.Certificate) bool {
	for _, c := range list {
		if bytes.Equal(c.Raw, cert.Raw) {
			return true
		}
	}
	return false
}
