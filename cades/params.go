// Package cades builds and extends CAdES signature envelopes: it
// assembles CMS SignedData containers carrying a signature, the signer's
// certificate chain and revocation evidence, and merges additional
// validation material into existing containers without touching the
// original signature bytes.
package cades

import (
	"crypto/x509"
	"encoding/asn1"
	"time"

	"github.com/georgepadayatti/gocades/cms"
)

// SigningIdentity identifies the signer of a new envelope. It is either
// bound to a certificate or an explicit placeholder used to generate
// data-to-be-signed before a certificate is available. The zero value is
// neither, and is rejected by the signer descriptor factory.
type SigningIdentity struct {
	cert        *x509.Certificate
	placeholder bool
}

// IdentityFromCertificate returns an identity bound to the given signing
// certificate.
func IdentityFromCertificate(cert *x509.Certificate) (SigningIdentity, error) {
	if cert == nil {
		return SigningIdentity{}, ErrMissingSigningCertificate
	}
	return SigningIdentity{cert: cert}, nil
}

// PlaceholderIdentity returns the identity used to generate
// data-to-be-signed without a signing certificate. The resulting envelope
// carries a placeholder signer identifier and an empty certificate store;
// it is not a complete verifiable signature.
func PlaceholderIdentity() SigningIdentity {
	return SigningIdentity{placeholder: true}
}

// Certificate returns the bound certificate, if any.
func (id SigningIdentity) Certificate() (*x509.Certificate, bool) {
	return id.cert, id.cert != nil
}

// IsPlaceholder reports whether the identity is the no-certificate
// placeholder.
func (id SigningIdentity) IsPlaceholder() bool {
	return id.placeholder
}

// valid reports whether the identity is usable: bound to a certificate or
// explicitly a placeholder.
func (id SigningIdentity) valid() bool {
	return id.cert != nil || id.placeholder
}

// SignatureParameters drive the construction of a new signature.
type SignatureParameters struct {
	// Identity is the signer identity. Required.
	Identity SigningIdentity

	// SigningTime is embedded as the signing-time signed attribute.
	// The zero value means the attribute is omitted.
	SigningTime time.Time

	// Detached omits the encapsulated content from the envelope.
	Detached bool

	// ContentType is the eContentType OID. Defaults to id-data.
	ContentType asn1.ObjectIdentifier

	// CommitmentType is an optional commitment-type-indication OID
	// (e.g. proof of origin or proof of approval).
	CommitmentType asn1.ObjectIdentifier

	// ContentHints is an optional content-hints attribute describing the
	// innermost encapsulated content. Nil means the attribute is omitted.
	ContentHints *ContentHints

	// ExtraSignedAttributes are appended to the baseline signed attribute
	// table. The mandatory content-type and message-digest attributes are
	// injected automatically and must not appear here.
	ExtraSignedAttributes AttributeTable

	// UnsignedAttributes is the unsigned attribute table for the new
	// signer, e.g. a signature timestamp token.
	UnsignedAttributes AttributeTable
}

// EContentType returns the configured content type, defaulting to id-data.
func (p *SignatureParameters) EContentType() asn1.ObjectIdentifier {
	if len(p.ContentType) == 0 {
		return cms.OIDData
	}
	return p.ContentType
}

// Commitment type OIDs from ETSI TS 119 172-1, RFC 5126
var (
	OIDProofOfOrigin   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 1}
	OIDProofOfReceipt  = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 2}
	OIDProofOfDelivery = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 3}
	OIDProofOfSender   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 4}
	OIDProofOfApproval = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 5}
	OIDProofOfCreation = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 6, 6}
)
