package cades

import (
	"crypto"
	"encoding/asn1"
	"fmt"

	"github.com/georgepadayatti/gocades/cms"
	"github.com/georgepadayatti/gocades/signers"
)

// SignerDescriptor is the per-signer generator state: the signature
// operator, the signer identity, and the attribute tables the new
// SignerInfo will carry. Descriptors are created fresh per signing
// operation and are not mutated afterwards.
type SignerDescriptor struct {
	operator      signers.Operator
	identity      SigningIdentity
	signedAttrs   AttributeTable
	unsignedAttrs AttributeTable
}

// NewSignerDescriptor builds a signer descriptor. identity must be bound
// to a certificate or be the explicit placeholder; the zero identity
// fails with ErrMissingSigningCertificate. Attribute tables are
// normalized so that empty tables are treated as absent.
func NewSignerDescriptor(operator signers.Operator, identity SigningIdentity, signedAttrs, unsignedAttrs AttributeTable) (*SignerDescriptor, error) {
	if !identity.valid() {
		return nil, ErrMissingSigningCertificate
	}
	if operator == nil {
		return nil, fmt.Errorf("%w: operator is nil", ErrOperatorCreation)
	}
	return &SignerDescriptor{
		operator:      operator,
		identity:      identity,
		signedAttrs:   signedAttrs.Normalize(),
		unsignedAttrs: unsignedAttrs.Normalize(),
	}, nil
}

// NewSignerDescriptorFromKey is a convenience constructor wrapping a local
// private key in a KeyOperator. Operator construction failures are
// reported as ErrOperatorCreation with the cause preserved.
func NewSignerDescriptorFromKey(key crypto.Signer, digest string, identity SigningIdentity, signedAttrs, unsignedAttrs AttributeTable) (*SignerDescriptor, error) {
	if !identity.valid() {
		return nil, ErrMissingSigningCertificate
	}
	operator, err := signers.NewKeyOperator(key, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperatorCreation, err)
	}
	return NewSignerDescriptor(operator, identity, signedAttrs, unsignedAttrs)
}

// Identity returns the descriptor's signer identity.
func (d *SignerDescriptor) Identity() SigningIdentity {
	return d.identity
}

// Algorithm returns the operator's algorithm pair.
func (d *SignerDescriptor) Algorithm() cms.SignatureAlgorithm {
	return d.operator.Algorithm()
}

// signedAttributeSet assembles and DER-encodes the complete signed
// attribute SET for the given parameters and content digest: the
// descriptor's pre-built table plus the automatically injected mandatory
// attributes.
func (d *SignerDescriptor) signedAttributeSet(params *SignatureParameters, contentDigest []byte) ([]byte, error) {
	table, err := buildBaselineSignedAttributes(params, d.operator.Algorithm(), contentDigest)
	if err != nil {
		return nil, err
	}
	merged := append(AttributeTable(nil), table...)
	for _, attr := range d.signedAttrs {
		if merged.Has(attr.Type) {
			continue
		}
		merged = append(merged, attr)
	}
	return marshalAttributeSet(merged)
}

// generate produces the raw SignerInfo for this signer over the given
// content digest: it signs the DER-encoded signed attribute SET and
// assembles the wire structure with the identity's signer identifier.
func (d *SignerDescriptor) generate(params *SignatureParameters, contentDigest []byte) (asn1.RawValue, error) {
	alg := d.operator.Algorithm()

	setBytes, err := d.signedAttributeSet(params, contentDigest)
	if err != nil {
		return asn1.RawValue{}, err
	}

	h := alg.Hash.New()
	h.Write(setBytes)
	signature, err := d.operator.SignDigest(h.Sum(nil))
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("signing attribute digest: %w", err)
	}

	sid, version, err := d.identity.signerIdentifier()
	if err != nil {
		return asn1.RawValue{}, err
	}

	si := cms.SignerInfo{
		Version:            version,
		SID:                sid,
		DigestAlgorithm:    alg.DigestAlgorithmIdentifier(),
		SignedAttrs:        asn1.RawValue{FullBytes: retagImplicit(setBytes, 0)},
		SignatureAlgorithm: alg.SignatureAlgorithmIdentifier(),
		Signature:          signature,
	}

	if len(d.unsignedAttrs) > 0 {
		unsignedBytes, err := marshalAttributeSet(d.unsignedAttrs)
		if err != nil {
			return asn1.RawValue{}, err
		}
		si.UnsignedAttrs = asn1.RawValue{FullBytes: retagImplicit(unsignedBytes, 1)}
	}

	encoded, err := asn1.Marshal(si)
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("marshal SignerInfo: %w", err)
	}
	return asn1.RawValue{FullBytes: encoded}, nil
}

// signerIdentifier encodes the SignerIdentifier CHOICE and returns the
// SignerInfo version it mandates: IssuerAndSerialNumber for a certificate
// (version 1), or a SubjectKeyIdentifier with an empty octet string for
// the placeholder (version 3).
func (id SigningIdentity) signerIdentifier() (asn1.RawValue, int, error) {
	if cert, ok := id.Certificate(); ok {
		encoded, err := asn1.Marshal(cms.IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
			SerialNumber: cert.SerialNumber,
		})
		if err != nil {
			return asn1.RawValue{}, 0, fmt.Errorf("marshal IssuerAndSerialNumber: %w", err)
		}
		return asn1.RawValue{FullBytes: encoded}, 1, nil
	}

	// Placeholder: [0] IMPLICIT OCTET STRING, empty.
	encoded, err := asn1.Marshal(asn1.RawValue{
		Class: asn1.ClassContextSpecific,
		Tag:   0,
		Bytes: []byte{},
	})
	if err != nil {
		return asn1.RawValue{}, 0, fmt.Errorf("marshal placeholder SubjectKeyIdentifier: %w", err)
	}
	return asn1.RawValue{FullBytes: encoded}, 3, nil
}

// DataToBeSigned returns the DER-encoded signed attribute SET the
// signature must cover, for signing out of band (e.g. by a remote
// service). content is the document content; its digest is computed with
// the descriptor's digest algorithm.
func (d *SignerDescriptor) DataToBeSigned(params *SignatureParameters, content []byte) ([]byte, error) {
	h := d.operator.Algorithm().Hash.New()
	h.Write(content)
	return d.signedAttributeSet(params, h.Sum(nil))
}
