package cades

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"sort"

	"github.com/georgepadayatti/gocades/cms"
)

// OID definitions for CMS/CAdES attributes
var (
	OIDContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	OIDCommitmentType       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 16}
	OIDContentHints         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 4}

	// Signature timestamp (RFC 3161), carried as an unsigned attribute
	OIDSignatureTimeStampToken = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
)

// AttributeTable is an ordered collection of CMS attributes.
type AttributeTable []cms.Attribute

// Normalize maps a logically empty table to nil so downstream encoding
// omits the field entirely. An empty-but-present attribute SET and an
// absent one are not equivalent on the wire.
func (t AttributeTable) Normalize() AttributeTable {
	if len(t) == 0 {
		return nil
	}
	return t
}

// Get retrieves an attribute by OID, or nil.
func (t AttributeTable) Get(oid asn1.ObjectIdentifier) *cms.Attribute {
	for i := range t {
		if t[i].Type.Equal(oid) {
			return &t[i]
		}
	}
	return nil
}

// Has reports whether an attribute with the given OID exists.
func (t AttributeTable) Has(oid asn1.ObjectIdentifier) bool {
	return t.Get(oid) != nil
}

// NewAttribute builds a single-valued attribute from any ASN.1
// marshalable value.
func NewAttribute(oid asn1.ObjectIdentifier, value interface{}) (cms.Attribute, error) {
	encoded, err := asn1.Marshal(value)
	if err != nil {
		return cms.Attribute{}, fmt.Errorf("marshal attribute %v: %w", oid, err)
	}
	return cms.Attribute{
		Type:   oid,
		Values: []asn1.RawValue{{FullBytes: encoded}},
	}, nil
}

// ESSCertIDv2 identifies a certificate by digest (RFC 5035).
type ESSCertIDv2 struct {
	HashAlgorithm cms.AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
}

// SigningCertificateV2 is the signing-certificate-v2 signed attribute.
type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

// CommitmentTypeIndication is the commitment-type-indication signed
// attribute.
type CommitmentTypeIndication struct {
	CommitmentTypeID asn1.ObjectIdentifier
}

// ContentHints is the content-hints signed attribute (RFC 2634 §2.9),
// describing the innermost encapsulated content.
type ContentHints struct {
	ContentDescription string `asn1:"utf8,optional"`
	ContentType        asn1.ObjectIdentifier
}

// buildBaselineSignedAttributes assembles the baseline-B signed attribute
// table for the given parameters. The mandatory content-type and
// message-digest attributes are always present; signing-time,
// signing-certificate-v2 and commitment-type are added when configured.
// Caller-supplied extra attributes are appended last.
func buildBaselineSignedAttributes(params *SignatureParameters, alg cms.SignatureAlgorithm, contentDigest []byte) (AttributeTable, error) {
	var attrs AttributeTable

	ct, err := NewAttribute(OIDContentType, params.EContentType())
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, ct)

	md, err := NewAttribute(OIDMessageDigest, contentDigest)
	if err != nil {
		return nil, err
	}
	attrs = append(attrs, md)

	if !params.SigningTime.IsZero() {
		st, err := NewAttribute(OIDSigningTime, params.SigningTime.UTC())
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, st)
	}

	if cert, ok := params.Identity.Certificate(); ok {
		sc, err := NewAttribute(OIDSigningCertificateV2, signingCertificateV2For(cert, alg))
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, sc)
	}

	if len(params.CommitmentType) > 0 {
		cti, err := NewAttribute(OIDCommitmentType, CommitmentTypeIndication{CommitmentTypeID: params.CommitmentType})
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, cti)
	}

	if params.ContentHints != nil {
		ch, err := NewAttribute(OIDContentHints, *params.ContentHints)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, ch)
	}

	for _, extra := range params.ExtraSignedAttributes {
		if extra.Type.Equal(OIDContentType) || extra.Type.Equal(OIDMessageDigest) {
			return nil, fmt.Errorf("attribute %v is injected automatically; do not add it manually", extra.Type)
		}
		attrs = append(attrs, extra)
	}

	return attrs, nil
}

// signingCertificateV2For builds the ESS signing-certificate-v2 value over
// the certificate, hashed with the signature's digest algorithm.
func signingCertificateV2For(cert *x509.Certificate, alg cms.SignatureAlgorithm) SigningCertificateV2 {
	h := alg.Hash.New()
	h.Write(cert.Raw)
	return SigningCertificateV2{
		Certs: []ESSCertIDv2{
			{
				HashAlgorithm: cms.AlgorithmIdentifier{
					Algorithm:  alg.DigestAlgorithm,
					Parameters: asn1.RawValue{Tag: 5}, // NULL
				},
				CertHash: h.Sum(nil),
			},
		},
	}
}

// marshalAttributeSet DER-encodes an attribute table as a SET (tag 0x31)
// with its elements in DER SET-OF order. This is the exact byte form the
// signature is computed over.
func marshalAttributeSet(attrs AttributeTable) ([]byte, error) {
	sorted, err := derSortAttributes(attrs)
	if err != nil {
		return nil, err
	}
	encoded, err := asn1.Marshal([]cms.Attribute(sorted))
	if err != nil {
		return nil, fmt.Errorf("marshal attribute set: %w", err)
	}
	encoded[0] = 0x31 // SET tag
	return encoded, nil
}

// derSortAttributes sorts attributes by their DER encoding, as required
// for a DER SET OF.
func derSortAttributes(attrs AttributeTable) (AttributeTable, error) {
	type attrWithDER struct {
		attr cms.Attribute
		der  []byte
	}
	withDER := make([]attrWithDER, len(attrs))
	for i, attr := range attrs {
		der, err := asn1.Marshal(attr)
		if err != nil {
			return nil, fmt.Errorf("marshal attribute %v: %w", attr.Type, err)
		}
		withDER[i] = attrWithDER{attr: attr, der: der}
	}
	sort.Slice(withDER, func(i, j int) bool {
		return bytes.Compare(withDER[i].der, withDER[j].der) < 0
	})
	result := make(AttributeTable, len(attrs))
	for i, a := range withDER {
		result[i] = a.attr
	}
	return result, nil
}

// retagImplicit returns a copy of a SET-tagged encoding with the outer tag
// replaced by IMPLICIT [n] CONSTRUCTED, the wire form of the signed (n=0)
// and unsigned (n=1) attribute fields in SignerInfo.
func retagImplicit(setBytes []byte, n byte) []byte {
	out := make([]byte, len(setBytes))
	copy(out, setBytes)
	out[0] = 0xA0 | n
	return out
}
