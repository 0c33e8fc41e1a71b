package cades

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"io"

	"github.com/georgepadayatti/gocades/cms"
	"github.com/georgepadayatti/gocades/revocation"
)

// ExtendEnvelope merges collected validation data into an existing signed
// envelope: certificates, CRLs and OCSP responses are added to the
// envelope's stores while every SignerInfo is carried over byte for byte.
// Entries already present are not duplicated, so extending twice with the
// same material yields the same envelope.
//
// A CRL or OCSP token that cannot be converted to its store form fails
// the whole operation with ErrRevocationConversion; no partially extended
// envelope is returned.
func ExtendEnvelope(env *cms.SignedEnvelope, vd *revocation.ValidationData) (*cms.SignedEnvelope, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: envelope is nil", ErrEnvelopeConstruction)
	}

	certificates := env.CertificateEntries()
	if vd != nil {
		var err error
		certificates, err = mergeCertificates(certificates, vd.Certificates())
		if err != nil {
			return nil, err
		}
	}

	refs := env.RevocationEntries()
	if vd != nil {
		for _, token := range vd.CRLTokens() {
			ref, err := crlTokenRef(token)
			if err != nil {
				return nil, err
			}
			refs = appendRevocationRef(refs, ref)
		}
		for _, token := range vd.OCSPTokens() {
			ref, err := ocspTokenRef(token)
			if err != nil {
				return nil, err
			}
			refs = appendRevocationRef(refs, ref)
		}
	}

	extended, err := env.ReplaceStores(certificates, refs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvelopeConstruction, err)
	}
	return extended, nil
}

// mergeCertificates appends certificates not already present in the
// store, preserving the order of the existing entries.
func mergeCertificates(entries []asn1.RawValue, certs []*x509.Certificate) ([]asn1.RawValue, error) {
	for _, cert := range certs {
		if len(cert.Raw) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrCertificateEncoding, cert.Subject.String())
		}
		entry := asn1.RawValue{FullBytes: cert.Raw}
		if containsRawEntry(entries, entry) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// crlTokenRef converts a CRL token into its store entry. The token's
// stream is fully read and the bytes are checked to parse as a
// CertificateList.
func crlTokenRef(token *revocation.CRLToken) (cms.RevocationRef, error) {
	stream := token.OpenStream()
	defer stream.Close()
	der, err := io.ReadAll(stream)
	if err != nil {
		return cms.RevocationRef{}, fmt.Errorf("%w: reading CRL stream: %w", ErrRevocationConversion, err)
	}
	if _, err := x509.ParseRevocationList(der); err != nil {
		return cms.RevocationRef{}, fmt.Errorf("%w: parsing CRL: %w", ErrRevocationConversion, err)
	}
	var tlv asn1.RawValue
	if _, err := asn1.Unmarshal(der, &tlv); err != nil {
		return cms.RevocationRef{}, fmt.Errorf("%w: decoding CRL: %w", ErrRevocationConversion, err)
	}
	return cms.RevocationRef{Format: cms.FormatCRL, Value: tlv}, nil
}

// ocspTokenRef converts an OCSP token into its store entry, tagged as
// id-ri-ocsp-response other revocation info.
func ocspTokenRef(token *revocation.OCSPToken) (cms.RevocationRef, error) {
	var tlv asn1.RawValue
	if _, err := asn1.Unmarshal(token.Encoded(), &tlv); err != nil {
		return cms.RevocationRef{}, fmt.Errorf("%w: decoding OCSP response: %w", ErrRevocationConversion, err)
	}
	return cms.RevocationRef{Format: cms.FormatOCSPResponse, Value: tlv}, nil
}

// appendRevocationRef adds a ref unless an equal one is already present.
func appendRevocationRef(refs []cms.RevocationRef, ref cms.RevocationRef) []cms.RevocationRef {
	for _, existing := range refs {
		if existing.Format == ref.Format && bytes.Equal(existing.Value.FullBytes, ref.Value.FullBytes) {
			return refs
		}
	}
	return append(refs, ref)
}
