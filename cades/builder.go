package cades

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/georgepadayatti/gocades/cms"
)

// EnvelopeBuilder assembles CMS signed envelopes. A nil selector means
// only the signing certificate itself is embedded; the baseline selector
// adds the chain.
type EnvelopeBuilder struct {
	selector CertificateSelector
}

// NewEnvelopeBuilder returns a builder using the given certificate
// selector. selector may be nil.
func NewEnvelopeBuilder(selector CertificateSelector) *EnvelopeBuilder {
	return &EnvelopeBuilder{selector: selector}
}

// Build creates a signed envelope over content with the given signer.
// When existing is non-nil the new signature is added alongside the
// existing ones: their SignerInfo bytes, certificate entries, revocation
// entries and encapsulated content are all carried over verbatim, so a
// parallel signature never invalidates the signatures already present.
//
// The identity's placeholder mode produces an envelope with a placeholder
// signer identifier and no signer certificates; it completes a
// data-to-be-signed exchange rather than a verifiable signature.
func (b *EnvelopeBuilder) Build(params *SignatureParameters, descriptor *SignerDescriptor, content []byte, existing *cms.SignedEnvelope) (*cms.SignedEnvelope, error) {
	if descriptor == nil {
		return nil, fmt.Errorf("%w: signer descriptor is nil", ErrOperatorCreation)
	}

	alg := descriptor.Algorithm()
	h := alg.Hash.New()
	h.Write(content)
	contentDigest := h.Sum(nil)

	newSigner, err := descriptor.generate(params, contentDigest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvelopeConstruction, err)
	}

	var signerInfos []asn1.RawValue
	var certificates []asn1.RawValue
	var revocation []cms.RevocationRef
	var digestAlgorithms []cms.AlgorithmIdentifier
	if existing != nil {
		signerInfos = existing.RawSignerInfos()
		certificates = existing.CertificateEntries()
		revocation = existing.RevocationEntries()
		digestAlgorithms = existing.DigestAlgorithms()
	}
	signerInfos = append(signerInfos, newSigner)
	digestAlgorithms = appendDigestAlgorithm(digestAlgorithms, alg.DigestAlgorithmIdentifier())

	certificates, err = b.appendSignerCertificates(certificates, params, descriptor)
	if err != nil {
		return nil, err
	}

	var encap asn1.RawValue
	if existing != nil {
		encap = existing.EncapContentInfo()
	} else {
		encap, err = encodeEncapContentInfo(params, content)
		if err != nil {
			return nil, err
		}
	}

	env, err := cms.AssembleEnvelope(digestAlgorithms, encap, certificates, revocation, signerInfos)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvelopeConstruction, err)
	}
	return env, nil
}

// appendSignerCertificates adds the signer's certificate chain to the
// store. The signing certificate comes first among the added entries and
// entries already present are never duplicated. Placeholder identities
// contribute nothing.
func (b *EnvelopeBuilder) appendSignerCertificates(certificates []asn1.RawValue, params *SignatureParameters, descriptor *SignerDescriptor) ([]asn1.RawValue, error) {
	if descriptor.Identity().IsPlaceholder() {
		return certificates, nil
	}

	chain, err := b.selectChain(params)
	if err != nil {
		return nil, err
	}
	for _, cert := range chain {
		if len(cert.Raw) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrCertificateEncoding, cert.Subject.String())
		}
		entry := asn1.RawValue{FullBytes: cert.Raw}
		if containsRawEntry(certificates, entry) {
			continue
		}
		certificates = append(certificates, entry)
	}
	return certificates, nil
}

func (b *EnvelopeBuilder) selectChain(params *SignatureParameters) ([]*x509.Certificate, error) {
	if b.selector != nil {
		certs, err := b.selector.SelectCertificates(params)
		if err != nil {
			return nil, err
		}
		return certs, nil
	}
	cert, ok := params.Identity.Certificate()
	if !ok {
		return nil, ErrMissingSigningCertificate
	}
	return []*x509.Certificate{cert}, nil
}

// encodeEncapContentInfo builds the EncapsulatedContentInfo for a fresh
// envelope. Detached signatures omit the eContent field entirely.
func encodeEncapContentInfo(params *SignatureParameters, content []byte) (asn1.RawValue, error) {
	eci := cms.EncapsulatedContentInfo{EContentType: params.EContentType()}
	if !params.Detached {
		octets, err := asn1.Marshal(content)
		if err != nil {
			return asn1.RawValue{}, fmt.Errorf("%w: encoding content: %w", ErrEnvelopeConstruction, err)
		}
		eci.EContent = asn1.RawValue{FullBytes: octets}
	}
	encoded, err := asn1.Marshal(eci)
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("%w: encoding EncapsulatedContentInfo: %w", ErrEnvelopeConstruction, err)
	}
	return asn1.RawValue{FullBytes: encoded}, nil
}

// appendDigestAlgorithm adds an algorithm identifier unless one with the
// same OID is already present.
func appendDigestAlgorithm(algs []cms.AlgorithmIdentifier, alg cms.AlgorithmIdentifier) []cms.AlgorithmIdentifier {
	for _, existing := range algs {
		if existing.Algorithm.Equal(alg.Algorithm) {
			return algs
		}
	}
	return append(algs, alg)
}

func containsRawEntry(entries []asn1.RawValue, entry asn1.RawValue) bool {
	for _, e := range entries {
		if bytes.Equal(e.FullBytes, entry.FullBytes) {
			return true
		}
	}
	return false
}
