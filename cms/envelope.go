package cms

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
)

// RevocationFormat discriminates the entries of the envelope's revocation
// store. Plain CRLs and the two historical OCSP encodings all land in the
// same RevocationInfoChoices SET on the wire; the enum keeps their
// provenance so merge logic does not have to be duplicated per kind.
type RevocationFormat int

const (
	// FormatCRL is a plain CertificateList entry.
	FormatCRL RevocationFormat = iota
	// FormatOCSPResponse is an OtherRevocationInfoFormat entry tagged with
	// id-ri-ocsp-response.
	FormatOCSPResponse
	// FormatOCSPBasic is an OtherRevocationInfoFormat entry tagged with
	// id-pkix-ocsp-basic.
	FormatOCSPBasic
	// FormatOther is an OtherRevocationInfoFormat entry with a format
	// identifier this package does not interpret; it is carried verbatim.
	FormatOther
)

// String returns the string representation of the revocation format.
func (f RevocationFormat) String() string {
	switch f {
	case FormatCRL:
		return "crl"
	case FormatOCSPResponse:
		return "ocsp-response"
	case FormatOCSPBasic:
		return "basic-ocsp-response"
	default:
		return "other"
	}
}

// RevocationRef is one entry of the envelope's revocation store.
// For FormatCRL the value is the CertificateList TLV; for the OCSP formats
// it is the unwrapped response primitive; for FormatOther it is the
// complete tagged entry as found on the wire.
type RevocationRef struct {
	Format RevocationFormat
	Value  asn1.RawValue
}

// SignedEnvelope is an immutable signed-message container. Signer infos,
// encapsulated content and every certificate and revocation entry are held
// as raw DER so a parse/marshal round trip never rewrites them. Store
// replacement produces a new envelope value; an envelope is never mutated.
type SignedEnvelope struct {
	raw              []byte
	digestAlgorithms []AlgorithmIdentifier
	encapContentInfo asn1.RawValue
	certificates     []asn1.RawValue
	crls             []asn1.RawValue
	signerInfos      []asn1.RawValue
}

// ParseEnvelope parses a DER-encoded ContentInfo wrapping a SignedData.
func ParseEnvelope(data []byte) (*SignedEnvelope, error) {
	var ci ContentInfo
	rest, err := asn1.Unmarshal(data, &ci)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing ContentInfo: %w", ErrMalformedEnvelope, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after ContentInfo", ErrMalformedEnvelope)
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: got %v", ErrNotSignedData, ci.ContentType)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("%w: parsing SignedData: %w", ErrMalformedEnvelope, err)
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return &SignedEnvelope{
		raw:              raw,
		digestAlgorithms: sd.DigestAlgorithms,
		encapContentInfo: sd.EncapContentInfo,
		certificates:     sd.Certificates,
		crls:             sd.CRLs,
		signerInfos:      sd.SignerInfos,
	}, nil
}

// AssembleEnvelope builds a SignedEnvelope from its parts. The SignedData
// version is derived here per RFC 5652 §5.1; callers never set it.
//
// Entry order is preserved exactly as given: the store collections are
// emitted by concatenating the pre-encoded entries rather than through
// the asn1 "set" encoder, which would re-sort them.
func AssembleEnvelope(digestAlgorithms []AlgorithmIdentifier, encapContentInfo asn1.RawValue,
	certificates []asn1.RawValue, revocation []RevocationRef, signerInfos []asn1.RawValue) (*SignedEnvelope, error) {

	crls, err := encodeRevocationEntries(revocation)
	if err != nil {
		return nil, err
	}

	sd := signedDataEncode{
		Version:          computeVersion(encapContentInfo, certificates, crls, signerInfos),
		DigestAlgorithms: digestAlgorithms,
		EncapContentInfo: encapContentInfo,
		SignerInfos: asn1.RawValue{
			Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true,
			Bytes: concatRawEntries(signerInfos),
		},
	}
	if len(certificates) > 0 {
		sd.Certificates = asn1.RawValue{
			Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true,
			Bytes: concatRawEntries(certificates),
		}
	}
	if len(crls) > 0 {
		sd.CRLs = asn1.RawValue{
			Class: asn1.ClassContextSpecific, Tag: 1, IsCompound: true,
			Bytes: concatRawEntries(crls),
		}
	}
	sdBytes, err := asn1.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("marshal SignedData: %w", err)
	}

	ci := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdBytes},
	}
	raw, err := asn1.Marshal(ci)
	if err != nil {
		return nil, fmt.Errorf("marshal ContentInfo: %w", err)
	}
	return ParseEnvelope(raw)
}

// Encode returns the DER encoding of the envelope.
func (e *SignedEnvelope) Encode() []byte {
	out := make([]byte, len(e.raw))
	copy(out, e.raw)
	return out
}

// DigestAlgorithms returns the digestAlgorithms SET of the SignedData.
func (e *SignedEnvelope) DigestAlgorithms() []AlgorithmIdentifier {
	return append([]AlgorithmIdentifier(nil), e.digestAlgorithms...)
}

// EncapContentInfo returns the raw encapsulated content info.
func (e *SignedEnvelope) EncapContentInfo() asn1.RawValue {
	return e.encapContentInfo
}

// EContentType returns the encapsulated content type.
func (e *SignedEnvelope) EContentType() (asn1.ObjectIdentifier, error) {
	var eci EncapsulatedContentInfo
	if _, err := asn1.Unmarshal(e.encapContentInfo.FullBytes, &eci); err != nil {
		return nil, fmt.Errorf("%w: parsing EncapsulatedContentInfo: %w", ErrMalformedEnvelope, err)
	}
	return eci.EContentType, nil
}

// RawSignerInfos returns the signer info entries as raw DER.
func (e *SignedEnvelope) RawSignerInfos() []asn1.RawValue {
	return append([]asn1.RawValue(nil), e.signerInfos...)
}

// SignerInfos parses and returns the signer info entries.
func (e *SignedEnvelope) SignerInfos() ([]SignerInfo, error) {
	infos := make([]SignerInfo, 0, len(e.signerInfos))
	for i, raw := range e.signerInfos {
		var si SignerInfo
		if _, err := asn1.Unmarshal(raw.FullBytes, &si); err != nil {
			return nil, fmt.Errorf("%w: parsing SignerInfo[%d]: %w", ErrMalformedEnvelope, i, err)
		}
		infos = append(infos, si)
	}
	return infos, nil
}

// CertificateEntries returns every entry of the certificate SET as raw DER,
// including attribute certificates and other context-tagged choices.
func (e *SignedEnvelope) CertificateEntries() []asn1.RawValue {
	return append([]asn1.RawValue(nil), e.certificates...)
}

// X509Certificates parses the plain X.509 certificates from the
// certificate SET. Context-tagged entries (attribute certificates) are
// skipped; they are available through CertificateEntries.
func (e *SignedEnvelope) X509Certificates() []*x509.Certificate {
	var certs []*x509.Certificate
	for _, entry := range e.certificates {
		if entry.Class != asn1.ClassUniversal || entry.Tag != asn1.TagSequence {
			continue
		}
		cert, err := x509.ParseCertificate(entry.FullBytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs
}

// RevocationEntries returns the revocation store with each entry tagged by
// its format.
func (e *SignedEnvelope) RevocationEntries() []RevocationRef {
	refs := make([]RevocationRef, 0, len(e.crls))
	for _, entry := range e.crls {
		refs = append(refs, classifyRevocationEntry(entry))
	}
	return refs
}

// OtherRevocationInfo returns the unwrapped values of every revocation
// entry of the given format. For FormatCRL the CertificateList TLVs are
// returned.
func (e *SignedEnvelope) OtherRevocationInfo(format RevocationFormat) []asn1.RawValue {
	var values []asn1.RawValue
	for _, ref := range e.RevocationEntries() {
		if ref.Format == format {
			values = append(values, ref.Value)
		}
	}
	return values
}

// ReplaceStores returns a new envelope with the certificate and revocation
// stores replaced. Signer infos, digest algorithms and the encapsulated
// content are carried over byte for byte, so existing signature values are
// unaffected.
func (e *SignedEnvelope) ReplaceStores(certificates []asn1.RawValue, revocation []RevocationRef) (*SignedEnvelope, error) {
	return AssembleEnvelope(e.digestAlgorithms, e.encapContentInfo, certificates, revocation, e.signerInfos)
}

// concatRawEntries joins the FullBytes of pre-encoded entries.
func concatRawEntries(entries []asn1.RawValue) []byte {
	var out []byte
	for _, entry := range entries {
		out = append(out, entry.FullBytes...)
	}
	return out
}

// classifyRevocationEntry maps a raw RevocationInfoChoices entry to a
// RevocationRef. Plain CRLs are universal SEQUENCEs; everything else is an
// [1] IMPLICIT OtherRevocationInfoFormat.
func classifyRevocationEntry(entry asn1.RawValue) RevocationRef {
	if entry.Class == asn1.ClassUniversal && entry.Tag == asn1.TagSequence {
		return RevocationRef{Format: FormatCRL, Value: entry}
	}
	if entry.Class == asn1.ClassContextSpecific && entry.Tag == 1 {
		ori, err := parseOtherRevocationInfo(entry)
		if err == nil {
			switch {
			case ori.Format.Equal(OIDOCSPResponse):
				return RevocationRef{Format: FormatOCSPResponse, Value: ori.Value}
			case ori.Format.Equal(OIDBasicOCSPResponse):
				return RevocationRef{Format: FormatOCSPBasic, Value: ori.Value}
			}
		}
	}
	return RevocationRef{Format: FormatOther, Value: entry}
}

// encodeRevocationEntries builds the raw RevocationInfoChoices entries from
// tagged refs.
func encodeRevocationEntries(refs []RevocationRef) ([]asn1.RawValue, error) {
	var entries []asn1.RawValue
	for _, ref := range refs {
		switch ref.Format {
		case FormatCRL, FormatOther:
			entries = append(entries, ref.Value)
		case FormatOCSPResponse:
			entry, err := marshalOtherRevocationInfo(OIDOCSPResponse, ref.Value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		case FormatOCSPBasic:
			entry, err := marshalOtherRevocationInfo(OIDBasicOCSPResponse, ref.Value)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		default:
			return nil, fmt.Errorf("unknown revocation format %d", ref.Format)
		}
	}
	return entries, nil
}

// parseOtherRevocationInfo decodes an [1] IMPLICIT OtherRevocationInfoFormat
// entry. The implicit tag replaces the SEQUENCE tag, so it is restored
// before unmarshalling.
func parseOtherRevocationInfo(entry asn1.RawValue) (OtherRevocationInfoFormat, error) {
	tlv := make([]byte, len(entry.FullBytes))
	copy(tlv, entry.FullBytes)
	tlv[0] = 0x30
	var ori OtherRevocationInfoFormat
	if _, err := asn1.Unmarshal(tlv, &ori); err != nil {
		return OtherRevocationInfoFormat{}, fmt.Errorf("%w: parsing OtherRevocationInfoFormat: %w", ErrMalformedEnvelope, err)
	}
	return ori, nil
}

// marshalOtherRevocationInfo encodes an OtherRevocationInfoFormat and
// re-tags the SEQUENCE as [1] IMPLICIT for the wire.
func marshalOtherRevocationInfo(format asn1.ObjectIdentifier, value asn1.RawValue) (asn1.RawValue, error) {
	encoded, err := asn1.Marshal(OtherRevocationInfoFormat{Format: format, Value: value})
	if err != nil {
		return asn1.RawValue{}, fmt.Errorf("marshal OtherRevocationInfoFormat: %w", err)
	}
	encoded[0] = 0xA1
	return asn1.RawValue{FullBytes: encoded}, nil
}

// computeVersion derives the SignedData version per RFC 5652 §5.1.
func computeVersion(encapContentInfo asn1.RawValue, certificates, crls, signerInfos []asn1.RawValue) int {
	hasOtherCert := false
	hasV2AttrCert := false
	hasV1AttrCert := false
	for _, entry := range certificates {
		if entry.Class != asn1.ClassContextSpecific {
			continue
		}
		switch entry.Tag {
		case 1:
			hasV1AttrCert = true
		case 2:
			hasV2AttrCert = true
		case 3:
			hasOtherCert = true
		}
	}

	hasOtherRevInfo := false
	for _, entry := range crls {
		if entry.Class == asn1.ClassContextSpecific && entry.Tag == 1 {
			hasOtherRevInfo = true
			break
		}
	}

	if hasOtherCert || hasOtherRevInfo {
		return 5
	}
	if hasV2AttrCert {
		return 4
	}
	if hasV1AttrCert {
		return 3
	}
	for _, raw := range signerInfos {
		var si SignerInfo
		if _, err := asn1.Unmarshal(raw.FullBytes, &si); err == nil && si.Version == 3 {
			return 3
		}
	}
	var eci EncapsulatedContentInfo
	if _, err := asn1.Unmarshal(encapContentInfo.FullBytes, &eci); err == nil {
		if !eci.EContentType.Equal(OIDData) {
			return 3
		}
	}
	return 1
}
