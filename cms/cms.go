// Package cms implements the CMS (Cryptographic Message Syntax) SignedData
// container used by CAdES signatures: the ASN.1 model, a raw-preserving
// envelope value type, and the store-replacement operation used when a
// signature is extended with additional validation material.
package cms

import (
	"crypto"
	"encoding/asn1"
	"errors"
	"math/big"
)

// Common errors
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrMalformedEnvelope    = errors.New("malformed signed envelope")
	ErrNotSignedData        = errors.New("content type is not signed-data")
)

// OIDs for CMS content types, algorithms and revocation info formats
var (
	// Content types
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	// Digest algorithms
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	// Signature algorithms
	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	// Other revocation info formats (RFC 5940)
	OIDOCSPResponse      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 16, 2}
	OIDBasicOCSPResponse = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 1}
)

// AlgorithmIdentifier represents an algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo represents a CMS ContentInfo structure.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// signedData is the wire form of SignedData. Certificates, CRLs and
// SignerInfos are kept as raw values so that entries produced elsewhere
// survive a parse/marshal round trip byte for byte.
type signedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo asn1.RawValue
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1,set"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// signedDataEncode is the marshal-side counterpart of signedData. The
// store collections are pre-encoded raw values so that entry order is
// preserved; the asn1 "set" encoder would re-sort them.
type signedDataEncode struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo asn1.RawValue
	Certificates     asn1.RawValue `asn1:"optional"`
	CRLs             asn1.RawValue `asn1:"optional"`
	SignerInfos      asn1.RawValue
}

// EncapsulatedContentInfo represents encapsulated content.
// EContent is absent for detached signatures.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignerInfo represents a signer's information. SID, SignedAttrs and
// UnsignedAttrs are pre-encoded raw values: the SID is a CHOICE, and the
// attribute sets must keep the exact byte form the signature was computed
// over (re-tagged between SET and IMPLICIT [0]/[1] by the callers).
type SignerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// OtherRevocationInfoFormat carries revocation data that is not a CRL,
// tagged with its format identifier (RFC 5652 §10.2.1).
type OtherRevocationInfoFormat struct {
	Format asn1.ObjectIdentifier
	Value  asn1.RawValue
}

// SignatureAlgorithm represents a signature algorithm with its hash.
type SignatureAlgorithm struct {
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	Hash               crypto.Hash
}

// Common signature algorithms
var (
	SHA256WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDSHA256WithRSA,
		Hash:               crypto.SHA256,
	}
	SHA384WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDSHA384WithRSA,
		Hash:               crypto.SHA384,
	}
	SHA512WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA512,
		SignatureAlgorithm: OIDSHA512WithRSA,
		Hash:               crypto.SHA512,
	}
	SHA256WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDECDSAWithSHA256,
		Hash:               crypto.SHA256,
	}
	SHA384WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDECDSAWithSHA384,
		Hash:               crypto.SHA384,
	}
	SHA512WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA512,
		SignatureAlgorithm: OIDECDSAWithSHA512,
		Hash:               crypto.SHA512,
	}
)

// DigestAlgorithmIdentifier returns the AlgorithmIdentifier for the digest
// half of the signature algorithm, with an explicit NULL parameter as most
// verifiers expect for the SHA-2 family.
func (a SignatureAlgorithm) DigestAlgorithmIdentifier() AlgorithmIdentifier {
	return AlgorithmIdentifier{
		Algorithm:  a.DigestAlgorithm,
		Parameters: asn1.RawValue{Tag: 5}, // NULL
	}
}

// SignatureAlgorithmIdentifier returns the AlgorithmIdentifier for the
// signature algorithm. RSA variants carry a NULL parameter; ECDSA variants
// omit the parameter field entirely.
func (a SignatureAlgorithm) SignatureAlgorithmIdentifier() AlgorithmIdentifier {
	params := asn1.RawValue{}
	switch {
	case a.SignatureAlgorithm.Equal(OIDSHA256WithRSA),
		a.SignatureAlgorithm.Equal(OIDSHA384WithRSA),
		a.SignatureAlgorithm.Equal(OIDSHA512WithRSA):
		params = asn1.RawValue{Tag: 5} // NULL
	}
	return AlgorithmIdentifier{
		Algorithm:  a.SignatureAlgorithm,
		Parameters: params,
	}
}

// SignatureAlgorithmByName resolves a digest algorithm name and key family
// to a SignatureAlgorithm. family is "rsa" or "ecdsa".
func SignatureAlgorithmByName(digest, family string) (SignatureAlgorithm, error) {
	switch family {
	case "rsa":
		switch digest {
		case "", "sha256", "SHA256":
			return SHA256WithRSA, nil
		case "sha384", "SHA384":
			return SHA384WithRSA, nil
		case "sha512", "SHA512":
			return SHA512WithRSA, nil
		}
	case "ecdsa":
		switch digest {
		case "", "sha256", "SHA256":
			return SHA256WithECDSA, nil
		case "sha384", "SHA384":
			return SHA384WithECDSA, nil
		case "sha512", "SHA512":
			return SHA512WithECDSA, nil
		}
	}
	return SignatureAlgorithm{}, ErrUnsupportedAlgorithm
}
