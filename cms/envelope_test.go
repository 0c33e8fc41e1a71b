package cms

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"
)

// Helper to generate test certificate and key
func generateTestCertAndKey(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Test Signer",
			Organization: []string{"Test Org"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		SubjectKeyId:          []byte{1, 2, 3, 4},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}

	return cert, key
}

func makeEncapContentInfo(t *testing.T, contentType asn1.ObjectIdentifier, content []byte) asn1.RawValue {
	eci := EncapsulatedContentInfo{EContentType: contentType}
	if content != nil {
		octets, err := asn1.Marshal(content)
		if err != nil {
			t.Fatalf("Failed to marshal content: %v", err)
		}
		eci.EContent = asn1.RawValue{FullBytes: octets}
	}
	encoded, err := asn1.Marshal(eci)
	if err != nil {
		t.Fatalf("Failed to marshal EncapsulatedContentInfo: %v", err)
	}
	return asn1.RawValue{FullBytes: encoded}
}

func makeSignerInfo(t *testing.T, cert *x509.Certificate, version int) asn1.RawValue {
	var sid asn1.RawValue
	if version == 3 {
		encoded, err := asn1.Marshal(asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: []byte{}})
		if err != nil {
			t.Fatalf("Failed to marshal SKI SID: %v", err)
		}
		sid = asn1.RawValue{FullBytes: encoded}
	} else {
		encoded, err := asn1.Marshal(IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: cert.RawIssuer},
			SerialNumber: cert.SerialNumber,
		})
		if err != nil {
			t.Fatalf("Failed to marshal IssuerAndSerialNumber: %v", err)
		}
		sid = asn1.RawValue{FullBytes: encoded}
	}

	si := SignerInfo{
		Version:            version,
		SID:                sid,
		DigestAlgorithm:    SHA256WithRSA.DigestAlgorithmIdentifier(),
		SignatureAlgorithm: SHA256WithRSA.SignatureAlgorithmIdentifier(),
		Signature:          []byte{0x01, 0x02, 0x03, 0x04},
	}
	encoded, err := asn1.Marshal(si)
	if err != nil {
		t.Fatalf("Failed to marshal SignerInfo: %v", err)
	}
	return asn1.RawValue{FullBytes: encoded}
}

func makeCRLEntry(t *testing.T, cert *x509.Certificate, key *rsa.PrivateKey) asn1.RawValue {
	template := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, cert, key)
	if err != nil {
		t.Fatalf("Failed to create CRL: %v", err)
	}
	var tlv asn1.RawValue
	if _, err := asn1.Unmarshal(der, &tlv); err != nil {
		t.Fatalf("Failed to decode CRL: %v", err)
	}
	return tlv
}

func TestAssembleAndParseEnvelope(t *testing.T) {
	cert, _ := generateTestCertAndKey(t)

	encap := makeEncapContentInfo(t, OIDData, []byte("hello"))
	si := makeSignerInfo(t, cert, 1)
	certs := []asn1.RawValue{{FullBytes: cert.Raw}}

	env, err := AssembleEnvelope(
		[]AlgorithmIdentifier{SHA256WithRSA.DigestAlgorithmIdentifier()},
		encap, certs, nil,
		[]asn1.RawValue{si},
	)
	if err != nil {
		t.Fatalf("AssembleEnvelope failed: %v", err)
	}

	reparsed, err := ParseEnvelope(env.Encode())
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	infos := reparsed.RawSignerInfos()
	if len(infos) != 1 {
		t.Fatalf("Expected 1 signer info, got %d", len(infos))
	}
	if !bytes.Equal(infos[0].FullBytes, si.FullBytes) {
		t.Error("SignerInfo bytes changed across assemble/parse round trip")
	}

	parsed := reparsed.X509Certificates()
	if len(parsed) != 1 {
		t.Fatalf("Expected 1 certificate, got %d", len(parsed))
	}
	if !bytes.Equal(parsed[0].Raw, cert.Raw) {
		t.Error("Certificate bytes changed across round trip")
	}

	contentType, err := reparsed.EContentType()
	if err != nil {
		t.Fatalf("EContentType failed: %v", err)
	}
	if !contentType.Equal(OIDData) {
		t.Errorf("Expected id-data content type, got %v", contentType)
	}
}

func TestParseEnvelopeErrors(t *testing.T) {
	if _, err := ParseEnvelope([]byte{0x01, 0x02}); err == nil {
		t.Error("Expected error for garbage input")
	}

	// ContentInfo with the wrong content type
	ci := ContentInfo{ContentType: OIDData}
	encoded, err := asn1.Marshal(ci)
	if err != nil {
		t.Fatalf("Failed to marshal ContentInfo: %v", err)
	}
	if _, err := ParseEnvelope(encoded); err == nil {
		t.Error("Expected error for non signed-data content type")
	}
}

func TestComputeVersion(t *testing.T) {
	cert, key := generateTestCertAndKey(t)
	encapData := makeEncapContentInfo(t, OIDData, []byte("x"))
	siV1 := makeSignerInfo(t, cert, 1)
	siV3 := makeSignerInfo(t, cert, 3)

	t.Run("plain envelope is v1", func(t *testing.T) {
		env, err := AssembleEnvelope(
			[]AlgorithmIdentifier{SHA256WithRSA.DigestAlgorithmIdentifier()},
			encapData, []asn1.RawValue{{FullBytes: cert.Raw}}, nil,
			[]asn1.RawValue{siV1},
		)
		if err != nil {
			t.Fatalf("AssembleEnvelope failed: %v", err)
		}
		assertVersion(t, env, 1)
	})

	t.Run("signer v3 forces v3", func(t *testing.T) {
		env, err := AssembleEnvelope(
			[]AlgorithmIdentifier{SHA256WithRSA.DigestAlgorithmIdentifier()},
			encapData, nil, nil,
			[]asn1.RawValue{siV3},
		)
		if err != nil {
			t.Fatalf("AssembleEnvelope failed: %v", err)
		}
		assertVersion(t, env, 3)
	})

	t.Run("non-data content forces v3", func(t *testing.T) {
		encapOther := makeEncapContentInfo(t, OIDSignedData, []byte("x"))
		env, err := AssembleEnvelope(
			[]AlgorithmIdentifier{SHA256WithRSA.DigestAlgorithmIdentifier()},
			encapOther, nil, nil,
			[]asn1.RawValue{siV1},
		)
		if err != nil {
			t.Fatalf("AssembleEnvelope failed: %v", err)
		}
		assertVersion(t, env, 3)
	})

	t.Run("other revocation info forces v5", func(t *testing.T) {
		ocspValue, err := asn1.Marshal([]byte{0xde, 0xad})
		if err != nil {
			t.Fatalf("Failed to marshal OCSP value: %v", err)
		}
		refs := []RevocationRef{
			{Format: FormatCRL, Value: makeCRLEntry(t, cert, key)},
			{Format: FormatOCSPResponse, Value: asn1.RawValue{FullBytes: ocspValue}},
		}
		env, err := AssembleEnvelope(
			[]AlgorithmIdentifier{SHA256WithRSA.DigestAlgorithmIdentifier()},
			encapData, nil, refs,
			[]asn1.RawValue{siV1},
		)
		if err != nil {
			t.Fatalf("AssembleEnvelope failed: %v", err)
		}
		assertVersion(t, env, 5)
	})
}

func assertVersion(t *testing.T, env *SignedEnvelope, want int) {
	t.Helper()
	var ci ContentInfo
	if _, err := asn1.Unmarshal(env.Encode(), &ci); err != nil {
		t.Fatalf("Failed to parse ContentInfo: %v", err)
	}
	// The version INTEGER is the first element of the SignedData SEQUENCE.
	var sd asn1.RawValue
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		t.Fatalf("Failed to parse SignedData: %v", err)
	}
	var version int
	if _, err := asn1.Unmarshal(sd.Bytes, &version); err != nil {
		t.Fatalf("Failed to decode version: %v", err)
	}
	if version != want {
		t.Errorf("Expected SignedData version %d, got %d", want, version)
	}
}

func TestRevocationEntryClassification(t *testing.T) {
	cert, key := generateTestCertAndKey(t)
	encap := makeEncapContentInfo(t, OIDData, []byte("x"))
	si := makeSignerInfo(t, cert, 1)

	crlEntry := makeCRLEntry(t, cert, key)
	ocspValue, err := asn1.Marshal([]byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("Failed to marshal OCSP value: %v", err)
	}

	refs := []RevocationRef{
		{Format: FormatCRL, Value: crlEntry},
		{Format: FormatOCSPResponse, Value: asn1.RawValue{FullBytes: ocspValue}},
		{Format: FormatOCSPBasic, Value: asn1.RawValue{FullBytes: ocspValue}},
	}

	env, err := AssembleEnvelope(
		[]AlgorithmIdentifier{SHA256WithRSA.DigestAlgorithmIdentifier()},
		encap, nil, refs,
		[]asn1.RawValue{si},
	)
	if err != nil {
		t.Fatalf("AssembleEnvelope failed: %v", err)
	}

	reparsed, err := ParseEnvelope(env.Encode())
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	got := reparsed.RevocationEntries()
	if len(got) != 3 {
		t.Fatalf("Expected 3 revocation entries, got %d", len(got))
	}
	if got[0].Format != FormatCRL {
		t.Errorf("Entry 0: expected crl, got %v", got[0].Format)
	}
	if !bytes.Equal(got[0].Value.FullBytes, crlEntry.FullBytes) {
		t.Error("CRL entry bytes changed across round trip")
	}
	if got[1].Format != FormatOCSPResponse {
		t.Errorf("Entry 1: expected ocsp-response, got %v", got[1].Format)
	}
	if !bytes.Equal(got[1].Value.FullBytes, ocspValue) {
		t.Error("OCSP value bytes changed across round trip")
	}
	if got[2].Format != FormatOCSPBasic {
		t.Errorf("Entry 2: expected basic-ocsp-response, got %v", got[2].Format)
	}

	if n := len(reparsed.OtherRevocationInfo(FormatOCSPResponse)); n != 1 {
		t.Errorf("Expected 1 id-ri-ocsp-response entry, got %d", n)
	}
}

func TestReplaceStoresPreservesSigners(t *testing.T) {
	cert, key := generateTestCertAndKey(t)
	encap := makeEncapContentInfo(t, OIDData, []byte("content"))
	si := makeSignerInfo(t, cert, 1)

	env, err := AssembleEnvelope(
		[]AlgorithmIdentifier{SHA256WithRSA.DigestAlgorithmIdentifier()},
		encap, nil, nil,
		[]asn1.RawValue{si},
	)
	if err != nil {
		t.Fatalf("AssembleEnvelope failed: %v", err)
	}

	replaced, err := env.ReplaceStores(
		[]asn1.RawValue{{FullBytes: cert.Raw}},
		[]RevocationRef{{Format: FormatCRL, Value: makeCRLEntry(t, cert, key)}},
	)
	if err != nil {
		t.Fatalf("ReplaceStores failed: %v", err)
	}

	if !bytes.Equal(replaced.RawSignerInfos()[0].FullBytes, si.FullBytes) {
		t.Error("ReplaceStores modified SignerInfo bytes")
	}
	if !bytes.Equal(replaced.EncapContentInfo().FullBytes, env.EncapContentInfo().FullBytes) {
		t.Error("ReplaceStores modified the encapsulated content")
	}
	if len(replaced.X509Certificates()) != 1 {
		t.Error("Expected the new certificate store to contain 1 certificate")
	}
	if len(replaced.RevocationEntries()) != 1 {
		t.Error("Expected the new revocation store to contain 1 entry")
	}

	// Original envelope is unchanged
	if len(env.X509Certificates()) != 0 {
		t.Error("ReplaceStores must not mutate the original envelope")
	}
}
