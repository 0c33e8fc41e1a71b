package cades

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"testing"

	"github.com/georgepadayatti/gocades/cms"
	"github.com/georgepadayatti/gocades/signers"
)

// verifySignerInfo checks that the signer info at index idx carries a
// valid RSA PKCS#1 v1.5 signature over its signed attributes.
func verifySignerInfo(t *testing.T, env *cms.SignedEnvelope, idx int, pub *rsa.PublicKey) {
	t.Helper()
	infos, err := env.SignerInfos()
	if err != nil {
		t.Fatalf("SignerInfos failed: %v", err)
	}
	if idx >= len(infos) {
		t.Fatalf("Signer index %d out of range (%d signers)", idx, len(infos))
	}
	si := infos[idx]

	if len(si.SignedAttrs.FullBytes) == 0 {
		t.Fatal("Expected signed attributes to be present")
	}
	setBytes := make([]byte, len(si.SignedAttrs.FullBytes))
	copy(setBytes, si.SignedAttrs.FullBytes)
	setBytes[0] = 0x31

	digest := sha256.Sum256(setBytes)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], si.Signature); err != nil {
		t.Errorf("Signature verification failed for signer %d: %v", idx, err)
	}
}

func buildTestEnvelope(t *testing.T, content []byte, existing *cms.SignedEnvelope) (*cms.SignedEnvelope, *x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	ca, caKey := generateTestCA(t)
	leaf, leafKey := generateTestLeaf(t, ca, caKey)

	identity, err := IdentityFromCertificate(leaf)
	if err != nil {
		t.Fatalf("IdentityFromCertificate failed: %v", err)
	}
	params := &SignatureParameters{Identity: identity, SigningTime: testSigningTime}

	descriptor, err := NewSignerDescriptorFromKey(leafKey, "sha256", identity, nil, nil)
	if err != nil {
		t.Fatalf("NewSignerDescriptorFromKey failed: %v", err)
	}

	settings := VerifierSettings{CandidateCertificates: []*x509.Certificate{ca}}
	builder := NewEnvelopeBuilder(NewBaselineCertificateSelector(settings))

	env, err := builder.Build(params, descriptor, content, existing)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return env, leaf, leafKey
}

func TestBuildEnvelope(t *testing.T) {
	content := []byte("document content")
	env, leaf, leafKey := buildTestEnvelope(t, content, nil)

	reparsed, err := cms.ParseEnvelope(env.Encode())
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}

	infos, err := reparsed.SignerInfos()
	if err != nil {
		t.Fatalf("SignerInfos failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 signer, got %d", len(infos))
	}
	if infos[0].Version != 1 {
		t.Errorf("Expected SignerInfo version 1, got %d", infos[0].Version)
	}

	contentType, err := reparsed.EContentType()
	if err != nil {
		t.Fatalf("EContentType failed: %v", err)
	}
	if !contentType.Equal(cms.OIDData) {
		t.Errorf("Expected id-data, got %v", contentType)
	}

	verifySignerInfo(t, reparsed, 0, &leafKey.PublicKey)

	certs := reparsed.X509Certificates()
	if len(certs) != 2 {
		t.Fatalf("Expected 2 certificates (leaf + CA), got %d", len(certs))
	}
	if !bytes.Equal(certs[0].Raw, leaf.Raw) {
		t.Error("Signing certificate must be the first entry of the certificate store")
	}
}

func TestBuildEnvelopeDeterministic(t *testing.T) {
	ca, caKey := generateTestCA(t)
	leaf, leafKey := generateTestLeaf(t, ca, caKey)
	content := []byte("deterministic input")

	identity, err := IdentityFromCertificate(leaf)
	if err != nil {
		t.Fatalf("IdentityFromCertificate failed: %v", err)
	}
	params := &SignatureParameters{Identity: identity, SigningTime: testSigningTime}

	build := func() []byte {
		descriptor, err := NewSignerDescriptorFromKey(leafKey, "sha256", identity, nil, nil)
		if err != nil {
			t.Fatalf("NewSignerDescriptorFromKey failed: %v", err)
		}
		builder := NewEnvelopeBuilder(nil)
		env, err := builder.Build(params, descriptor, content, nil)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return env.Encode()
	}

	first := build()
	second := build()
	if !bytes.Equal(first, second) {
		t.Error("Identical inputs must produce byte-identical envelopes")
	}
}

func TestBuildEnvelopeDetached(t *testing.T) {
	ca, caKey := generateTestCA(t)
	leaf, leafKey := generateTestLeaf(t, ca, caKey)
	content := []byte("detached content")

	identity, err := IdentityFromCertificate(leaf)
	if err != nil {
		t.Fatalf("IdentityFromCertificate failed: %v", err)
	}
	params := &SignatureParameters{Identity: identity, SigningTime: testSigningTime, Detached: true}

	descriptor, err := NewSignerDescriptorFromKey(leafKey, "sha256", identity, nil, nil)
	if err != nil {
		t.Fatalf("NewSignerDescriptorFromKey failed: %v", err)
	}
	builder := NewEnvelopeBuilder(nil)
	env, err := builder.Build(params, descriptor, content, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var eci cms.EncapsulatedContentInfo
	if _, err := asn1.Unmarshal(env.EncapContentInfo().FullBytes, &eci); err != nil {
		t.Fatalf("Failed to parse EncapsulatedContentInfo: %v", err)
	}
	if len(eci.EContent.FullBytes) != 0 {
		t.Error("Detached envelope must not embed the content")
	}

	verifySignerInfo(t, env, 0, &leafKey.PublicKey)
}

func TestBuildEnvelopePlaceholder(t *testing.T) {
	ca, caKey := generateTestCA(t)
	_, leafKey := generateTestLeaf(t, ca, caKey)
	content := []byte("to be completed later")

	identity := PlaceholderIdentity()
	params := &SignatureParameters{Identity: identity, SigningTime: testSigningTime}

	descriptor, err := NewSignerDescriptorFromKey(leafKey, "sha256", identity, nil, nil)
	if err != nil {
		t.Fatalf("NewSignerDescriptorFromKey failed: %v", err)
	}
	builder := NewEnvelopeBuilder(nil)
	env, err := builder.Build(params, descriptor, content, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	infos, err := env.SignerInfos()
	if err != nil {
		t.Fatalf("SignerInfos failed: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("Expected 1 signer, got %d", len(infos))
	}
	if infos[0].Version != 3 {
		t.Errorf("Expected SignerInfo version 3 for a placeholder, got %d", infos[0].Version)
	}
	if infos[0].SID.Class != asn1.ClassContextSpecific || infos[0].SID.Tag != 0 {
		t.Error("Expected a [0] SubjectKeyIdentifier signer identifier")
	}
	if len(infos[0].SID.Bytes) != 0 {
		t.Error("Placeholder SubjectKeyIdentifier must be empty")
	}
	if len(env.X509Certificates()) != 0 {
		t.Error("Placeholder envelope must not carry certificates")
	}
}

func TestBuildParallelSignature(t *testing.T) {
	content := []byte("shared document")
	first, _, firstKey := buildTestEnvelope(t, content, nil)
	firstSigner := first.RawSignerInfos()[0]

	second, _, secondKey := buildTestEnvelope(t, content, first)

	infos := second.RawSignerInfos()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 signers, got %d", len(infos))
	}
	if !bytes.Equal(infos[0].FullBytes, firstSigner.FullBytes) {
		t.Error("Adding a parallel signature must not rewrite the existing SignerInfo")
	}

	verifySignerInfo(t, second, 0, &firstKey.PublicKey)
	verifySignerInfo(t, second, 1, &secondKey.PublicKey)

	if !bytes.Equal(second.EncapContentInfo().FullBytes, first.EncapContentInfo().FullBytes) {
		t.Error("Parallel signature must reuse the existing encapsulated content")
	}

	// One digest algorithm entry, both signers use SHA-256
	if len(second.DigestAlgorithms()) != 1 {
		t.Errorf("Expected a deduplicated digest algorithm set, got %d entries", len(second.DigestAlgorithms()))
	}
}

func TestBuildParallelSignatureNoDuplicateCerts(t *testing.T) {
	ca, caKey := generateTestCA(t)
	leaf, leafKey := generateTestLeaf(t, ca, caKey)
	content := []byte("document")

	identity, err := IdentityFromCertificate(leaf)
	if err != nil {
		t.Fatalf("IdentityFromCertificate failed: %v", err)
	}
	params := &SignatureParameters{Identity: identity, SigningTime: testSigningTime}

	settings := VerifierSettings{CandidateCertificates: []*x509.Certificate{ca}}
	builder := NewEnvelopeBuilder(NewBaselineCertificateSelector(settings))

	descriptor, err := NewSignerDescriptorFromKey(leafKey, "sha256", identity, nil, nil)
	if err != nil {
		t.Fatalf("NewSignerDescriptorFromKey failed: %v", err)
	}
	first, err := builder.Build(params, descriptor, content, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Same signer again: certificate store must not grow
	descriptor2, err := NewSignerDescriptorFromKey(leafKey, "sha256", identity, nil, nil)
	if err != nil {
		t.Fatalf("NewSignerDescriptorFromKey failed: %v", err)
	}
	second, err := builder.Build(params, descriptor2, content, first)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(second.X509Certificates()) != len(first.X509Certificates()) {
		t.Errorf("Certificate store grew from %d to %d entries on re-signing",
			len(first.X509Certificates()), len(second.X509Certificates()))
	}
}

func TestBuildWithPrecomputedSignature(t *testing.T) {
	ca, caKey := generateTestCA(t)
	leaf, leafKey := generateTestLeaf(t, ca, caKey)
	content := []byte("remote signing flow")

	identity, err := IdentityFromCertificate(leaf)
	if err != nil {
		t.Fatalf("IdentityFromCertificate failed: %v", err)
	}
	params := &SignatureParameters{Identity: identity, SigningTime: testSigningTime}

	// First pass: produce the data to be signed
	keyOperator, err := signers.NewKeyOperator(leafKey, "sha256")
	if err != nil {
		t.Fatalf("NewKeyOperator failed: %v", err)
	}
	descriptor, err := NewSignerDescriptor(keyOperator, identity, nil, nil)
	if err != nil {
		t.Fatalf("NewSignerDescriptor failed: %v", err)
	}
	dtbs, err := descriptor.DataToBeSigned(params, content)
	if err != nil {
		t.Fatalf("DataToBeSigned failed: %v", err)
	}

	// "Remote" signature over the data to be signed
	digest := sha256.Sum256(dtbs)
	signature, err := rsa.SignPKCS1v15(nil, leafKey, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("Remote signing failed: %v", err)
	}

	// Second pass: complete the envelope with the precomputed signature
	precomputed, err := signers.NewPrecomputedOperator(cms.SHA256WithRSA, signature)
	if err != nil {
		t.Fatalf("NewPrecomputedOperator failed: %v", err)
	}
	completing, err := NewSignerDescriptor(precomputed, identity, nil, nil)
	if err != nil {
		t.Fatalf("NewSignerDescriptor failed: %v", err)
	}
	builder := NewEnvelopeBuilder(nil)
	env, err := builder.Build(params, completing, content, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	verifySignerInfo(t, env, 0, &leafKey.PublicKey)
}

// brokenOperator fails every signing call, standing in for a backend that
// dies mid-operation.
type brokenOperator struct {
	err error
}

func (o *brokenOperator) Algorithm() cms.SignatureAlgorithm {
	return cms.SHA256WithRSA
}

func (o *brokenOperator) SignDigest(digest []byte) ([]byte, error) {
	return nil, o.err
}

func TestBuildSigningFailure(t *testing.T) {
	ca, caKey := generateTestCA(t)
	leaf, _ := generateTestLeaf(t, ca, caKey)

	identity, err := IdentityFromCertificate(leaf)
	if err != nil {
		t.Fatalf("IdentityFromCertificate failed: %v", err)
	}
	params := &SignatureParameters{Identity: identity, SigningTime: testSigningTime}

	backendErr := errors.New("signing backend unavailable")
	descriptor, err := NewSignerDescriptor(&brokenOperator{err: backendErr}, identity, nil, nil)
	if err != nil {
		t.Fatalf("NewSignerDescriptor failed: %v", err)
	}

	_, err = NewEnvelopeBuilder(nil).Build(params, descriptor, []byte("content"), nil)
	if err == nil {
		t.Fatal("Expected Build to fail with a broken operator")
	}
	if !errors.Is(err, ErrEnvelopeConstruction) {
		t.Errorf("Expected ErrEnvelopeConstruction, got %v", err)
	}
	if !errors.Is(err, backendErr) {
		t.Errorf("Expected the backend cause to be preserved, got %v", err)
	}
}

func TestNewSignerDescriptorErrors(t *testing.T) {
	ca, caKey := generateTestCA(t)
	leaf, leafKey := generateTestLeaf(t, ca, caKey)

	if _, err := NewSignerDescriptorFromKey(leafKey, "sha256", SigningIdentity{}, nil, nil); !errors.Is(err, ErrMissingSigningCertificate) {
		t.Errorf("Expected ErrMissingSigningCertificate for the zero identity, got %v", err)
	}

	identity, err := IdentityFromCertificate(leaf)
	if err != nil {
		t.Fatalf("IdentityFromCertificate failed: %v", err)
	}
	if _, err := NewSignerDescriptor(nil, identity, nil, nil); !errors.Is(err, ErrOperatorCreation) {
		t.Errorf("Expected ErrOperatorCreation for a nil operator, got %v", err)
	}
	if _, err := NewSignerDescriptorFromKey(nil, "sha256", identity, nil, nil); !errors.Is(err, ErrOperatorCreation) {
		t.Errorf("Expected ErrOperatorCreation for a nil key, got %v", err)
	}
}

func TestIdentityFromCertificateNil(t *testing.T) {
	if _, err := IdentityFromCertificate(nil); !errors.Is(err, ErrMissingSigningCertificate) {
		t.Errorf("Expected ErrMissingSigningCertificate, got %v", err)
	}
}
