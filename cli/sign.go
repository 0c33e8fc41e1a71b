package cli

import (
	"encoding/asn1"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/georgepadayatti/gocades/cades"
	"github.com/georgepadayatti/gocades/cms"
	"github.com/georgepadayatti/gocades/config"
	"github.com/georgepadayatti/gocades/keys"
	"github.com/georgepadayatti/gocades/signers"
)

// SignOptions contains options for the sign command.
type SignOptions struct {
	ConfigFile    string
	KeySet        string
	Digest        string
	Detached      bool
	Commitment    string
	NoSigningTime bool
	AddTo         string
}

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var opts SignOptions

	signFlags.StringVar(&opts.ConfigFile, "config", "", "YAML signing configuration file; credentials come from a key set instead of positional arguments")
	signFlags.StringVar(&opts.KeySet, "key-set", "", "Named key set from the configuration (defaults to the configured default)")
	signFlags.StringVar(&opts.Digest, "digest", "sha256", "Digest algorithm: sha256, sha384, sha512")
	signFlags.BoolVar(&opts.Detached, "detached", false, "Do not embed the signed content in the envelope")
	signFlags.StringVar(&opts.Commitment, "commitment", "", "Commitment type: proof-of-origin, proof-of-receipt, proof-of-delivery, proof-of-sender, proof-of-approval, proof-of-creation, or a dotted OID")
	signFlags.BoolVar(&opts.NoSigningTime, "no-signing-time", false, "Omit the signing-time attribute")
	signFlags.StringVar(&opts.AddTo, "add-to", "", "Existing envelope to add this signature to (parallel signature)")

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <input> <output.p7s> <certificate.pem> <private_key.pem> [chain.pem]\n", os.Args[0])
		fmt.Printf("       %s sign -config <config.yaml> [options] <input> <output.p7s>\n\n", os.Args[0])
		fmt.Println("Create a CAdES signature envelope over a file.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input            File to sign")
		fmt.Println("  output.p7s       Output file for the signature envelope")
		fmt.Println("  certificate.pem  Signing certificate (PEM or DER format)")
		fmt.Println("  private_key.pem  Private key for signing (PEM or DER format)")
		fmt.Println("  chain.pem        Optional certificate chain (PEM format)")
		fmt.Println("")
		fmt.Println("With -config the certificate and key come from the configured key set")
		fmt.Println("(pemder, pkcs12 or pkcs11) and the profile section provides defaults")
		fmt.Println("for the signature options.")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign document.bin signature.p7s cert.pem key.pem\n", os.Args[0])
		fmt.Printf("  %s sign -detached -digest sha512 document.bin signature.p7s cert.pem key.pem chain.pem\n", os.Args[0])
		fmt.Printf("  %s sign -add-to signature.p7s document.bin both.p7s cert2.pem key2.pem\n", os.Args[0])
		fmt.Printf("  %s sign -config signing.yaml -key-set hsm document.bin signature.p7s\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	explicit := make(map[string]bool)
	signFlags.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	var err error
	switch {
	case opts.ConfigFile != "":
		if len(signFlags.Args()) < 2 {
			signFlags.Usage()
			osExit(1)
		}
		err = signFileFromConfig(signFlags.Arg(0), signFlags.Arg(1), &opts, explicit)
	default:
		if len(signFlags.Args()) < 4 {
			signFlags.Usage()
			osExit(1)
		}
		var chainPath string
		if len(signFlags.Args()) > 4 {
			chainPath = signFlags.Arg(4)
		}
		err = signFile(signFlags.Arg(0), signFlags.Arg(1), signFlags.Arg(2), signFlags.Arg(3), chainPath, &opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	fmt.Printf("Successfully created signature envelope: %s\n", signFlags.Arg(1))
}

// signFile builds the signature envelope from positional credential
// arguments and writes it out.
func signFile(inputPath, outputPath, certPath, keyPath, chainPath string, opts *SignOptions) error {
	cert, err := keys.LoadCertFromPemDer(certPath)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}

	privateKey, err := keys.LoadPrivateKeyFromPemDer(keyPath, nil)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}

	settings := cades.VerifierSettings{}
	if chainPath != "" {
		chain, err := keys.LoadCertsFromPemDer(chainPath)
		if err != nil {
			return fmt.Errorf("failed to load certificate chain: %w", err)
		}
		settings.CandidateCertificates = chain
	}

	identity, err := cades.IdentityFromCertificate(cert)
	if err != nil {
		return err
	}
	descriptor, err := cades.NewSignerDescriptorFromKey(privateKey, opts.Digest, identity, nil, nil)
	if err != nil {
		return err
	}

	return buildAndWriteEnvelope(inputPath, outputPath, identity, descriptor, settings, opts)
}

// signFileFromConfig resolves the signing credential and verifier settings
// from a configuration file and builds the envelope with them.
func signFileFromConfig(inputPath, outputPath string, opts *SignOptions, explicit map[string]bool) error {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	applyProfile(cfg.Profile, opts, explicit)

	settings := cades.VerifierSettings{}
	if cfg.Validation != nil {
		settings, err = cfg.Validation.VerifierSettings()
		if err != nil {
			return err
		}
	}

	ks, err := cfg.KeySet(opts.KeySet)
	if err != nil {
		return err
	}

	if ks.Type == "pkcs11" {
		return signFileWithPKCS11(inputPath, outputPath, ks.PKCS11, settings, opts)
	}

	cred, err := ks.LoadCredential()
	if err != nil {
		return err
	}
	settings.CandidateCertificates = append(settings.CandidateCertificates, cred.OtherCerts...)

	identity, err := cades.IdentityFromCertificate(cred.Certificate)
	if err != nil {
		return err
	}
	descriptor, err := cades.NewSignerDescriptorFromKey(cred.PrivateKey, opts.Digest, identity, nil, nil)
	if err != nil {
		return err
	}

	return buildAndWriteEnvelope(inputPath, outputPath, identity, descriptor, settings, opts)
}

// signFileWithPKCS11 signs through a hardware token. The signing
// certificate comes from the configured file since the key never leaves
// the token.
func signFileWithPKCS11(inputPath, outputPath string, p11 *config.PKCS11SignatureConfig, settings cades.VerifierSettings, opts *SignOptions) error {
	if p11 == nil {
		return fmt.Errorf("pkcs11 key set has no pkcs11 section")
	}
	if err := p11.Validate(); err != nil {
		return err
	}
	if err := p11.ProcessConfig(); err != nil {
		return err
	}
	if p11.SigningCertificate == nil {
		return fmt.Errorf("pkcs11 key set needs signing-certificate to build the envelope")
	}

	var tokenLabel string
	if p11.TokenCriteria != nil {
		tokenLabel = p11.TokenCriteria.Label
	}
	session, err := signers.OpenPKCS11Session(p11.ModulePath, tokenLabel, p11.UserPIN)
	if err != nil {
		return err
	}
	defer session.Close()

	operator, err := signers.NewPKCS11Operator(session, p11.GetKeyLabel(), p11.GetKeyID(), p11.KeyType, opts.Digest)
	if err != nil {
		return err
	}

	identity, err := cades.IdentityFromCertificate(p11.SigningCertificate)
	if err != nil {
		return err
	}
	descriptor, err := cades.NewSignerDescriptor(operator, identity, nil, nil)
	if err != nil {
		return err
	}
	settings.CandidateCertificates = append(settings.CandidateCertificates, p11.OtherCerts...)

	return buildAndWriteEnvelope(inputPath, outputPath, identity, descriptor, settings, opts)
}

// applyProfile fills in signature options from the configuration profile.
// Flags given explicitly on the command line win over the profile.
func applyProfile(profile *config.SignatureProfileConfig, opts *SignOptions, explicit map[string]bool) {
	if profile == nil {
		return
	}
	if profile.Digest != "" && !explicit["digest"] {
		opts.Digest = profile.Digest
	}
	if profile.Detached && !explicit["detached"] {
		opts.Detached = true
	}
	if profile.CommitmentType != "" && !explicit["commitment"] {
		opts.Commitment = profile.CommitmentType
	}
	if profile.OmitSigningTime && !explicit["no-signing-time"] {
		opts.NoSigningTime = true
	}
}

// buildAndWriteEnvelope reads the input, builds the envelope with the
// given signer and writes it to the output path.
func buildAndWriteEnvelope(inputPath, outputPath string, identity cades.SigningIdentity, descriptor *cades.SignerDescriptor, settings cades.VerifierSettings, opts *SignOptions) error {
	content, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	var existing *cms.SignedEnvelope
	if opts.AddTo != "" {
		data, err := os.ReadFile(opts.AddTo)
		if err != nil {
			return fmt.Errorf("failed to read existing envelope: %w", err)
		}
		existing, err = cms.ParseEnvelope(data)
		if err != nil {
			return fmt.Errorf("failed to parse existing envelope: %w", err)
		}
	}

	params := &cades.SignatureParameters{
		Identity: identity,
		Detached: opts.Detached,
	}
	if !opts.NoSigningTime {
		params.SigningTime = time.Now()
	}
	if opts.Commitment != "" {
		oid, err := commitmentOID(opts.Commitment)
		if err != nil {
			return err
		}
		params.CommitmentType = oid
	}

	builder := cades.NewEnvelopeBuilder(cades.NewBaselineCertificateSelector(settings))
	env, err := builder.Build(params, descriptor, content, existing)
	if err != nil {
		return fmt.Errorf("failed to build envelope: %w", err)
	}

	if err := os.WriteFile(outputPath, env.Encode(), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// commitmentOID maps a commitment type name or dotted OID string to its
// OID.
func commitmentOID(name string) (asn1.ObjectIdentifier, error) {
	switch name {
	case "proof-of-origin":
		return cades.OIDProofOfOrigin, nil
	case "proof-of-receipt":
		return cades.OIDProofOfReceipt, nil
	case "proof-of-delivery":
		return cades.OIDProofOfDelivery, nil
	case "proof-of-sender":
		return cades.OIDProofOfSender, nil
	case "proof-of-approval":
		return cades.OIDProofOfApproval, nil
	case "proof-of-creation":
		return cades.OIDProofOfCreation, nil
	}
	if components, err := config.ProcessOID(name); err == nil {
		return asn1.ObjectIdentifier(components), nil
	}
	return nil, fmt.Errorf("unknown commitment type: %s", name)
}
