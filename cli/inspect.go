package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/georgepadayatti/gocades/cms"
)

// InspectOptions contains options for the inspect command.
type InspectOptions struct {
	JSON bool
}

// EnvelopeInfo is the inspection report for a signature envelope.
type EnvelopeInfo struct {
	ContentType      string          `json:"content_type"`
	DigestAlgorithms []string        `json:"digest_algorithms"`
	Signers          []SignerSummary `json:"signers"`
	Certificates     []string        `json:"certificates"`
	Revocation       []string        `json:"revocation"`
}

// SignerSummary describes one SignerInfo of the envelope.
type SignerSummary struct {
	Version            int    `json:"version"`
	DigestAlgorithm    string `json:"digest_algorithm"`
	SignatureAlgorithm string `json:"signature_algorithm"`
	SignatureBytes     int    `json:"signature_bytes"`
	HasSignedAttrs     bool   `json:"has_signed_attrs"`
	HasUnsignedAttrs   bool   `json:"has_unsigned_attrs"`
}

// InspectCommand implements the 'inspect' command.
func InspectCommand(args []string) {
	inspectFlags := flag.NewFlagSet("inspect", flag.ExitOnError)

	var opts InspectOptions
	inspectFlags.BoolVar(&opts.JSON, "json", false, "Output the report as JSON")

	inspectFlags.Usage = func() {
		fmt.Printf("Usage: %s inspect [options] <signature.p7s>\n\n", os.Args[0])
		fmt.Println("Print the structure of a signature envelope.")
		fmt.Println("")
		fmt.Println("Options:")
		inspectFlags.PrintDefaults()
	}

	if err := inspectFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(inspectFlags.Args()) < 1 {
		inspectFlags.Usage()
		osExit(1)
	}

	if err := inspectEnvelopeFile(inspectFlags.Arg(0), &opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

// inspectEnvelopeFile parses the envelope and prints the report.
func inspectEnvelopeFile(path string, opts *InspectOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}
	env, err := cms.ParseEnvelope(data)
	if err != nil {
		return fmt.Errorf("failed to parse envelope: %w", err)
	}

	info, err := buildEnvelopeInfo(env)
	if err != nil {
		return err
	}

	if opts.JSON {
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Content type: %s\n", info.ContentType)
	fmt.Printf("Digest algorithms: %v\n", info.DigestAlgorithms)
	fmt.Printf("Signers: %d\n", len(info.Signers))
	for i, signer := range info.Signers {
		fmt.Printf("  [%d] version=%d digest=%s signature=%s (%d bytes)\n",
			i, signer.Version, signer.DigestAlgorithm, signer.SignatureAlgorithm, signer.SignatureBytes)
	}
	fmt.Printf("Certificates: %d\n", len(info.Certificates))
	for _, subject := range info.Certificates {
		fmt.Printf("  %s\n", subject)
	}
	fmt.Printf("Revocation entries: %d\n", len(info.Revocation))
	for _, entry := range info.Revocation {
		fmt.Printf("  %s\n", entry)
	}
	return nil
}

// buildEnvelopeInfo assembles the report from a parsed envelope.
func buildEnvelopeInfo(env *cms.SignedEnvelope) (*EnvelopeInfo, error) {
	contentType, err := env.EContentType()
	if err != nil {
		return nil, err
	}

	info := &EnvelopeInfo{ContentType: contentType.String()}

	for _, alg := range env.DigestAlgorithms() {
		info.DigestAlgorithms = append(info.DigestAlgorithms, alg.Algorithm.String())
	}

	signers, err := env.SignerInfos()
	if err != nil {
		return nil, err
	}
	for _, si := range signers {
		info.Signers = append(info.Signers, SignerSummary{
			Version:            si.Version,
			DigestAlgorithm:    si.DigestAlgorithm.Algorithm.String(),
			SignatureAlgorithm: si.SignatureAlgorithm.Algorithm.String(),
			SignatureBytes:     len(si.Signature),
			HasSignedAttrs:     len(si.SignedAttrs.FullBytes) > 0,
			HasUnsignedAttrs:   len(si.UnsignedAttrs.FullBytes) > 0,
		})
	}

	for _, cert := range env.X509Certificates() {
		info.Certificates = append(info.Certificates, cert.Subject.String())
	}

	for _, ref := range env.RevocationEntries() {
		info.Revocation = append(info.Revocation, ref.Format.String())
	}

	return info, nil
}
