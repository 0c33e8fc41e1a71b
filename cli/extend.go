package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/georgepadayatti/gocades/cades"
	"github.com/georgepadayatti/gocades/cms"
	"github.com/georgepadayatti/gocades/keys"
	"github.com/georgepadayatti/gocades/revocation"
)

// ExtendOptions contains options for the extend command.
type ExtendOptions struct {
	CRLFiles  multiFlag
	OCSPFiles multiFlag
	CertFiles multiFlag
}

// multiFlag collects repeated string flags.
type multiFlag []string

func (f *multiFlag) String() string {
	return fmt.Sprint([]string(*f))
}

func (f *multiFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

// ExtendCommand implements the 'extend' command.
func ExtendCommand(args []string) {
	extendFlags := flag.NewFlagSet("extend", flag.ExitOnError)

	var opts ExtendOptions

	extendFlags.Var(&opts.CRLFiles, "crl", "DER-encoded CRL file to embed (repeatable)")
	extendFlags.Var(&opts.OCSPFiles, "ocsp", "DER-encoded OCSP response file to embed (repeatable)")
	extendFlags.Var(&opts.CertFiles, "cert", "Certificate file to embed (repeatable)")

	extendFlags.Usage = func() {
		fmt.Printf("Usage: %s extend [options] <input.p7s> <output.p7s>\n\n", os.Args[0])
		fmt.Println("Add validation material to an existing signature envelope.")
		fmt.Println("The signatures in the envelope are left untouched.")
		fmt.Println("")
		fmt.Println("Options:")
		extendFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s extend -crl ca.crl signature.p7s extended.p7s\n", os.Args[0])
		fmt.Printf("  %s extend -ocsp resp.der -cert issuer.pem signature.p7s extended.p7s\n", os.Args[0])
	}

	if err := extendFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(extendFlags.Args()) < 2 {
		extendFlags.Usage()
		osExit(1)
	}

	inputPath := extendFlags.Arg(0)
	outputPath := extendFlags.Arg(1)

	if err := extendEnvelopeFile(inputPath, outputPath, &opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	fmt.Printf("Successfully extended signature envelope: %s\n", outputPath)
}

// extendEnvelopeFile loads the envelope and validation material, merges
// them and writes the result.
func extendEnvelopeFile(inputPath, outputPath string, opts *ExtendOptions) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}
	env, err := cms.ParseEnvelope(data)
	if err != nil {
		return fmt.Errorf("failed to parse envelope: %w", err)
	}

	vd := revocation.NewValidationData()

	for _, file := range opts.CertFiles {
		certs, err := keys.LoadCertsFromPemDer(file)
		if err != nil {
			return fmt.Errorf("failed to load certificates from %s: %w", file, err)
		}
		for _, cert := range certs {
			vd.AddCertificate(cert)
		}
	}

	for _, file := range opts.CRLFiles {
		der, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read CRL %s: %w", file, err)
		}
		token, err := revocation.NewCRLToken(der)
		if err != nil {
			return fmt.Errorf("invalid CRL %s: %w", file, err)
		}
		vd.AddCRLToken(token)
	}

	for _, file := range opts.OCSPFiles {
		der, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read OCSP response %s: %w", file, err)
		}
		token, err := revocation.NewOCSPToken(der)
		if err != nil {
			return fmt.Errorf("invalid OCSP response %s: %w", file, err)
		}
		vd.AddOCSPToken(token)
	}

	extended, err := cades.ExtendEnvelope(env, vd)
	if err != nil {
		return fmt.Errorf("failed to extend envelope: %w", err)
	}

	if err := os.WriteFile(outputPath, extended.Encode(), 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
