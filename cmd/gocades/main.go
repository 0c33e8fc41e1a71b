// Command gocades is a CLI tool for building, extending and inspecting
// CAdES signature envelopes.
//
// Usage:
//
//	gocades <command> [options] <args>
//
// Commands:
//
//	sign     Create a CAdES signature envelope over a file
//	extend   Add validation material to an existing envelope
//	inspect  Print the structure of a signature envelope
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Sign a file
//	gocades sign document.bin signature.p7s cert.pem key.pem
//
//	# Embed a CRL into an existing envelope
//	gocades extend -crl ca.crl signature.p7s extended.p7s
//
//	# Inspect an envelope with JSON output
//	gocades inspect -json signature.p7s
package main

import (
	"os"

	"github.com/georgepadayatti/gocades/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/gocades
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Set version info
	cli.Version = version
	cli.BuildTime = buildTime

	// Run the CLI
	cli.Run(os.Args)
}
