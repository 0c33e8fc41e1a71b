// Package cli provides the command-line interface for building, extending
// and inspecting CAdES signature envelopes.
package cli

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "sign":
		SignCommand(args)
	case "extend":
		ExtendCommand(args)
	case "inspect":
		InspectCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("gocades - CAdES signature envelope tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  sign     Create a CAdES signature envelope over a file")
	fmt.Println("  extend   Add validation material to an existing envelope")
	fmt.Println("  inspect  Print the structure of a signature envelope")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s sign document.bin signature.p7s cert.pem key.pem\n", os.Args[0])
	fmt.Printf("  %s extend -crl revocation.crl signature.p7s extended.p7s\n", os.Args[0])
	fmt.Printf("  %s inspect signature.p7s\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("gocades version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}
