// Package main implements the vecstore CLI: thin wrappers around the
// merkle reference/state machinery and the catalog facet opener, plus
// stub entry points for the dataset-tooling commands (export, tag, show,
// dlhf, mktestdata) that compose the core but do not contribute to its
// difficulty.
package main

import (
	"fmt"
	"os"
)

// Build-time variables set by ldflags.
var (
	version    = "dev"
	buildTime  = "unknown"
	commitHash = "unknown"
)

// Exit codes for the merkle subcommands, per the CLI surface: success,
// verification failure, I/O error, usage error.
const (
	exitOK         = 0
	exitVerifyFail = 1
	exitIOError    = 2
	exitUsageError = 3
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsageError)
	}

	switch os.Args[1] {
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	case "merkle":
		os.Exit(merkleCommand(os.Args[2:]))
	case "export":
		fmt.Println("export: not implemented yet")
	case "tag":
		fmt.Println("tag: not implemented yet")
	case "show":
		fmt.Println("show: not implemented yet")
	case "catalog":
		os.Exit(catalogCommand(os.Args[2:]))
	case "dlhf":
		fmt.Println("dlhf: not implemented yet")
	case "mktestdata":
		fmt.Println("mktestdata: not implemented yet")
	default:
		fmt.Fprintf(os.Stderr, "vecstore: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(exitUsageError)
	}
}

func printVersion() {
	fmt.Printf("vecstore %s\n", version)
	fmt.Printf("Built: %s\n", buildTime)
	fmt.Printf("Commit: %s\n", commitHash)
}

func printUsage() {
	fmt.Printf(`vecstore v%s - chunked content-verifying storage for vector-search test datasets

Usage:
  vecstore <command> [options]

Commands:
  merkle create    --file F [--chunk-size S] --output F.mref
  merkle verify    --file F --reference F.mref
  merkle summary   --file F.mrkl
  export           (not implemented yet)
  tag              (not implemented yet)
  show             (not implemented yet)
  catalog          --dir D --facet NAME [--origin-url U] [--swarm-id ID --peer-addr HOST:PORT --peer-id ID]
  dlhf             (not implemented yet)
  mktestdata       (not implemented yet)
  version          Show version information
  help             Show this help message

Examples:
  vecstore merkle create --file base.fvec --chunk-size 1048576 --output base.fvec.mref
  vecstore merkle verify --file base.fvec --reference base.fvec.mref
  vecstore merkle summary --file base.fvec.mrkl

`, version)
}
