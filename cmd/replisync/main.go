// Package main is the entry point for the replisync CLI.
package main

import (
	"os"

	"github.com/mrz1836/replisync/internal/cli"
)

// Set at build time via -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
//
//nolint:gochecknoglobals // Stamped by the linker
var (
	version string
	commit  string
	date    string
)

func main() {
	err := cli.Execute(cli.BuildInfo{Version: version, Commit: commit, Date: date})
	os.Exit(cli.ExitCode(err))
}
