// Package main is the entry point for the provision CLI.
//
// provision drives the dispenser setup wizard from a terminal and exposes
// the provisioning operations behind it: device ID availability checks,
// reading and writing a device's configuration, and issuing session tokens
// for the API.
//
// For detailed usage information, run:
//
//	provision --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/dispenser-core/cmd/provision/commands"
)

// Version information set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
