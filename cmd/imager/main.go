// Package main is the entry point for the imager CLI.
//
// imager provisions SD cards for Palpable devices: it registers the device
// with the account (or uses a paired device), downloads the current OS image
// and writes it to a removable drive.
//
// Commands: login, logout, pair, status, devices, drives, flash, cache.
//
// For detailed usage information, run:
//
//	imager --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/palpable/imager/cmd/imager/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
