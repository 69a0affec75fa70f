package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/netresearch/tauproxy/cli"
	"github.com/netresearch/tauproxy/config"
	"github.com/netresearch/tauproxy/supervisor"
)

var (
	version string
	build   string
)

func main() {
	defaults, err := config.Default()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tauproxy: %v\n", err)
		os.Exit(1)
	}

	cmd := &cli.DaemonCommand{Config: *defaults}

	parser := flags.NewParser(cmd, flags.Default)
	parser.LongDescription = "Per-node metric push gateway: accepts DESC/VAL records over a local socket and exposes them for scraping."

	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		var flagErr *flags.Error
		if errors.As(err, &flagErr) {
			parser.WriteHelp(os.Stdout)
			fmt.Fprintf(os.Stdout, "\nBuild information\n  commit: %s\n  date: %s\n", version, build)
		}
		os.Exit(1)
	}

	if err := cmd.Execute(nil); err != nil {
		// A signal-driven shutdown still exits nonzero, the way a killed
		// daemon is expected to, but isn't logged as a failure.
		if errors.Is(err, supervisor.ErrSignalShutdown) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "tauproxy: %v\n", err)
		os.Exit(1)
	}
}
