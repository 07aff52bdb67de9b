// Package main is the entry point for the bosun CLI.
package main

import (
	"os"

	"github.com/openfleet/bosun/internal/cli"
	bosunerr "github.com/openfleet/bosun/internal/errors"
)

func main() {
	if err := cli.Execute(); err != nil {
		cli.PrintError(err)
		os.Exit(bosunerr.ExitCode(err))
	}
}
