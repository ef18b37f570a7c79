package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

var (
	// Version is set via ldflags when building
	Version = ""

	// CommitSHA is set via ldflags when building
	CommitSHA = ""

	cli struct {
		Version kong.VersionFlag `help:"Show version information"`
		Commands
	}
)

func main() {
	ctx := kong.Parse(&cli,
		kong.Vars{
			"version": buildVersion(),
		},
		kong.Name("docledger"),
		kong.Description("Extract Swiss invoices and receipts and fold journal entries into balances."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

func buildVersion() string {
	if Version == "" {
		Version = "dev"
	}
	if CommitSHA == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, CommitSHA)
}
