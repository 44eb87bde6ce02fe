package cmd

import (
	"github.com/urfave/cli/v2"
)

// App builds the cannon CLI: a thin urfave/cli wrapper around the
// load-elf, run, and witness subcommands.
func App() *cli.App {
	return &cli.App{
		Name:  "cannon",
		Usage: "MIPS32 fault proof emulator",
		Description: "Loads a MIPS32 big-endian ELF, runs it through the single-threaded " +
			"interpreter while generating state commitments, and can replay a recorded " +
			"state to produce the 226-byte on-chain witness.",
		Commands: []*cli.Command{
			LoadELFCommand,
			RunCommand,
			WitnessCommand,
		},
	}
}
