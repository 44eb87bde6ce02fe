package cmd

import "github.com/urfave/cli/v2"

var (
	LoadELFPathFlag = &cli.PathFlag{
		Name:     "path",
		Usage:    "Path to 32-bit big-endian MIPS ELF file",
		Required: true,
	}
	LoadELFOutFlag = &cli.PathFlag{
		Name:  "out",
		Usage: "Output path for the JSON state (.json or .json.gz), or .bin for the binary format",
		Value: "state.json",
	}

	RunInputFlag = &cli.PathFlag{
		Name:  "input",
		Usage: "Path to input state",
		Value: "state.json",
	}
	RunOutputFlag = &cli.PathFlag{
		Name:  "output",
		Usage: "Path to write the output state at completion",
		Value: "out.json",
	}
	RunProofAtFlag = &cli.GenericFlag{
		Name:  "proof-at",
		Usage: "step matcher: when to write proof data; see the step-matcher grammar",
		Value: NewStepMatcher(true),
	}
	RunProofFmtFlag = &cli.StringFlag{
		Name:  "proof-fmt",
		Usage: "format string for proof output file names, with step number substituted with %d",
		Value: "proof-%d.json",
	}
	RunStopAtFlag = &cli.GenericFlag{
		Name:  "stop-at",
		Usage: "step matcher: when to stop running",
		Value: NewStepMatcher(true),
	}
	RunInfoAtFlag = &cli.GenericFlag{
		Name:  "info-at",
		Usage: "step matcher: when to log progress info",
		Value: NewStepMatcher(true),
	}
	RunMetaFlag = &cli.PathFlag{
		Name:  "meta",
		Usage: "Path to symbol metadata JSON, used to label addresses in --info-at output",
	}
	RunLogLevelFlag = &cli.StringFlag{
		Name:  "log.level",
		Usage: "log level: trace, debug, info, warn, error, crit",
		Value: "info",
	}
	RunLogFormatFlag = &cli.StringFlag{
		Name:  "log.format",
		Usage: "log format: text or json",
		Value: "text",
	}

	WitnessInputFlag = &cli.PathFlag{
		Name:     "input",
		Usage:    "Path to input state",
		Required: true,
	}
)
