package cmd

import (
	"debug/elf"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/anton-rs/cannon/cannon/mipsevm/program"
)

func LoadELF(ctx *cli.Context) error {
	elfPath := ctx.Path(LoadELFPathFlag.Name)
	elfProgram, err := elf.Open(elfPath)
	if err != nil {
		return fmt.Errorf("opening ELF file %q: %w", elfPath, err)
	}
	defer elfProgram.Close()

	state, err := program.LoadELF(elfProgram)
	if err != nil {
		return fmt.Errorf("loading ELF data into VM state: %w", err)
	}
	if err := program.PatchGo(elfProgram, state); err != nil {
		return fmt.Errorf("patching Go runtime symbols: %w", err)
	}
	if err := program.PatchStack(state, ctx.Args().Slice()); err != nil {
		return fmt.Errorf("patching initial stack: %w", err)
	}

	return writeState(ctx.Path(LoadELFOutFlag.Name), state)
}

var LoadELFCommand = &cli.Command{
	Name:        "load-elf",
	Usage:       "Load a MIPS32 big-endian ELF into an initial JSON or binary state",
	Description: "Loads the ELF's PT_LOAD segments into memory, patches a handful of Go runtime symbols that assume kernel support the emulator doesn't provide, and sets up the initial stack frame (remaining CLI args become argv).",
	Action:      LoadELF,
	Flags: []cli.Flag{
		LoadELFPathFlag,
		LoadELFOutFlag,
	},
}
