package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"
)

func Witness(ctx *cli.Context) error {
	input := ctx.Path(WitnessInputFlag.Name)
	state, err := readState(input)
	if err != nil {
		return fmt.Errorf("loading state %q: %w", input, err)
	}

	witness, hash := state.EncodeWitness()
	fmt.Printf("witness: %s\n", hexutil.Encode(witness))
	fmt.Printf("stateHash: %s\n", hash.Hex())
	return nil
}

var WitnessCommand = &cli.Command{
	Name:        "witness",
	Usage:       "Print a state's 226-byte witness and state hash",
	Description: "Loads a state snapshot and prints its witness and state hash as hex, without advancing execution. Useful for checking a snapshot against the on-chain verifier out of band.",
	Action:      Witness,
	Flags: []cli.Flag{
		WitnessInputFlag,
	},
}
