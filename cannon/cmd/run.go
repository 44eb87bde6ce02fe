package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/jsonutil"

	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
	oraclepkg "github.com/anton-rs/cannon/cannon/preimage"
)

// Proof is the on-disk shape of a single step's proof bundle, written when
// --proof-at matches.
type Proof struct {
	Step uint64 `json:"step"`

	Pre  common.Hash `json:"pre"`
	Post common.Hash `json:"post"`

	StateData hexutil.Bytes `json:"state-data"`
	ProofData hexutil.Bytes `json:"proof-data"`

	OracleKey    hexutil.Bytes `json:"oracle-key,omitempty"`
	OracleValue  hexutil.Bytes `json:"oracle-value,omitempty"`
	OracleOffset uint32        `json:"oracle-offset,omitempty"`
}

func loadMetadata(path string) (*Metadata, error) {
	if path == "" {
		return &Metadata{}, nil
	}
	dat, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata %q: %w", path, err)
	}
	var m Metadata
	if err := json.Unmarshal(dat, &m); err != nil {
		return nil, fmt.Errorf("decoding metadata %q: %w", path, err)
	}
	sort.Slice(m.Symbols, func(i, j int) bool { return m.Symbols[i].Addr < m.Symbols[j].Addr })
	return &m, nil
}

// writeProof writes a single step's proof bundle as JSON to path.
func writeProof(path string, proof *Proof) error {
	return jsonutil.WriteJSON(path, proof, outFilePerm)
}

func Run(ctx *cli.Context) error {
	st, err := readState(ctx.Path(RunInputFlag.Name))
	if err != nil {
		return fmt.Errorf("loading input state: %w", err)
	}

	lvl, err := ParseLevel(ctx.String(RunLogLevelFlag.Name))
	if err != nil {
		return err
	}
	logger, err := NewLogger(os.Stderr, lvl, ctx.String(RunLogFormatFlag.Name))
	if err != nil {
		return err
	}
	outLog := &LoggingWriter{Name: "program stdout", Log: logger}
	errLog := &LoggingWriter{Name: "program stderr", Log: logger}

	meta, err := loadMetadata(ctx.Path(RunMetaFlag.Name))
	if err != nil {
		return err
	}

	args := ctx.Args().Slice()
	var oracle singlethreaded.PreimageOracle
	var oracleCmd *exec.Cmd
	if len(args) > 0 {
		channels, err := oraclepkg.CreateBidirectionalChannels()
		if err != nil {
			return fmt.Errorf("setting up preimage oracle channels: %w", err)
		}
		oracleCmd = exec.Command(args[0], args[1:]...)
		oracleCmd.Stdout = os.Stdout
		oracleCmd.Stderr = os.Stderr
		oracleCmd.ExtraFiles = []*os.File{
			channels.Hint.Host.Reader(),
			channels.Hint.Host.Writer(),
			channels.Preimage.Host.Reader(),
			channels.Preimage.Host.Writer(),
		}
		if err := oracleCmd.Start(); err != nil {
			return fmt.Errorf("starting preimage oracle process: %w", err)
		}
		defer func() {
			_ = oracleCmd.Process.Kill()
			_ = oracleCmd.Wait()
		}()
		oracle = oraclepkg.NewLocalAdapter(channels)
	}

	us := singlethreaded.NewInstrumentedState(st, oracle, outLog, errLog, logger)

	stopAt := ctx.Generic(RunStopAtFlag.Name).(*StepMatcher)
	proofAt := ctx.Generic(RunProofAtFlag.Name).(*StepMatcher)
	infoAt := ctx.Generic(RunInfoAtFlag.Name).(*StepMatcher)
	proofFmt := ctx.String(RunProofFmtFlag.Name)

	start := time.Now()
	startStep := st.Step

	for !st.Exited {
		step := st.Step

		if infoAt.Matches(st) {
			delta := time.Since(start)
			ips := float64(step-startStep) / (float64(delta) / float64(time.Second))
			logger.Info("processing",
				"step", step,
				"pc", HexU32(st.PC),
				"ips", ips,
				"pages", st.Memory.PageCount(),
				"name", meta.LookupSymbol(st.PC),
			)
		}

		if stopAt.Matches(st) {
			break
		}

		if proofAt.Matches(st) {
			witness, err := us.Step(true)
			if err != nil {
				return fmt.Errorf("step %d (pc 0x%08x): %w", step, st.PC, err)
			}
			_, postHash := st.EncodeWitness()
			proof := &Proof{
				Step:      step,
				Pre:       witness.StateHash,
				Post:      postHash,
				StateData: witness.State,
				ProofData: witness.MemProof,
			}
			if witness.PreimageValue != nil {
				proof.OracleKey = witness.PreimageKey[:]
				proof.OracleValue = witness.PreimageValue
				proof.OracleOffset = witness.PreimageOffset
			}
			if err := writeProof(fmt.Sprintf(proofFmt, step), proof); err != nil {
				return fmt.Errorf("writing proof for step %d: %w", step, err)
			}
		} else {
			if _, err := us.Step(false); err != nil {
				return fmt.Errorf("step %d (pc 0x%08x): %w", step, st.PC, err)
			}
		}
	}

	return writeState(ctx.Path(RunOutputFlag.Name), st)
}

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Run the interpreter to completion or to the first --stop-at match",
	Description: "Runs the MIPS32 interpreter, optionally launching a preimage oracle subprocess (pass its command and args after --) and writing proof bundles at each --proof-at match.",
	Action:      Run,
	Flags: []cli.Flag{
		RunInputFlag,
		RunOutputFlag,
		RunProofAtFlag,
		RunProofFmtFlag,
		RunStopAtFlag,
		RunInfoAtFlag,
		RunMetaFlag,
		RunLogLevelFlag,
		RunLogFormatFlag,
	},
}
