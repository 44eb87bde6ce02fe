package cmd

import (
	"os"
	"strings"

	"github.com/anton-rs/cannon/cannon/mipsevm/singlethreaded"
)

const outFilePerm = os.FileMode(0o644)

// writeState picks JSON (optionally gzipped) or the compact binary format
// based on path's extension.
func writeState(path string, st *singlethreaded.State) error {
	if strings.HasSuffix(path, ".bin") {
		return singlethreaded.WriteBinary(path, st, outFilePerm)
	}
	return singlethreaded.WriteJSON(path, st, outFilePerm)
}

func readState(path string) (*singlethreaded.State, error) {
	if strings.HasSuffix(path, ".bin") {
		return singlethreaded.ReadBinary(path)
	}
	return singlethreaded.ReadJSON(path)
}
