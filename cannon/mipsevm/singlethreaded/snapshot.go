package singlethreaded

import (
	"fmt"
	"os"

	"github.com/ethereum-optimism/optimism/op-service/ioutil"
	"github.com/ethereum-optimism/optimism/op-service/jsonutil"
)

// ErrStateDecodeError wraps any error surfaced while decoding a snapshot,
// whether the JSON or binary form.
var ErrStateDecodeError = fmt.Errorf("state decode error")

// WriteJSON writes st as the JSON snapshot format described by the
// external interface, gzip-compressing it when path ends in ".gz".
func WriteJSON(path string, st *State, perm os.FileMode) error {
	if err := jsonutil.WriteJSON(path, st, perm); err != nil {
		return fmt.Errorf("writing state snapshot to %s: %w", path, err)
	}
	return nil
}

// ReadJSON loads a snapshot written by WriteJSON, transparently
// decompressing it if it was gzipped.
func ReadJSON(path string) (*State, error) {
	st, err := jsonutil.LoadJSON[State](path)
	if err != nil {
		return nil, fmt.Errorf("loading state snapshot from %s: %w: %w", path, ErrStateDecodeError, err)
	}
	return &st, nil
}

// WriteBinary writes st in the compact binary snapshot format to path,
// via an atomic rename so a crash mid-write cannot corrupt an existing
// snapshot.
func WriteBinary(path string, st *State, perm os.FileMode) error {
	w := ioutil.ToAtomicFile(path, perm)
	if err := st.Serialize(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing binary state snapshot to %s: %w", path, err)
	}
	return w.Close()
}

// ReadBinary loads a snapshot written by WriteBinary.
func ReadBinary(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening binary state snapshot %s: %w", path, err)
	}
	defer f.Close()

	st := New()
	if err := st.Deserialize(f); err != nil {
		return nil, fmt.Errorf("decoding binary state snapshot %s: %w: %w", path, ErrStateDecodeError, err)
	}
	return st, nil
}
