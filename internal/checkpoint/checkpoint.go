// Package checkpoint persists training state between cycles and across
// process restarts.
//
// A checkpoint is a single file holding the model state dict (parameters
// and batch-norm running statistics), the optimizer state (velocity
// buffers, stored under an "optimizer." key prefix), and the global step.
// Writes are crash-atomic: the payload goes to a temp file in the same
// directory, is synced, and is renamed over the live checkpoint, so a crash
// can never leave a partially written checkpoint readable.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gorgonia.org/tensor"
)

// fileName is the live checkpoint within the checkpoint directory.
const fileName = "model.ckpt"

// Entry is one serialized tensor.
type Entry struct {
	Shape []int
	Data  []float64
}

// State is a complete training snapshot.
type State struct {
	Step    int64
	Tensors map[string]Entry
}

// FromDense converts a tensor to its serialized form, copying the data.
func FromDense(t *tensor.Dense) Entry {
	src := t.Data().([]float64)
	data := make([]float64, len(src))
	copy(data, src)
	return Entry{Shape: append([]int(nil), t.Shape()...), Data: data}
}

// Dense materializes the entry as a tensor.
func (e Entry) Dense() *tensor.Dense {
	data := make([]float64, len(e.Data))
	copy(data, e.Data)
	return tensor.New(tensor.WithShape(e.Shape...), tensor.WithBacking(data))
}

// Save writes the state atomically beneath dir, creating the directory if
// needed.
func Save(dir string, st *State) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = gob.NewEncoder(tmp).Encode(st); err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, fileName)); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load reads the checkpoint beneath dir. Returns (nil, nil) when no
// checkpoint exists, which callers treat as a cold start.
func Load(dir string) (*State, error) {
	f, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: open: %w", err)
	}
	defer f.Close()

	st := &State{}
	if err := gob.NewDecoder(f).Decode(st); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return st, nil
}
