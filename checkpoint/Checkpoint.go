// Package checkpoint persists parameter trees to disk so that learned
// weights can be restored across processes.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kew96/rljax/params"
	"gorgonia.org/tensor"
)

// snapshot is the on-disk representation of a params.Tree
type snapshot struct {
	Names   []string
	Tensors []*tensor.Dense
}

// Save writes a parameter tree to path, creating parent directories as
// needed. An existing file at path is overwritten.
func Save(path string, t params.Tree) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("save: could not create directory: %v", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save: could not create file: %v", err)
	}
	defer file.Close()

	enc := gob.NewEncoder(file)
	err = enc.Encode(snapshot{Names: t.Names(), Tensors: t.Tensors()})
	if err != nil {
		return fmt.Errorf("save: could not encode parameters: %v", err)
	}
	return nil
}

// Load reads a parameter tree previously written by Save.
func Load(path string) (params.Tree, error) {
	file, err := os.Open(path)
	if err != nil {
		return params.Tree{}, fmt.Errorf("load: could not open file: %v",
			err)
	}
	defer file.Close()

	var s snapshot
	dec := gob.NewDecoder(file)
	if err := dec.Decode(&s); err != nil {
		return params.Tree{}, fmt.Errorf("load: could not decode "+
			"parameters: %v", err)
	}

	tree, err := params.New(s.Names, s.Tensors)
	if err != nil {
		return params.Tree{}, fmt.Errorf("load: %v", err)
	}
	return tree, nil
}
