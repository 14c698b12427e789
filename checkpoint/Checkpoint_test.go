package checkpoint

import (
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"

	"github.com/kew96/rljax/params"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	tensors := []*tensor.Dense{
		tensor.New(tensor.WithShape(2, 3), tensor.WithBacking(
			[]float64{1, 2, 3, 4, 5, 6})),
		tensor.New(tensor.WithShape(1, 3), tensor.WithBacking(
			[]float64{-0.5, 0, 0.5})),
	}
	tree, err := params.New([]string{"Weights", "Bias"}, tensors)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Save into a directory that does not yet exist
	path := filepath.Join(t.TempDir(), "checkpoints", "online.bin")
	if err := Save(path, tree); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !params.Equal(tree, loaded) {
		t.Error("loaded tree differs from the saved tree")
	}
	if loaded.Names()[0] != "Weights" || loaded.Names()[1] != "Bias" {
		t.Errorf("loaded names \n\thave(%v)", loaded.Names())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.bin"))
	if err == nil {
		t.Error("load: missing file should error")
	}
}
