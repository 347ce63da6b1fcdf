// Package setup loads and saves pool selection setup files and reloads
// them when they change on disk.
package setup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"poolselect/pkg/command"
	"poolselect/pkg/selection"
)

// Overrides are settings applied on top of every loaded script, in the
// same transaction as the script itself
type Overrides struct {
	AllPoolsActive *bool
}

func (o Overrides) apply(tx *selection.Tx) {
	if o.AllPoolsActive != nil {
		tx.SetAllPoolsActive(*o.AllPoolsActive)
	}
}

// Load replaces the engine configuration with the script at path. The new
// graph is published in one swap; on any error the engine is unchanged.
// It returns the number of commands applied.
func Load(path string, e *selection.Engine) (int, error) {
	return Overrides{}.Load(path, e)
}

// LoadReader replaces the engine configuration with the script read from r
func LoadReader(r io.Reader, e *selection.Engine) (int, error) {
	return Overrides{}.LoadReader(r, e)
}

// Load is the package level Load with o applied before the swap
func (o Overrides) Load(path string, e *selection.Engine) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open setup file: %w", err)
	}
	defer f.Close()

	n, err := o.LoadReader(f, e)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return n, nil
}

// LoadReader is the package level LoadReader with o applied before the swap
func (o Overrides) LoadReader(r io.Reader, e *selection.Engine) (int, error) {
	cmds, err := command.ParseScript(r)
	if err != nil {
		return 0, err
	}
	err = e.Replace(func(tx *selection.Tx) error {
		if err := command.ApplyAll(tx, cmds); err != nil {
			return err
		}
		o.apply(tx)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(cmds), nil
}

// Save writes the current configuration to path, replacing the file
// atomically.
func Save(path string, e *selection.Engine) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary setup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := e.Snapshot().WriteSetup(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write setup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close setup file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set setup file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace setup file: %w", err)
	}
	return nil
}
