package replica

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"poolselect/pkg/types"
)

// StateStore persists control records keyed by PNFS ID
type StateStore interface {
	// Load returns the record of id or an error wrapping ErrNotFound
	Load(id types.PnfsID) ([]byte, error)
	// Store replaces the record of id
	Store(id types.PnfsID, data []byte) error
	// Remove deletes the record of id; a missing record is not an error
	Remove(id types.PnfsID) error
	// List returns the ids of all stored records
	List() ([]types.PnfsID, error)
	Close() error
}

// FileStore keeps one control file per replica under <dir>/control
type FileStore struct {
	dir string
}

// NewFileStore opens or creates a control directory below dir
func NewFileStore(dir string) (*FileStore, error) {
	control := filepath.Join(dir, "control")
	if err := os.MkdirAll(control, 0755); err != nil {
		return nil, fmt.Errorf("failed to create control directory: %w", err)
	}
	return &FileStore{dir: control}, nil
}

func (s *FileStore) path(id types.PnfsID) string {
	return filepath.Join(s.dir, string(id))
}

func (s *FileStore) Load(id types.PnfsID) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read control file: %w", err)
	}
	return data, nil
}

// Store writes the record to a temporary file and renames it into place
func (s *FileStore) Store(id types.PnfsID, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+string(id)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary control file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write control file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync control file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close control file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set control file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return fmt.Errorf("failed to replace control file: %w", err)
	}
	return nil
}

func (s *FileStore) Remove(id types.PnfsID) error {
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove control file: %w", err)
	}
	return nil
}

// List skips temporary files and names that are not PNFS IDs
func (s *FileStore) List() ([]types.PnfsID, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read control directory: %w", err)
	}
	var ids []types.PnfsID
	for _, de := range dirents {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		id, err := types.ParsePnfsID(de.Name())
		if err != nil || string(id) != de.Name() {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *FileStore) Close() error { return nil }
