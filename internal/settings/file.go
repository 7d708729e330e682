package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// FileStore is a MemoryStore that writes the configuration to a CBOR file
// on every change.
type FileStore struct {
	*MemoryStore
	path string
}

// OpenFile loads the configuration from path. A missing file yields the
// defaults; the file is created on the first Set.
func OpenFile(path string) (*FileStore, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		if err := cbor.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode settings %s: %w", path, err)
		}
	}

	fst := &FileStore{MemoryStore: NewMemoryStore(cfg), path: path}
	fst.persist = fst.write
	return fst, nil
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) write(cfg Config) error {
	data, err := cbor.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
