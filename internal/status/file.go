// ABOUTME: Status stored in a plain file
// ABOUTME: Writes go to a temp file that is synced and renamed into place

package status

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the status in one file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store at path. An empty path stores nothing.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(context.Context) (Status, error) {
	if f.path == "" {
		return Status{}, nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("status: read %s: %w", f.path, err)
	}
	return decode(data)
}

func (f *FileStore) Save(_ context.Context, s Status) error {
	if f.path == "" {
		return nil
	}
	data, err := encode(s)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("status: mkdir %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(f.path)+".tmp")
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmp)
		}
	}()

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("status: open tmp: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		_ = out.Close()
		return fmt.Errorf("status: write: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("status: fsync: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("status: close: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("status: rename: %w", err)
	}
	cleanup = false

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
