package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hanzong05/farm2go-sub002/internal/errors"
)

// File is a Store backed by one file per key inside a data folder.
type File struct {
	mu  sync.Mutex
	dir string
}

// NewFile creates a file-backed blob store rooted at dir, creating the
// directory if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("[blobstore.NewFile] create data folder: %w", err)
	}
	return &File{dir: dir}, nil
}

var _ Store = (*File)(nil)

func (f *File) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, fmt.Errorf("[blobstore.Get] read %q: %w", key, err)
	}
	return blob, nil
}

func (f *File) Set(key string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Write-then-rename so a crash mid-write never leaves a torn blob.
	tmp := f.path(key) + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("[blobstore.Set] write %q: %w", key, err)
	}
	if err := os.Rename(tmp, f.path(key)); err != nil {
		return fmt.Errorf("[blobstore.Set] rename %q: %w", key, err)
	}
	return nil
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("[blobstore.Delete] remove %q: %w", key, err)
	}
	return nil
}

func (f *File) path(key string) string {
	// Keys are dotted identifiers; keep the filename filesystem-safe.
	name := strings.ReplaceAll(key, string(filepath.Separator), "_")
	return filepath.Join(f.dir, name+".json")
}
