package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/npezzotti/galchat/internal/types"
)

// DiskBackend keeps each blob in a file named by its digest, fanned out by
// the first two digest characters.
type DiskBackend struct {
	root string
}

func NewDiskBackend(root string) (*DiskBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DiskBackend{root: root}, nil
}

func (d *DiskBackend) path(digest string) string {
	return filepath.Join(d.root, digest[:2], digest)
}

func (d *DiskBackend) Exists(_ context.Context, digest string) (bool, error) {
	_, err := os.Stat(d.path(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	return true, nil
}

// Write stores data through a temporary file renamed into place, so readers
// never observe a partial blob.
func (d *DiskBackend) Write(_ context.Context, digest string, data []byte) error {
	dst := d.path(digest)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}

	return nil
}

func (d *DiskBackend) Location(digest string) string {
	return filepath.ToSlash(filepath.Join(digest[:2], digest))
}

func (d *DiskBackend) Read(_ context.Context, digest string) ([]byte, error) {
	data, err := os.ReadFile(d.path(digest))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}
	return data, nil
}
