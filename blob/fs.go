package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxpipe/voxpipe"
)

// Ensure FS implements Store at compile time.
var _ Store = (*FS)(nil)

// FS stores objects as files under a root directory. Writes go through a
// temp file and rename so readers never observe a partial object.
type FS struct {
	root string
}

// NewFS creates a filesystem store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("voxpipe/blob: new fs store: %w", err)
	}
	return &FS{root: dir}, nil
}

// Root returns the store's root directory.
func (f *FS) Root() string { return f.root }

// path maps a key to a filesystem path, rejecting traversal outside the
// root.
func (f *FS) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("voxpipe/blob: invalid key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}

// Put writes the object atomically via a temp file in the target
// directory.
func (f *FS) Put(_ context.Context, key string, r io.Reader) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("voxpipe/blob: put %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return fmt.Errorf("voxpipe/blob: put %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("voxpipe/blob: put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("voxpipe/blob: put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("voxpipe/blob: put %s: %w", key, err)
	}
	return nil
}

// Get opens the object for reading.
func (f *FS) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("voxpipe/blob: get %s: %w", key, voxpipe.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("voxpipe/blob: get %s: %w", key, err)
	}
	return file, nil
}

// Delete removes the object. Missing objects are ignored.
func (f *FS) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("voxpipe/blob: delete %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the object is present.
func (f *FS) Exists(_ context.Context, key string) (bool, error) {
	p, err := f.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("voxpipe/blob: exists %s: %w", key, err)
	}
	return true, nil
}
