// Package blob abstracts artifact storage for recordings, chunks,
// transcripts, and summaries. Keys are slash-separated paths like
// "uploads/<job_id>/<file>". The filesystem implementation is the local
// equivalent of an object bucket.
package blob

import (
	"context"
	"io"
)

// Store reads and writes artifacts by key.
type Store interface {
	// Put writes the full contents of r under key, replacing any
	// existing object.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens the object at key for reading. The caller must close
	// the returned reader. Missing keys return voxpipe.ErrBlobNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// ReadAll is a convenience that fetches an object fully into memory.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
