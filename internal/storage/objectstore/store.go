// Package objectstore reads and writes whole objects by key in a bucket.
package objectstore

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("object not found")

type Store interface {
	// Put replaces the object at key. Readers never observe a partially
	// written object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Get opens the object at key, returning ErrNotFound when absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}
