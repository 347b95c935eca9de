package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a payload ref does not resolve to a stored blob
var ErrNotFound = errors.New("blob not found")

// Storage is durable payload storage for uploaded documents. The pipeline
// treats refs as opaque handles; only the processor and the admission path
// care about the bytes behind them.
type Storage interface {
	// Store persists the payload and returns an opaque ref
	Store(ctx context.Context, name string, r io.Reader) (string, error)
	// Open returns a reader for the payload behind ref
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Delete removes the payload behind ref
	Delete(ctx context.Context, ref string) error
}
