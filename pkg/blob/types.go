package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and Delete for a missing key.
var ErrNotFound = errors.New("blob not found")

type BlobStore interface {
	// Put uploads content to the blob store.
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get retrieves content from the blob store.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a blob.
	Delete(ctx context.Context, key string) error
}
