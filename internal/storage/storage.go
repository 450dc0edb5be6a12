// Package storage abstracts the object store that holds binary message
// attachments. The messaging core only ever writes: objects are addressed by
// URL after upload and no read/delete lifecycle is modeled here.
package storage

import (
	"context"
	"io"
)

// ObjectStore is the boundary contract the attachment path depends on.
// Implementations must make written objects publicly readable at the URL
// returned by PublicURL.
type ObjectStore interface {
	// Put stores content from r under key. size is the expected content
	// length (-1 if unknown); contentType is the MIME type to serve with.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// PublicURL returns the fully-qualified retrieval URL for key.
	PublicURL(key string) string
}
