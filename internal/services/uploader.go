// Package services – Uploader
//
// The attachment uploader stores a binary payload in the external object
// store under a random, collision-resistant key and returns the public URL.
// It is deliberately decoupled from message persistence: a failed upload
// aborts the send before any message row exists.
package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/averline/roomchat/internal/storage"
)

// extByContentType maps the accepted image MIME types to a storage key
// suffix. Unknown types fall back to "bin".
var extByContentType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Uploader stores attachments and mints their retrieval URLs.
type Uploader struct {
	// Store is the object store attachments are written to.
	Store storage.ObjectStore
	// Timeout bounds one upload call. On expiry the upload counts as failed.
	Timeout time.Duration
	// KeyPrefix namespaces attachment keys in the bucket, e.g. "uploads".
	KeyPrefix string
}

// NewUploader constructs an Uploader with sane defaults.
func NewUploader(store storage.ObjectStore, timeout time.Duration) *Uploader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Uploader{Store: store, Timeout: timeout, KeyPrefix: "uploads"}
}

// Upload stores payload and returns its public URL. The storage key is a
// random UUID path segment, never derived from user input, so keys cannot
// collide or traverse. Failure or timeout returns an error wrapping
// ErrUploadFailed; the caller must not persist a message referencing a URL
// from a failed upload.
func (u *Uploader) Upload(ctx context.Context, payload []byte, contentType string) (string, error) {
	key := u.objectKey(contentType)

	ctx, cancel := context.WithTimeout(ctx, u.Timeout)
	defer cancel()

	if err := u.Store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), contentType); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return u.Store.PublicURL(key), nil
}

func (u *Uploader) objectKey(contentType string) string {
	ext, ok := extByContentType[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		ext = "bin"
	}
	prefix := u.KeyPrefix
	if prefix == "" {
		prefix = "uploads"
	}
	return fmt.Sprintf("%s/%s.%s", prefix, uuid.NewString(), ext)
}
