// Package storage defines the blob storage abstraction used for downloaded
// lesson images and wiring diagrams.
// This keeps the phases independent of a specific backend (Google Cloud
// Storage, the local filesystem, or memory for tests).
package storage

import (
	"context"
	"io"
)

// BlobStore persists binary artifacts under slash-separated object paths.
// Implementations must never expose a partially written object: a reader
// either sees the previous content, nothing, or the complete new content.
type BlobStore interface {
	// PutObject stores the content read from r and returns a URI for it.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	// Exists reports whether an object is already stored at path.
	Exists(ctx context.Context, path string) (bool, error)
}
