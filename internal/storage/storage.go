package storage

import "context"

// BlobStore holds attachment bytes. Paths are caller-chosen (user-scoped,
// timestamped); the returned URL is what gets written into message rows.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, fileURL string) error
}
