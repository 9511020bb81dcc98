package service

import (
	"context"
	"time"
)

// ObjectStore is the blob gateway the ingestion flow writes through.
// object.MinIOStore and object.MemoryStore satisfy it.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string, meta map[string]string) error
	Delete(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
