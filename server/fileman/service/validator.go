package service

import (
	"fmt"
	"strings"

	"market_files/server/fileman/domain"
)

const (
	MiB = 1 << 20

	DefaultMaxUploadBytes = 10 * MiB
)

// Blob is an upload as received from the client.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// Inspection is what validation learns about a blob; it travels with the
// request into the ingestion flow.
type Inspection struct {
	MimeType string
	Size     int64
	Hash     string
}

// UploadPolicy maps accepted mime types to their size ceiling. MaxBytes is an
// absolute cap applied on top of every per-type limit; zero disables it.
type UploadPolicy struct {
	Limits   map[string]int64
	MaxBytes int64
}

func DefaultUploadLimits() map[string]int64 {
	return map[string]int64{
		"image/jpeg":      5 * MiB,
		"image/png":       5 * MiB,
		"image/gif":       5 * MiB,
		"application/pdf": 10 * MiB,
	}
}

func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{Limits: DefaultUploadLimits(), MaxBytes: DefaultMaxUploadBytes}
}

// NormalizeMimeType lowercases and strips parameters: "Image/PNG; q=1" -> "image/png".
func NormalizeMimeType(raw string) string {
	base, _, _ := strings.Cut(raw, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Bound returns the effective size ceiling for mimeType.
func (p UploadPolicy) Bound(mimeType string) (int64, bool) {
	limit, ok := p.Limits[NormalizeMimeType(mimeType)]
	if !ok {
		return 0, false
	}
	if p.MaxBytes > 0 && p.MaxBytes < limit {
		limit = p.MaxBytes
	}
	return limit, true
}

// Validate checks the declared type before the size, so an unsupported
// type is reported as such whatever its length.
func (p UploadPolicy) Validate(mimeType string, size int64) error {
	bound, ok := p.Bound(mimeType)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedMediaType, NormalizeMimeType(mimeType))
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size", domain.ErrValidation)
	}
	if size > bound {
		return fmt.Errorf("%w: %d bytes exceeds %d", domain.ErrPayloadTooLarge, size, bound)
	}
	return nil
}

func (p UploadPolicy) Inspect(blob Blob) (Inspection, error) {
	size := int64(len(blob.Data))
	if err := p.Validate(blob.ContentType, size); err != nil {
		return Inspection{}, err
	}
	return Inspection{
		MimeType: NormalizeMimeType(blob.ContentType),
		Size:     size,
		Hash:     ContentHash(blob.Data),
	}, nil
}

// Ceiling is the largest blob any accepted type may have.
func (p UploadPolicy) Ceiling() int64 {
	var ceiling int64
	for _, limit := range p.Limits {
		if limit > ceiling {
			ceiling = limit
		}
	}
	if p.MaxBytes > 0 && p.MaxBytes < ceiling {
		return p.MaxBytes
	}
	return ceiling
}
