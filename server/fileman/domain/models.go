package domain

import (
	"slices"
	"time"
)

type FileStatus string

const (
	FileStatusActive  FileStatus = "active"
	FileStatusDeleted FileStatus = "deleted"
	// FileStatusProcessing is part of the stored enum but nothing sets it.
	FileStatusProcessing FileStatus = "processing"
)

func (s FileStatus) Valid() bool {
	switch s {
	case FileStatusActive, FileStatusDeleted, FileStatusProcessing:
		return true
	}
	return false
}

// MetaThumbnailPath is the metadata key holding the thumbnail's storage path.
const MetaThumbnailPath = "thumbnailPath"

// FileRecord is the registry entry for one ingested blob. Everything except
// Status, Metadata and UpdatedAt is immutable after creation.
type FileRecord struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"name"`
	StoragePath string            `json:"path"`
	MimeType    string            `json:"type"`
	SizeBytes   int64             `json:"size"`
	ContentHash string            `json:"hash"`
	OwnerID     string            `json:"userId"`
	ParentID    string            `json:"serviceId"`
	Status      FileStatus        `json:"status"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func (f FileRecord) ThumbnailPath() string {
	return f.Metadata[MetaThumbnailPath]
}

// Clone returns a copy that does not share the metadata map.
func (f FileRecord) Clone() FileRecord {
	out := f
	if f.Metadata != nil {
		out.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// SortNewestFirst orders by CreatedAt descending, then ID descending.
func SortNewestFirst(items []FileRecord) {
	slices.SortFunc(items, func(a, b FileRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}

type ServiceCategory string

const (
	CategoryAccommodation ServiceCategory = "accommodation"
	CategoryStore         ServiceCategory = "store"
	CategoryMaintenance   ServiceCategory = "maintenance"
	CategoryTransport     ServiceCategory = "transport"
)

func (c ServiceCategory) Valid() bool {
	switch c {
	case CategoryAccommodation, CategoryStore, CategoryMaintenance, CategoryTransport:
		return true
	}
	return false
}

// Service is a marketplace listing; files attach to it as their parent entity.
type Service struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"userId"`
	Title     string          `json:"title"`
	Category  ServiceCategory `json:"category"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type UserRole string

const (
	UserRoleUser     UserRole = "user"
	UserRoleProvider UserRole = "provider"
	UserRoleAdmin    UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         UserRole  `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
