package repository

import (
	"context"

	"market_files/server/fileman/domain"
)

// FileRegistry persists FileRecords. Implementations must reject a second
// active record for the same (ContentHash, ParentID) pair with
// domain.ErrConflict, atomically with the insert.
type FileRegistry interface {
	// FindActiveByHashAndParent returns nil, nil when no active record exists.
	FindActiveByHashAndParent(ctx context.Context, hash, parentID string) (*domain.FileRecord, error)
	Create(ctx context.Context, item *domain.FileRecord) error
	Get(ctx context.Context, id string) (domain.FileRecord, error)
	// SoftDelete is idempotent: deleting a deleted record returns it unchanged
	// with changed false. Only the call that flips the status sees true.
	SoftDelete(ctx context.Context, id, requesterID string) (rec domain.FileRecord, changed bool, err error)
	// UpdateMetadata checks ownership before status, so a stranger gets
	// domain.ErrForbidden even for a deleted record.
	UpdateMetadata(ctx context.Context, id, requesterID string, metadata map[string]string) (domain.FileRecord, error)
	// ListActiveByParent returns active records, newest first.
	ListActiveByParent(ctx context.Context, parentID string) ([]domain.FileRecord, error)
	Ping(ctx context.Context) error
}

type ServiceDirectory interface {
	Create(ctx context.Context, item *domain.Service) error
	Get(ctx context.Context, id string) (domain.Service, error)
}

type UserStore interface {
	Create(ctx context.Context, user *domain.User) error
	Get(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
}
