package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"market_files/server/fileman/domain"
)

type MemoryFileRegistry struct {
	mu     sync.RWMutex
	byID   map[string]domain.FileRecord
	byPath map[string]string
	active map[string]string // hash + "\x00" + parentID -> id
}

func NewMemoryFileRegistry() *MemoryFileRegistry {
	return &MemoryFileRegistry{
		byID:   map[string]domain.FileRecord{},
		byPath: map[string]string{},
		active: map[string]string{},
	}
}

func activeKey(hash, parentID string) string {
	return hash + "\x00" + parentID
}

func (r *MemoryFileRegistry) FindActiveByHashAndParent(_ context.Context, hash, parentID string) (*domain.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[activeKey(hash, parentID)]
	if !ok {
		return nil, nil
	}
	item := r.byID[id].Clone()
	return &item, nil
}

func (r *MemoryFileRegistry) Create(_ context.Context, item *domain.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[item.ID]; ok {
		return fmt.Errorf("%w: file id %s already exists", domain.ErrConflict, item.ID)
	}
	if _, ok := r.byPath[item.StoragePath]; ok {
		return fmt.Errorf("%w: storage path already exists", domain.ErrConflict)
	}
	if item.Status == "" {
		item.Status = domain.FileStatusActive
	}
	key := activeKey(item.ContentHash, item.ParentID)
	if item.Status == domain.FileStatusActive {
		if _, ok := r.active[key]; ok {
			return fmt.Errorf("%w: active file with the same hash exists for service", domain.ErrConflict)
		}
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if item.Metadata == nil {
		item.Metadata = map[string]string{}
	}

	r.byID[item.ID] = item.Clone()
	r.byPath[item.StoragePath] = item.ID
	if item.Status == domain.FileStatusActive {
		r.active[key] = item.ID
	}
	return nil
}

func (r *MemoryFileRegistry) Get(_ context.Context, id string) (domain.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.byID[id]
	if !ok {
		return domain.FileRecord{}, domain.ErrNotFound
	}
	return item.Clone(), nil
}

func (r *MemoryFileRegistry) SoftDelete(_ context.Context, id, requesterID string) (domain.FileRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.byID[id]
	if !ok {
		return domain.FileRecord{}, false, domain.ErrNotFound
	}
	if item.OwnerID != requesterID {
		return domain.FileRecord{}, false, domain.ErrForbidden
	}
	if item.Status == domain.FileStatusDeleted {
		return item.Clone(), false, nil
	}

	key := activeKey(item.ContentHash, item.ParentID)
	if r.active[key] == item.ID {
		delete(r.active, key)
	}
	item.Status = domain.FileStatusDeleted
	item.UpdatedAt = time.Now().UTC()
	r.byID[id] = item
	return item.Clone(), true, nil
}

func (r *MemoryFileRegistry) UpdateMetadata(_ context.Context, id, requesterID string, metadata map[string]string) (domain.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.byID[id]
	if !ok {
		return domain.FileRecord{}, domain.ErrNotFound
	}
	if item.OwnerID != requesterID {
		return domain.FileRecord{}, domain.ErrForbidden
	}
	if item.Status == domain.FileStatusDeleted {
		return domain.FileRecord{}, domain.ErrNotFound
	}
	item.Metadata = make(map[string]string, len(metadata))
	for k, v := range metadata {
		item.Metadata[k] = v
	}
	item.UpdatedAt = time.Now().UTC()
	r.byID[id] = item
	return item.Clone(), nil
}

func (r *MemoryFileRegistry) ListActiveByParent(_ context.Context, parentID string) ([]domain.FileRecord, error) {
	r.mu.RLock()
	items := make([]domain.FileRecord, 0)
	for _, item := range r.byID {
		if item.ParentID == parentID && item.Status == domain.FileStatusActive {
			items = append(items, item.Clone())
		}
	}
	r.mu.RUnlock()

	domain.SortNewestFirst(items)
	return items, nil
}

func (r *MemoryFileRegistry) Ping(context.Context) error {
	return nil
}

type MemoryServiceDirectory struct {
	mu    sync.RWMutex
	items map[string]domain.Service
}

func NewMemoryServiceDirectory() *MemoryServiceDirectory {
	return &MemoryServiceDirectory{items: map[string]domain.Service{}}
}

func (d *MemoryServiceDirectory) Create(_ context.Context, item *domain.Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[item.ID]; ok {
		return fmt.Errorf("%w: service id %s already exists", domain.ErrConflict, item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	d.items[item.ID] = *item
	return nil
}

func (d *MemoryServiceDirectory) Get(_ context.Context, id string) (domain.Service, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	item, ok := d.items[id]
	if !ok {
		return domain.Service{}, domain.ErrNotFound
	}
	return item, nil
}

// MemoryUserStore keys accounts by id with a lowercase email index.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]domain.User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byID: map[string]domain.User{}, byEmail: map[string]string{}}
}

func (s *MemoryUserStore) Create(_ context.Context, user *domain.User) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("%w: email already registered", domain.ErrConflict)
	}
	if _, ok := s.byID[user.ID]; ok {
		return fmt.Errorf("%w: user id %s already exists", domain.ErrConflict, user.ID)
	}
	user.Email = email
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	s.byID[user.ID] = *user
	s.byEmail[email] = user.ID
	return nil
}

func (s *MemoryUserStore) Get(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}
