package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"market_files/server/fileman/domain"
)

// registrySuite exercises the FileRegistry contract; concrete suites supply
// the stores.
type registrySuite struct {
	suite.Suite
	ctx       context.Context
	registry  FileRegistry
	directory ServiceDirectory
	users     UserStore
}

func (s *registrySuite) newService(ownerID string) domain.Service {
	item := domain.Service{ID: uuid.NewString(), OwnerID: ownerID, Title: "Sea view flat", Category: domain.CategoryAccommodation}
	s.Require().NoError(s.directory.Create(s.ctx, &item))
	return item
}

func (s *registrySuite) newRecord(ownerID, parentID, hash string) domain.FileRecord {
	id := uuid.NewString()
	return domain.FileRecord{
		ID:          id,
		DisplayName: "photo.png",
		StoragePath: ownerID + "/" + parentID + "/" + id + ".png",
		MimeType:    "image/png",
		SizeBytes:   42,
		ContentHash: hash,
		OwnerID:     ownerID,
		ParentID:    parentID,
		Status:      domain.FileStatusActive,
		Metadata:    map[string]string{"alt": "front"},
	}
}

func (s *registrySuite) TestCreateAndFind() {
	svc := s.newService("u1")
	rec := s.newRecord("u1", svc.ID, "hash-a")

	s.Require().NoError(s.registry.Create(s.ctx, &rec))
	s.Require().False(rec.CreatedAt.IsZero())

	found, err := s.registry.FindActiveByHashAndParent(s.ctx, "hash-a", svc.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Require().Equal(rec.ID, found.ID)
	s.Require().Equal("front", found.Metadata["alt"])

	missing, err := s.registry.FindActiveByHashAndParent(s.ctx, "hash-a", uuid.NewString())
	s.Require().NoError(err)
	s.Require().Nil(missing)
}

func (s *registrySuite) TestCreateRejectsSecondActiveDuplicate() {
	svc := s.newService("u1")
	first := s.newRecord("u1", svc.ID, "hash-dup")
	s.Require().NoError(s.registry.Create(s.ctx, &first))

	second := s.newRecord("u1", svc.ID, "hash-dup")
	s.Require().ErrorIs(s.registry.Create(s.ctx, &second), domain.ErrConflict)

	other := s.newService("u1")
	third := s.newRecord("u1", other.ID, "hash-dup")
	s.Require().NoError(s.registry.Create(s.ctx, &third))
}

func (s *registrySuite) TestCreateRejectsStoragePathReuse() {
	svc := s.newService("u1")
	first := s.newRecord("u1", svc.ID, "hash-1")
	s.Require().NoError(s.registry.Create(s.ctx, &first))

	second := s.newRecord("u1", svc.ID, "hash-2")
	second.StoragePath = first.StoragePath
	s.Require().ErrorIs(s.registry.Create(s.ctx, &second), domain.ErrConflict)
}

func (s *registrySuite) TestSoftDelete() {
	svc := s.newService("u1")
	rec := s.newRecord("u1", svc.ID, "hash-del")
	s.Require().NoError(s.registry.Create(s.ctx, &rec))

	_, _, err := s.registry.SoftDelete(s.ctx, rec.ID, "u2")
	s.Require().ErrorIs(err, domain.ErrForbidden)

	_, _, err = s.registry.SoftDelete(s.ctx, uuid.NewString(), "u1")
	s.Require().ErrorIs(err, domain.ErrNotFound)

	deleted, changed, err := s.registry.SoftDelete(s.ctx, rec.ID, "u1")
	s.Require().NoError(err)
	s.Require().True(changed)
	s.Require().Equal(domain.FileStatusDeleted, deleted.Status)

	again, changed, err := s.registry.SoftDelete(s.ctx, rec.ID, "u1")
	s.Require().NoError(err)
	s.Require().False(changed)
	s.Require().Equal(domain.FileStatusDeleted, again.Status)

	found, err := s.registry.FindActiveByHashAndParent(s.ctx, "hash-del", svc.ID)
	s.Require().NoError(err)
	s.Require().Nil(found)

	tombstone, err := s.registry.Get(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Require().Equal(domain.FileStatusDeleted, tombstone.Status)

	// the same content may be attached again once the old record is gone
	fresh := s.newRecord("u1", svc.ID, "hash-del")
	s.Require().NoError(s.registry.Create(s.ctx, &fresh))
}

func (s *registrySuite) TestUpdateMetadata() {
	svc := s.newService("u1")
	rec := s.newRecord("u1", svc.ID, "hash-meta")
	s.Require().NoError(s.registry.Create(s.ctx, &rec))

	_, err := s.registry.UpdateMetadata(s.ctx, rec.ID, "u2", map[string]string{"alt": "x"})
	s.Require().ErrorIs(err, domain.ErrForbidden)

	updated, err := s.registry.UpdateMetadata(s.ctx, rec.ID, "u1", map[string]string{"alt": "back", "room": "2"})
	s.Require().NoError(err)
	s.Require().Equal(map[string]string{"alt": "back", "room": "2"}, updated.Metadata)

	_, _, err = s.registry.SoftDelete(s.ctx, rec.ID, "u1")
	s.Require().NoError(err)
	_, err = s.registry.UpdateMetadata(s.ctx, rec.ID, "u1", map[string]string{})
	s.Require().ErrorIs(err, domain.ErrNotFound)

	// ownership is checked before status
	_, err = s.registry.UpdateMetadata(s.ctx, rec.ID, "u2", map[string]string{})
	s.Require().ErrorIs(err, domain.ErrForbidden)
}

func (s *registrySuite) TestConcurrentSoftDeleteChangesOnce() {
	svc := s.newService("u1")
	rec := s.newRecord("u1", svc.ID, "hash-race")
	s.Require().NoError(s.registry.Create(s.ctx, &rec))

	const callers = 8
	var (
		wg      sync.WaitGroup
		flipped atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.registry.SoftDelete(s.ctx, rec.ID, "u1")
			if err == nil && changed {
				flipped.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Require().EqualValues(1, flipped.Load())
}

func (s *registrySuite) TestListActiveByParentNewestFirst() {
	svc := s.newService("u1")
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		rec := s.newRecord("u1", svc.ID, uuid.NewString())
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		s.Require().NoError(s.registry.Create(s.ctx, &rec))
		ids = append(ids, rec.ID)
	}
	_, _, err := s.registry.SoftDelete(s.ctx, ids[1], "u1")
	s.Require().NoError(err)

	items, err := s.registry.ListActiveByParent(s.ctx, svc.ID)
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Require().Equal(ids[2], items[0].ID)
	s.Require().Equal(ids[0], items[1].ID)

	empty, err := s.registry.ListActiveByParent(s.ctx, uuid.NewString())
	s.Require().NoError(err)
	s.Require().Empty(empty)
}

func (s *registrySuite) TestConcurrentCreateKeepsOneActive() {
	svc := s.newService("u1")
	const writers = 8

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := s.newRecord("u1", svc.ID, "hash-race")
			errs <- s.registry.Create(s.ctx, &rec)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			s.Require().NoError(err)
		}
	}
	s.Require().Equal(1, ok)
	s.Require().Equal(writers-1, conflicts)
}

func (s *registrySuite) TestUsers() {
	user := domain.User{ID: uuid.NewString(), Name: "Fati", Email: " Fati@Example.com ", Role: domain.UserRoleProvider, PasswordHash: "hash"}
	s.Require().NoError(s.users.Create(s.ctx, &user))
	s.Require().Equal("fati@example.com", user.Email)

	dup := domain.User{ID: uuid.NewString(), Name: "Other", Email: "FATI@example.com", Role: domain.UserRoleUser, PasswordHash: "hash"}
	s.Require().ErrorIs(s.users.Create(s.ctx, &dup), domain.ErrConflict)

	found, err := s.users.GetByEmail(s.ctx, "fati@EXAMPLE.com")
	s.Require().NoError(err)
	s.Require().Equal(user.ID, found.ID)

	_, err = s.users.Get(s.ctx, uuid.NewString())
	s.Require().ErrorIs(err, domain.ErrNotFound)
}

func (s *registrySuite) TestServiceDirectoryNotFound() {
	_, err := s.directory.Get(s.ctx, uuid.NewString())
	s.Require().ErrorIs(err, domain.ErrNotFound)
}
