package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"market_files/server/common/infra/object"
	"market_files/server/fileman/domain"
	"market_files/server/fileman/repository"
)

const (
	ownerID    = "owner-1"
	strangerID = "stranger-1"
	serviceID  = "svc-1"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []FileEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event FileEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fileServiceSuite struct {
	suite.Suite

	ctx       context.Context
	registry  *repository.MemoryFileRegistry
	directory *repository.MemoryServiceDirectory
	store     *object.MemoryStore
	events    *recordingPublisher
	svc       *FileService
}

func (s *fileServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.registry = repository.NewMemoryFileRegistry()
	s.directory = repository.NewMemoryServiceDirectory()
	s.store = object.NewMemoryStore("files")
	s.events = &recordingPublisher{}
	s.Require().NoError(s.directory.Create(s.ctx, &domain.Service{
		ID: serviceID, OwnerID: ownerID, Title: "Sea view flat", Category: domain.CategoryAccommodation,
	}))
	s.svc = s.newService(nil, false)
}

func (s *fileServiceSuite) newService(urls URLCache, thumbnails bool) *FileService {
	return NewFileService(s.registry, s.directory, s.store, s.events, urls, FileServiceConfig{
		Policy:       DefaultUploadPolicy(),
		SignedURLTTL: time.Hour,
		StoreTimeout: time.Second,
		Thumbnails:   thumbnails,
	})
}

func (s *fileServiceSuite) ingest(data []byte, mime string) (SignedFile, error) {
	return s.svc.Ingest(s.ctx, IngestRequest{
		Blob:     Blob{Name: "photo.png", ContentType: mime, Data: data},
		OwnerID:  ownerID,
		ParentID: serviceID,
	})
}

func (s *fileServiceSuite) mustIngest(content string) SignedFile {
	file, err := s.ingest([]byte(content), "image/png")
	s.Require().NoError(err)
	return file
}

func (s *fileServiceSuite) TestIngestStoresBlobAndRecord() {
	data := bytes.Repeat([]byte{1}, 4*MiB)

	file, err := s.ingest(data, "image/png")

	s.Require().NoError(err)
	s.Equal(domain.FileStatusActive, file.Status)
	s.Equal(ContentHash(data), file.ContentHash)
	s.Equal(int64(4*MiB), file.SizeBytes)
	s.Equal("photo.png", file.DisplayName)
	s.Equal(ownerID, file.OwnerID)
	s.Equal(serviceID, file.ParentID)
	s.Contains(file.URL, "memory://files/"+file.StoragePath)

	stored, contentType, ok := s.store.Get(file.StoragePath)
	s.Require().True(ok)
	s.Equal(data, stored)
	s.Equal("image/png", contentType)

	got, err := s.registry.Get(s.ctx, file.ID)
	s.Require().NoError(err)
	s.Equal(file.StoragePath, got.StoragePath)
	s.Equal([]string{EventFileIngested}, s.events.types())
}

func (s *fileServiceSuite) TestIngestRejectsOversizedPNG() {
	_, err := s.ingest(bytes.Repeat([]byte{1}, 6*MiB), "image/png")

	s.ErrorIs(err, domain.ErrPayloadTooLarge)
	s.Zero(s.store.PutCalls())
	s.Empty(s.events.types())
}

func (s *fileServiceSuite) TestIngestRejectsUnsupportedType() {
	_, err := s.ingest([]byte("PK\x03\x04"), "application/zip")

	s.ErrorIs(err, domain.ErrUnsupportedMediaType)
	s.Zero(s.store.PutCalls())
}

func (s *fileServiceSuite) TestIngestRejectsDuplicateInSameService() {
	first := s.mustIngest("same bytes")

	_, err := s.ingest([]byte("same bytes"), "image/png")

	s.ErrorIs(err, domain.ErrDuplicateFile)
	s.Equal(1, s.store.PutCalls())
	items, err := s.registry.ListActiveByParent(s.ctx, serviceID)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(first.ID, items[0].ID)
}

func (s *fileServiceSuite) TestIngestSameContentInOtherService() {
	s.Require().NoError(s.directory.Create(s.ctx, &domain.Service{
		ID: "svc-2", OwnerID: ownerID, Title: "Bike rental", Category: domain.CategoryTransport,
	}))
	first := s.mustIngest("shared bytes")

	second, err := s.svc.Ingest(s.ctx, IngestRequest{
		Blob:     Blob{Name: "photo.png", ContentType: "image/png", Data: []byte("shared bytes")},
		OwnerID:  ownerID,
		ParentID: "svc-2",
	})

	s.Require().NoError(err)
	s.Equal(first.ContentHash, second.ContentHash)
	s.NotEqual(first.StoragePath, second.StoragePath)
}

func (s *fileServiceSuite) TestIngestAgainAfterRetract() {
	first := s.mustIngest("comeback")
	_, err := s.svc.Retract(s.ctx, first.ID, ownerID)
	s.Require().NoError(err)

	second, err := s.ingest([]byte("comeback"), "image/png")

	s.Require().NoError(err)
	s.NotEqual(first.ID, second.ID)
}

func (s *fileServiceSuite) TestIngestUnknownService() {
	_, err := s.svc.Ingest(s.ctx, IngestRequest{
		Blob:     Blob{Name: "a.png", ContentType: "image/png", Data: []byte("x")},
		OwnerID:  ownerID,
		ParentID: "missing",
	})

	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *fileServiceSuite) TestIngestIntoForeignService() {
	_, err := s.svc.Ingest(s.ctx, IngestRequest{
		Blob:     Blob{Name: "a.png", ContentType: "image/png", Data: []byte("x")},
		OwnerID:  strangerID,
		ParentID: serviceID,
	})

	s.ErrorIs(err, domain.ErrForbidden)
	s.Zero(s.store.PutCalls())
}

func (s *fileServiceSuite) TestIngestStorageFailureWritesNothing() {
	s.store.FailPut(errors.New("connection refused"))

	_, err := s.ingest([]byte("unlucky"), "image/png")

	s.ErrorIs(err, domain.ErrStorageUnavailable)
	existing, err := s.registry.FindActiveByHashAndParent(s.ctx, ContentHash([]byte("unlucky")), serviceID)
	s.Require().NoError(err)
	s.Nil(existing)
	s.Empty(s.events.types())
}

func (s *fileServiceSuite) TestIngestCancelledBeforeUpload() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.svc.Ingest(ctx, IngestRequest{
		Blob:     Blob{Name: "a.png", ContentType: "image/png", Data: []byte("x")},
		OwnerID:  ownerID,
		ParentID: serviceID,
	})

	s.ErrorIs(err, context.Canceled)
	s.Zero(s.store.PutCalls())
	s.Zero(s.store.Len())
}

func (s *fileServiceSuite) TestIngestSucceedsWhenSigningFails() {
	s.store.FailSign(errors.New("signer down"))

	file, err := s.ingest([]byte("unsigned"), "image/png")

	s.Require().NoError(err)
	s.Empty(file.URL)
	s.True(s.store.Has(file.StoragePath))
}

func (s *fileServiceSuite) TestConcurrentIngestKeepsOneActiveRecord() {
	const workers = 16
	data := []byte("everyone uploads the same photo")

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ingest(data, "image/png")
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		s.ErrorIs(err, domain.ErrDuplicateFile)
	}
	s.Equal(1, created)
	s.Equal(1, s.store.Len())
	items, err := s.registry.ListActiveByParent(s.ctx, serviceID)
	s.Require().NoError(err)
	s.Len(items, 1)
}

func (s *fileServiceSuite) TestRetract() {
	file := s.mustIngest("to be removed")

	rec, err := s.svc.Retract(s.ctx, file.ID, ownerID)

	s.Require().NoError(err)
	s.Equal(domain.FileStatusDeleted, rec.Status)
	s.False(s.store.Has(file.StoragePath))
	s.Equal([]string{EventFileIngested, EventFileRetracted}, s.events.types())

	again, err := s.svc.Retract(s.ctx, file.ID, ownerID)
	s.Require().NoError(err)
	s.Equal(domain.FileStatusDeleted, again.Status)
	s.Len(s.store.Deleted(), 1)
	s.Len(s.events.types(), 2)
}

func (s *fileServiceSuite) TestConcurrentRetractCleansUpOnce() {
	file := s.mustIngest("raced")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.Retract(s.ctx, file.ID, ownerID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	s.Len(s.store.Deleted(), 1)
	s.Equal([]string{EventFileIngested, EventFileRetracted}, s.events.types())
}

func (s *fileServiceSuite) TestRetractByStranger() {
	file := s.mustIngest("mine")

	_, err := s.svc.Retract(s.ctx, file.ID, strangerID)

	s.ErrorIs(err, domain.ErrForbidden)
	s.True(s.store.Has(file.StoragePath))
}

func (s *fileServiceSuite) TestRetractUnknownFile() {
	_, err := s.svc.Retract(s.ctx, "missing", ownerID)

	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *fileServiceSuite) TestRetractLeavesOrphanWhenDeleteFails() {
	file := s.mustIngest("sticky")
	s.store.FailDelete(errors.New("bucket locked"))

	rec, err := s.svc.Retract(s.ctx, file.ID, ownerID)

	s.Require().NoError(err)
	s.Equal(domain.FileStatusDeleted, rec.Status)
	s.True(s.store.Has(file.StoragePath))
	s.Equal([]string{EventFileIngested, EventBlobOrphaned, EventFileRetracted}, s.events.types())
}

func (s *fileServiceSuite) TestListForParentNewestFirst() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	s.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	oldest := s.mustIngest("one")
	middle := s.mustIngest("two")
	newest := s.mustIngest("three")
	_, err := s.svc.Retract(s.ctx, middle.ID, ownerID)
	s.Require().NoError(err)

	items, err := s.svc.ListForParent(s.ctx, serviceID, strangerID)

	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal(newest.ID, items[0].ID)
	s.Equal(oldest.ID, items[1].ID)
	for _, item := range items {
		s.NotEmpty(item.URL)
	}
}

func (s *fileServiceSuite) TestListForUnknownParent() {
	_, err := s.svc.ListForParent(s.ctx, "missing", ownerID)

	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *fileServiceSuite) TestListFailsWhenSigningFails() {
	s.mustIngest("listed")
	s.store.FailSign(errors.New("signer down"))

	_, err := s.svc.ListForParent(s.ctx, serviceID, ownerID)

	s.ErrorIs(err, domain.ErrStorageUnavailable)
}

func (s *fileServiceSuite) TestListRegeneratesURLsWithoutCache() {
	s.mustIngest("fresh")

	first, err := s.svc.ListForParent(s.ctx, serviceID, ownerID)
	s.Require().NoError(err)
	second, err := s.svc.ListForParent(s.ctx, serviceID, ownerID)
	s.Require().NoError(err)

	s.NotEqual(first[0].URL, second[0].URL)
}

func (s *fileServiceSuite) TestListReusesCachedURLs() {
	s.svc = s.newService(NewLRUURLCache(16, time.Minute), false)
	file := s.mustIngest("cached")

	first, err := s.svc.ListForParent(s.ctx, serviceID, ownerID)
	s.Require().NoError(err)
	second, err := s.svc.ListForParent(s.ctx, serviceID, ownerID)
	s.Require().NoError(err)

	s.Equal(file.URL, first[0].URL)
	s.Equal(first[0].URL, second[0].URL)
}

func (s *fileServiceSuite) TestUpdateMetadata() {
	file := s.mustIngest("described")

	updated, err := s.svc.UpdateMetadata(s.ctx, file.ID, ownerID, map[string]string{" caption ": "Balcony", "thumbnailPath": "evil"})

	s.Require().NoError(err)
	s.Equal(map[string]string{"caption": "Balcony"}, updated.Metadata)
	s.NotEmpty(updated.URL)
}

func (s *fileServiceSuite) TestUpdateMetadataValidation() {
	file := s.mustIngest("strict")

	_, err := s.svc.UpdateMetadata(s.ctx, file.ID, ownerID, map[string]string{"  ": "x"})
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.svc.UpdateMetadata(s.ctx, file.ID, strangerID, map[string]string{"caption": "x"})
	s.ErrorIs(err, domain.ErrForbidden)

	_, err = s.svc.Retract(s.ctx, file.ID, ownerID)
	s.Require().NoError(err)
	_, err = s.svc.UpdateMetadata(s.ctx, file.ID, ownerID, map[string]string{"caption": "x"})
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *fileServiceSuite) TestThumbnailLifecycle() {
	s.svc = s.newService(nil, true)
	data := encodePNG(s.T(), 640, 480)

	file, err := s.ingest(data, "image/png")

	s.Require().NoError(err)
	thumbPath := file.ThumbnailPath()
	s.Equal(ThumbnailPath(file.StoragePath), thumbPath)
	s.NotEmpty(file.ThumbnailURL)
	thumb, contentType, ok := s.store.Get(thumbPath)
	s.Require().True(ok)
	s.Equal("image/jpeg", contentType)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb))
	s.Require().NoError(err)
	s.Equal("jpeg", format)
	s.Equal(thumbnailSize, cfg.Width)
	s.Equal(thumbnailSize, cfg.Height)

	updated, err := s.svc.UpdateMetadata(s.ctx, file.ID, ownerID, map[string]string{})
	s.Require().NoError(err)
	s.Equal(thumbPath, updated.ThumbnailPath())

	_, err = s.svc.Retract(s.ctx, file.ID, ownerID)
	s.Require().NoError(err)
	s.False(s.store.Has(file.StoragePath))
	s.False(s.store.Has(thumbPath))
}

func (s *fileServiceSuite) TestUndecodableImageSkipsThumbnail() {
	s.svc = s.newService(nil, true)

	file, err := s.ingest([]byte("not really a png"), "image/png")

	s.Require().NoError(err)
	s.Empty(file.ThumbnailPath())
	s.Equal(1, s.store.Len())
}

func (s *fileServiceSuite) TestHugeImageSkipsThumbnail() {
	s.svc = s.newService(nil, true)

	file, err := s.ingest(pngHeader(12000, 12000), "image/png")

	s.Require().NoError(err)
	s.Empty(file.ThumbnailPath())
	s.Equal(1, s.store.Len())
}

func TestFileService(t *testing.T) {
	suite.Run(t, new(fileServiceSuite))
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatal(fmt.Errorf("encode png: %w", err))
	}
	return buf.Bytes()
}
