package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	commonlog "market_files/server/common/log"
	"market_files/server/fileman/domain"
	"market_files/server/fileman/repository"
)

const (
	DefaultSignedURLTTL = 7 * 24 * time.Hour
	DefaultStoreTimeout = 30 * time.Second

	maxMetadataEntries  = 50
	maxMetadataKeyLen   = 64
	maxMetadataValueLen = 1024
	maxDisplayNameLen   = 255
)

type FileServiceConfig struct {
	Policy       UploadPolicy
	SignedURLTTL time.Duration
	StoreTimeout time.Duration
	Thumbnails   bool
}

type IngestRequest struct {
	Blob     Blob
	OwnerID  string
	ParentID string
}

// SignedFile is a registry record plus time-limited download links.
type SignedFile struct {
	domain.FileRecord
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// FileService owns the file lifecycle on top of the registry and the
// object store.
type FileService struct {
	registry  repository.FileRegistry
	directory repository.ServiceDirectory
	store     ObjectStore
	events    EventPublisher
	urls      URLCache

	policy       UploadPolicy
	signedURLTTL time.Duration
	storeTimeout time.Duration
	thumbnails   bool
	now          func() time.Time
}

// NewFileService wires the flows. events and urls may be nil.
func NewFileService(
	registry repository.FileRegistry,
	directory repository.ServiceDirectory,
	store ObjectStore,
	events EventPublisher,
	urls URLCache,
	cfg FileServiceConfig,
) *FileService {
	if events == nil {
		events = NopPublisher{}
	}
	if cfg.Policy.Limits == nil {
		cfg.Policy = DefaultUploadPolicy()
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = DefaultSignedURLTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &FileService{
		registry:     registry,
		directory:    directory,
		store:        store,
		events:       events,
		urls:         urls,
		policy:       cfg.Policy,
		signedURLTTL: cfg.SignedURLTTL,
		storeTimeout: cfg.StoreTimeout,
		thumbnails:   cfg.Thumbnails,
		now:          time.Now,
	}
}

func (s *FileService) Policy() UploadPolicy {
	return s.policy
}

func (s *FileService) Ingest(ctx context.Context, req IngestRequest) (SignedFile, error) {
	file, err := s.ingest(ctx, req)
	ingestTotal.WithLabelValues(ingestResult(err)).Inc()
	return file, err
}

func (s *FileService) ingest(ctx context.Context, req IngestRequest) (SignedFile, error) {
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.ParentID) == "" {
		return SignedFile{}, fmt.Errorf("%w: owner and service are required", domain.ErrValidation)
	}
	parent, err := s.directory.Get(ctx, req.ParentID)
	if err != nil {
		return SignedFile{}, err
	}
	if parent.OwnerID != req.OwnerID {
		return SignedFile{}, fmt.Errorf("%w: service %s belongs to another user", domain.ErrForbidden, parent.ID)
	}

	inspection, err := s.policy.Inspect(req.Blob)
	if err != nil {
		return SignedFile{}, err
	}
	existing, err := s.registry.FindActiveByHashAndParent(ctx, inspection.Hash, parent.ID)
	if err != nil {
		return SignedFile{}, err
	}
	if existing != nil {
		return SignedFile{}, fmt.Errorf("%w: same content as file %s", domain.ErrDuplicateFile, existing.ID)
	}
	if err := ctx.Err(); err != nil {
		return SignedFile{}, err
	}

	now := s.now().UTC()
	rec := domain.FileRecord{
		ID:          uuid.NewString(),
		DisplayName: displayName(req.Blob.Name),
		StoragePath: NewStoragePath(req.OwnerID, parent.ID, req.Blob.Name, now),
		MimeType:    inspection.MimeType,
		SizeBytes:   inspection.Size,
		ContentHash: inspection.Hash,
		OwnerID:     req.OwnerID,
		ParentID:    parent.ID,
		Status:      domain.FileStatusActive,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.putBlob(ctx, rec.StoragePath, req.Blob.Data, rec.MimeType, blobMeta(rec)); err != nil {
		return SignedFile{}, err
	}
	if s.thumbnails && hasThumbnail(rec.MimeType) {
		if thumbPath, ok := s.storeThumbnail(ctx, rec.StoragePath, req.Blob.Data); ok {
			rec.Metadata[domain.MetaThumbnailPath] = thumbPath
		}
	}

	if err := s.registry.Create(ctx, &rec); err != nil {
		s.removeBlobs(ctx, rec)
		if errors.Is(err, domain.ErrConflict) {
			return SignedFile{}, fmt.Errorf("%w: same content already registered for service %s", domain.ErrDuplicateFile, parent.ID)
		}
		return SignedFile{}, err
	}

	s.publish(ctx, newFileEvent(EventFileIngested, rec, now))
	commonlog.Infof("ingested file %s (%s, %d bytes) into service %s", rec.ID, rec.MimeType, rec.SizeBytes, rec.ParentID)

	signed, err := s.sign(ctx, rec)
	if err != nil {
		commonlog.Warnf("sign ingested file %s: %v", rec.ID, err)
		return SignedFile{FileRecord: rec}, nil
	}
	return signed, nil
}

// Retract soft-deletes a file and then removes its blobs. Blob removal is
// never rolled back into the registry; failures leave orphans behind.
func (s *FileService) Retract(ctx context.Context, fileID, requesterID string) (domain.FileRecord, error) {
	rec, result, err := s.retract(ctx, fileID, requesterID)
	retractTotal.WithLabelValues(result).Inc()
	return rec, err
}

func (s *FileService) retract(ctx context.Context, fileID, requesterID string) (domain.FileRecord, string, error) {
	rec, changed, err := s.registry.SoftDelete(ctx, fileID, requesterID)
	if err != nil {
		return domain.FileRecord{}, failureResult(err), err
	}
	// only the caller that flipped the status owns blob cleanup
	if !changed {
		return rec, "noop", nil
	}

	s.removeBlobs(ctx, rec)
	s.publish(ctx, newFileEvent(EventFileRetracted, rec, s.now().UTC()))
	commonlog.Infof("retracted file %s from service %s", rec.ID, rec.ParentID)
	return rec, "deleted", nil
}

func (s *FileService) ListForParent(ctx context.Context, parentID, requesterID string) ([]SignedFile, error) {
	if _, err := s.directory.Get(ctx, parentID); err != nil {
		return nil, err
	}
	items, err := s.registry.ListActiveByParent(ctx, parentID)
	if err != nil {
		return nil, err
	}
	out := make([]SignedFile, 0, len(items))
	for _, rec := range items {
		signed, err := s.sign(ctx, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, signed)
	}
	commonlog.Debugf("listed %d files of service %s for user %s", len(out), parentID, requesterID)
	return out, nil
}

// UpdateMetadata replaces a file's user metadata. The thumbnail entry is
// owned by ingestion and survives every edit.
func (s *FileService) UpdateMetadata(ctx context.Context, fileID, requesterID string, metadata map[string]string) (SignedFile, error) {
	cleaned, err := normalizeMetadata(metadata)
	if err != nil {
		return SignedFile{}, err
	}
	current, err := s.registry.Get(ctx, fileID)
	if err != nil {
		return SignedFile{}, err
	}
	if current.Status == domain.FileStatusDeleted {
		return SignedFile{}, fmt.Errorf("%w: file %s", domain.ErrNotFound, fileID)
	}
	if thumb := current.ThumbnailPath(); thumb != "" {
		cleaned[domain.MetaThumbnailPath] = thumb
	}

	rec, err := s.registry.UpdateMetadata(ctx, fileID, requesterID, cleaned)
	if err != nil {
		return SignedFile{}, err
	}
	signed, err := s.sign(ctx, rec)
	if err != nil {
		commonlog.Warnf("sign file %s after metadata edit: %v", rec.ID, err)
		return SignedFile{FileRecord: rec}, nil
	}
	return signed, nil
}

func (s *FileService) putBlob(ctx context.Context, p string, data []byte, contentType string, meta map[string]string) error {
	putCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	err := s.store.Put(putCtx, p, data, contentType, meta)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: put %s: %v", domain.ErrStorageUnavailable, p, err)
}

func (s *FileService) storeThumbnail(ctx context.Context, storagePath string, data []byte) (string, bool) {
	thumb, err := renderThumbnail(data)
	if err != nil {
		commonlog.Warnf("thumbnail for %s: %v", storagePath, err)
		return "", false
	}
	thumbPath := ThumbnailPath(storagePath)
	if err := s.putBlob(ctx, thumbPath, thumb, "image/jpeg", nil); err != nil {
		commonlog.Warnf("upload thumbnail %s: %v", thumbPath, err)
		return "", false
	}
	return thumbPath, true
}

// removeBlobs deletes a record's blob and thumbnail even when the request
// context is already gone.
func (s *FileService) removeBlobs(ctx context.Context, rec domain.FileRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	paths := []string{rec.StoragePath}
	if thumb := rec.ThumbnailPath(); thumb != "" {
		paths = append(paths, thumb)
	}
	for _, p := range paths {
		if err := s.store.Delete(ctx, p); err != nil {
			orphanedBlobs.Inc()
			commonlog.Warnf("orphaned blob %s of file %s: %v", p, rec.ID, err)
			event := newFileEvent(EventBlobOrphaned, rec, s.now().UTC())
			event.Path = p
			s.publish(ctx, event)
		}
	}
	if s.urls != nil {
		s.urls.Invalidate(ctx, paths...)
	}
}

func (s *FileService) sign(ctx context.Context, rec domain.FileRecord) (SignedFile, error) {
	u, err := s.signedURL(ctx, rec.StoragePath)
	if err != nil {
		return SignedFile{}, fmt.Errorf("%w: sign file %s: %v", domain.ErrStorageUnavailable, rec.ID, err)
	}
	out := SignedFile{FileRecord: rec, URL: u}
	if thumb := rec.ThumbnailPath(); thumb != "" {
		if tu, err := s.signedURL(ctx, thumb); err != nil {
			commonlog.Warnf("sign thumbnail of file %s: %v", rec.ID, err)
		} else {
			out.ThumbnailURL = tu
		}
	}
	return out, nil
}

func (s *FileService) signedURL(ctx context.Context, p string) (string, error) {
	if s.urls != nil {
		if u, ok := s.urls.Get(ctx, p); ok {
			return u, nil
		}
	}
	signCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	u, err := s.store.SignedURL(signCtx, p, s.signedURLTTL)
	if err != nil {
		return "", err
	}
	if s.urls != nil {
		s.urls.Set(ctx, p, u)
	}
	return u, nil
}

func (s *FileService) publish(ctx context.Context, event FileEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, event); err != nil {
		commonlog.Warnf("publish %s for file %s: %v", event.Type, event.FileID, err)
	}
}

func blobMeta(rec domain.FileRecord) map[string]string {
	return map[string]string{
		"file-id":    rec.ID,
		"user-id":    rec.OwnerID,
		"service-id": rec.ParentID,
		"sha256":     rec.ContentHash,
	}
}

func displayName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	if r := []rune(name); len(r) > maxDisplayNameLen {
		name = string(r[:maxDisplayNameLen])
	}
	return name
}

func normalizeMetadata(in map[string]string) (map[string]string, error) {
	if len(in) > maxMetadataEntries {
		return nil, fmt.Errorf("%w: at most %d metadata entries", domain.ErrValidation, maxMetadataEntries)
	}
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		key := strings.TrimSpace(k)
		switch {
		case key == "":
			return nil, fmt.Errorf("%w: empty metadata key", domain.ErrValidation)
		case len(key) > maxMetadataKeyLen:
			return nil, fmt.Errorf("%w: metadata key %q too long", domain.ErrValidation, key)
		case len(v) > maxMetadataValueLen:
			return nil, fmt.Errorf("%w: metadata value for %q too long", domain.ErrValidation, key)
		case key == domain.MetaThumbnailPath:
			continue
		}
		out[key] = v
	}
	return out, nil
}

func ingestResult(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrDuplicateFile):
		return "duplicate"
	case errors.Is(err, domain.ErrUnsupportedMediaType), errors.Is(err, domain.ErrPayloadTooLarge), errors.Is(err, domain.ErrValidation):
		return "rejected"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "storage_error"
	}
	return failureResult(err)
}

func failureResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	}
	return "error"
}
