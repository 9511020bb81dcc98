package object

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type memoryObject struct {
	data        []byte
	contentType string
	meta        map[string]string
}

// MemoryStore is a process-local blob store for tests and offline mode.
// Failures can be injected per operation.
type MemoryStore struct {
	bucket string

	mu         sync.RWMutex
	objects    map[string]memoryObject
	putErr     error
	deleteErr  error
	signErr    error
	putCalls   int
	signCalls  int
	deleteLogs []string
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: map[string]memoryObject{}}
}

func (s *MemoryStore) Put(ctx context.Context, path string, data []byte, contentType string, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.putErr != nil {
		return s.putErr
	}
	copied := make(map[string]string, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	s.objects[path] = memoryObject{data: append([]byte(nil), data...), contentType: contentType, meta: copied}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, path)
	s.deleteLogs = append(s.deleteLogs, path)
	return nil
}

func (s *MemoryStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signCalls++
	if s.signErr != nil {
		return "", s.signErr
	}
	if _, ok := s.objects[path]; !ok {
		return "", fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}
	u := url.URL{Scheme: "memory", Host: s.bucket, Path: "/" + path}
	q := u.Query()
	q.Set("expires", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
	q.Set("n", fmt.Sprintf("%d", s.signCalls))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Get returns a copy of the stored blob.
func (s *MemoryStore) Get(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

func (s *MemoryStore) Has(path string) bool {
	_, _, ok := s.Get(path)
	return ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) PutCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.putCalls
}

func (s *MemoryStore) Deleted() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.deleteLogs...)
}

func (s *MemoryStore) FailPut(err error) {
	s.mu.Lock()
	s.putErr = err
	s.mu.Unlock()
}

func (s *MemoryStore) FailDelete(err error) {
	s.mu.Lock()
	s.deleteErr = err
	s.mu.Unlock()
}

func (s *MemoryStore) FailSign(err error) {
	s.mu.Lock()
	s.signErr = err
	s.mu.Unlock()
}
