package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"marketdash/internal/apperr"
)

// MemoryStore keeps objects in a map. It backs tests and single-node deploys
// that skip the presigned-upload flow.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	// No real signing; the returned URL is a marker tests can assert on.
	return "memory://" + key, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "read body", err)
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.NotFound, "object not found: "+key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return ObjectInfo{}, apperr.New(apperr.NotFound, "object not found: "+key)
	}
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	s.mu.Unlock()
	return nil
}

// PutString is a test convenience.
func (s *MemoryStore) PutString(key, body string) {
	s.mu.Lock()
	s.objects[key] = []byte(body)
	s.mu.Unlock()
}

// Len reports how many objects are held, for cleanup assertions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
