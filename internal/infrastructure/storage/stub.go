package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// StubObjectStorage keeps objects in memory. Used when object storage is
// disabled and in tests.
type StubObjectStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
	bucket  string
}

// NewStubObjectStorage creates a new StubObjectStorage
func NewStubObjectStorage() *StubObjectStorage {
	return &StubObjectStorage{
		objects: make(map[string][]byte),
		bucket:  "images",
	}
}

// Upload stores a copy of data
func (s *StubObjectStorage) Upload(_ context.Context, key string, data []byte, _ string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Download returns a copy of the stored object
func (s *StubObjectStorage) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// DeleteObject removes key; missing keys are ignored
func (s *StubObjectStorage) DeleteObject(_ context.Context, key string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// DeleteByURL removes the object the URL points at
func (s *StubObjectStorage) DeleteByURL(ctx context.Context, imageURL string) error {
	key, err := KeyFromURL(imageURL, s.bucket)
	if err != nil {
		return err
	}
	return s.DeleteObject(ctx, key)
}

// Keys returns the stored keys
func (s *StubObjectStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
