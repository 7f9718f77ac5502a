package filestore

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
)

type memoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func init() {
	Register("memory", func(args interface{}) (IFileStore, error) {
		return NewMemory(), nil
	})
}

// NewMemory returns an in-process store, used in tests.
func NewMemory() IFileStore {
	return &memoryStore{files: make(map[string][]byte)}
}

func (s *memoryStore) Name() string {
	return "memory"
}

func (s *memoryStore) Save(ctx context.Context, key string, body io.Reader) error {
	_ = ctx
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = data
	return nil
}

func (s *memoryStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryStore) Remove(ctx context.Context, key string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}
