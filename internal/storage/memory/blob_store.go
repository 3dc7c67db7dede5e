package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// BlobStore keeps export files in memory; used by tests and the dev profile.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string]blob
}

type blob struct {
	contentType string
	body        []byte
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string]blob)}
}

// PutObject stores a copy of r under name and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, name string, contentType string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = blob{contentType: contentType, body: body}
	return "memory://" + name, nil
}

// Object returns the stored bytes and content type for name.
func (s *BlobStore) Object(name string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[name]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), b.body...), b.contentType, true
}
