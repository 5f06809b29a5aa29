package staging

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memUpload struct {
	total   int
	slots   map[int][]byte
	touched time.Time
}

// MemStore is a map-backed staging store guarded by a mutex. Used in tests
// and embeddable single-process runs.
type MemStore struct {
	mu      sync.Mutex
	uploads map[string]*memUpload
}

func NewMemStore() *MemStore {
	return &MemStore{uploads: make(map[string]*memUpload)}
}

func (s *MemStore) Declare(uploadID string, totalChunks int) error {
	if uploadID == "" {
		return ErrBadUploadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.uploads[uploadID]
	if !ok {
		s.uploads[uploadID] = &memUpload{
			total:   totalChunks,
			slots:   make(map[int][]byte),
			touched: time.Now(),
		}
		return nil
	}
	if up.total != totalChunks {
		return fmt.Errorf("%w: declared %d, got %d", ErrTotalMismatch, up.total, totalChunks)
	}
	up.touched = time.Now()
	return nil
}

func (s *MemStore) WriteChunk(uploadID string, index int, data []byte) error {
	if uploadID == "" {
		return ErrBadUploadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.uploads[uploadID]
	if !ok {
		up = &memUpload{slots: make(map[int][]byte)}
		s.uploads[uploadID] = up
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	up.slots[index] = buf
	up.touched = time.Now()
	return nil
}

func (s *MemStore) Count(uploadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.uploads[uploadID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUploadNotFound, uploadID)
	}
	return len(up.slots), nil
}

func (s *MemStore) Assemble(uploadID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	up, ok := s.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, uploadID)
	}

	indices := make([]int, 0, len(up.slots))
	for idx := range up.slots {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var buf bytes.Buffer
	for _, idx := range indices {
		buf.Write(up.slots[idx])
	}
	return buf.Bytes(), nil
}

func (s *MemStore) Remove(uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, uploadID)
	return nil
}

func (s *MemStore) Sweep(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, up := range s.uploads {
		if up.touched.Before(cutoff) {
			delete(s.uploads, id)
			removed++
		}
	}
	return removed, nil
}
