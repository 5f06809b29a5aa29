package staging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
)

const (
	partSuffix = ".part"
	totalFile  = "total"
)

// FSStore stages chunks on the local filesystem under
// <root>/<uploadID>/<index>.part with a "total" marker file per upload.
// Suitable for single-instance deployments.
type FSStore struct {
	root     string
	compress bool
}

// NewFSStore creates the staging root if absent. When compress is set, slot
// bytes are lz4-framed at rest.
func NewFSStore(root string, compress bool) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging root: %w", err)
	}
	return &FSStore{root: root, compress: compress}, nil
}

func (s *FSStore) uploadDir(uploadID string) (string, error) {
	if uploadID == "" || uploadID == "." || uploadID == ".." ||
		strings.ContainsAny(uploadID, `/\`) {
		return "", ErrBadUploadID
	}
	return filepath.Join(s.root, uploadID), nil
}

func (s *FSStore) Declare(uploadID string, totalChunks int) error {
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create staging area: %w", err)
	}

	marker := filepath.Join(dir, totalFile)
	if existing, err := os.ReadFile(marker); err == nil {
		declared, convErr := strconv.Atoi(strings.TrimSpace(string(existing)))
		if convErr != nil {
			return fmt.Errorf("corrupt total marker for %s: %w", uploadID, convErr)
		}
		if declared != totalChunks {
			return fmt.Errorf("%w: declared %d, got %d", ErrTotalMismatch, declared, totalChunks)
		}
		return nil
	}

	if err := os.WriteFile(marker, []byte(strconv.Itoa(totalChunks)), 0644); err != nil {
		return fmt.Errorf("failed to write total marker: %w", err)
	}
	return nil
}

func (s *FSStore) WriteChunk(uploadID string, index int, data []byte) error {
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create staging area: %w", err)
	}

	payload := data
	if s.compress {
		compressed, err := compressSlot(data)
		if err != nil {
			return err
		}
		payload = compressed
	}

	slot := filepath.Join(dir, strconv.Itoa(index)+partSuffix)
	if err := os.WriteFile(slot, payload, 0644); err != nil {
		return fmt.Errorf("failed to write chunk slot %d: %w", index, err)
	}
	return nil
}

func (s *FSStore) Count(uploadID string) (int, error) {
	indices, err := s.slotIndices(uploadID)
	if err != nil {
		return 0, err
	}
	return len(indices), nil
}

// Assemble reads every staged slot in ascending numeric index order. Sorting
// is done on parsed integers so "10" never lands before "2".
func (s *FSStore) Assemble(uploadID string) ([]byte, error) {
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return nil, err
	}
	indices, err := s.slotIndices(uploadID)
	if err != nil {
		return nil, err
	}
	sort.Ints(indices)

	var buf bytes.Buffer
	for _, idx := range indices {
		slot := filepath.Join(dir, strconv.Itoa(idx)+partSuffix)
		data, err := os.ReadFile(slot)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk slot %d: %w", idx, err)
		}
		if s.compress {
			data, err = decompressSlot(data)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress chunk slot %d: %w", idx, err)
			}
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (s *FSStore) Remove(uploadID string) error {
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove staging area: %w", err)
	}
	return nil
}

// Sweep removes upload directories whose last modification is older than the
// given age. Slot writes bump the directory mtime, so an active upload is
// never swept while chunks are still arriving.
func (s *FSStore) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("failed to list staging root: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
				return removed, fmt.Errorf("failed to sweep %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}

func (s *FSStore) slotIndices(uploadID string) ([]int, error) {
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUploadNotFound, uploadID)
		}
		return nil, fmt.Errorf("failed to list staging area: %w", err)
	}

	var indices []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, partSuffix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, partSuffix))
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

func compressSlot(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressSlot(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}
	return decompressed, nil
}
