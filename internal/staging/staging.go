package staging

import (
	"errors"
	"time"
)

// Store is the staging area for not-yet-assembled chunk uploads, keyed by
// upload id. Implementations must tolerate out-of-order chunk arrival and
// idempotent slot overwrites; completion is always decided by the caller
// comparing Count against the declared total.
type Store interface {
	// Declare records the expected chunk count for an upload. The first call
	// wins; a later call with a different total returns ErrTotalMismatch.
	Declare(uploadID string, totalChunks int) error
	// WriteChunk stages one chunk at the given index, replacing any previous
	// bytes for that index.
	WriteChunk(uploadID string, index int, data []byte) error
	// Count returns the number of distinct staged chunk slots.
	Count(uploadID string) (int, error)
	// Assemble concatenates all staged slots in ascending numeric index order.
	Assemble(uploadID string) ([]byte, error)
	// Remove deletes the staging area for an upload and all of its slots.
	Remove(uploadID string) error
	// Sweep discards staging areas that have not been touched within the
	// given age and reports how many were removed.
	Sweep(olderThan time.Duration) (int, error)
}

var (
	// ErrTotalMismatch means a chunk request declared a different total chunk
	// count than an earlier request for the same upload.
	ErrTotalMismatch = errors.New("declared total chunk count mismatch")

	// ErrUploadNotFound means no staging area exists for the upload id.
	ErrUploadNotFound = errors.New("upload not found in staging")

	// ErrBadUploadID means the upload id cannot be used as a staging key.
	ErrBadUploadID = errors.New("invalid upload id")
)
