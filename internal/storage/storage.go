package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage persists a finished artifact and returns its public URL.
//
// Implementations derive a collision-resistant key internally, so calling
// Store twice with the same inputs yields two distinct objects rather than a
// silent overwrite. The chunk receiver relies on that for safe retries.
type Storage interface {
	Store(ctx context.Context, data []byte, fileName, mimeType, ownerID string) (string, error)
}

// ErrStorageFailure wraps any backend upload failure.
var ErrStorageFailure = errors.New("storage upload failed")

// objectKey builds <ownerID>/<unixnano>-<uuid8>-<name>. The timestamp plus a
// uuid fragment keeps keys unique even for identical repeated inputs.
func objectKey(ownerID, fileName string) string {
	return fmt.Sprintf("%s/%d-%s-%s",
		sanitize(ownerID),
		time.Now().UnixNano(),
		uuid.NewString()[:8],
		sanitize(filepath.Base(fileName)),
	)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	s = replacer.Replace(s)
	if s == "" {
		return "unnamed"
	}
	return s
}
