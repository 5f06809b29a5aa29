package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// UploadRecord represents a completed, normalized upload.
type UploadRecord struct {
	UploadID    string    `json:"upload_id"`
	OwnerID     string    `json:"owner_id"`
	FileName    string    `json:"file_name"`
	PublicURL   string    `json:"public_url"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CompletedAt time.Time `json:"completed_at"`
}

// ErrRecordNotFound means no completed upload exists under the given id.
var ErrRecordNotFound = errors.New("upload record not found")

// MetadataStore wraps BadgerDB for upload-record operations.
type MetadataStore struct {
	db *badger.DB
}

// OpenMetadataStore opens (or creates) a BadgerDB at the given path.
func OpenMetadataStore(dbPath string) (*MetadataStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %v", err)
	}
	return &MetadataStore{db: db}, nil
}

// Close closes the BadgerDB.
func (ms *MetadataStore) Close() error {
	return ms.db.Close()
}

// PutUploadRecord stores a completed-upload record.
func (ms *MetadataStore) PutUploadRecord(rec UploadRecord) error {
	key := []byte("upload:" + rec.UploadID)
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return ms.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

// GetUploadRecord retrieves a completed-upload record by upload id.
func (ms *MetadataStore) GetUploadRecord(uploadID string) (UploadRecord, error) {
	key := []byte("upload:" + uploadID)
	var rec UploadRecord
	err := ms.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrRecordNotFound, uploadID)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// ListOwnerRecords returns all completed uploads for one owner. Used by the
// status surface; scans the upload keyspace.
func (ms *MetadataStore) ListOwnerRecords(ownerID string) ([]UploadRecord, error) {
	var records []UploadRecord
	err := ms.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("upload:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec UploadRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if rec.OwnerID == ownerID {
				records = append(records, rec)
			}
		}
		return nil
	})
	return records, err
}

// NewUploadRecord builds a record stamped with the current time.
func NewUploadRecord(uploadID, ownerID, fileName, publicURL, mimeType string, size int64, width, height int) UploadRecord {
	return UploadRecord{
		UploadID:    uploadID,
		OwnerID:     ownerID,
		FileName:    fileName,
		PublicURL:   publicURL,
		MimeType:    mimeType,
		Size:        size,
		Width:       width,
		Height:      height,
		CompletedAt: time.Now(),
	}
}
