package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coursekit/imageline/internal/metadata"
	"github.com/coursekit/imageline/internal/normalize"
	"github.com/coursekit/imageline/internal/staging"
	"github.com/coursekit/imageline/internal/storage"
	"github.com/coursekit/imageline/pkg/logging"
)

// Status is the outcome of one chunk request.
type Status string

const (
	StatusChunkReceived Status = "chunk_received"
	StatusFileComplete  Status = "file_complete"
)

// ErrInvalidRequest means required chunk metadata is missing or inconsistent.
var ErrInvalidRequest = errors.New("invalid chunk request")

// ChunkRequest carries one staged chunk plus its metadata.
type ChunkRequest struct {
	UploadID    string
	ChunkIndex  int
	TotalChunks int
	FileName    string
	OwnerID     string
	ContentType string // optional hint, wins over extension inference
	Data        []byte
}

// ChunkResult reports partial receipt or final completion.
type ChunkResult struct {
	Status      Status
	UploadID    string
	ChunkIndex  int
	TotalChunks int
	FileName    string
	Assembled   bool
	PublicURL   string
}

// Receiver stages chunks, detects completion, and runs the
// assemble → normalize → store pipeline exactly once per upload.
type Receiver struct {
	staging staging.Store
	norm    *normalize.Normalizer
	store   storage.Storage
	records *metadata.MetadataStore // optional

	// claims serializes assembly per upload id: concurrent final-chunk
	// arrivals race the count check, and only the claim winner assembles.
	mu     sync.Mutex
	claims map[string]struct{}

	log *logrus.Entry
}

// NewReceiver wires the pipeline. records may be nil when no completed-upload
// bookkeeping is wanted.
func NewReceiver(st staging.Store, norm *normalize.Normalizer, store storage.Storage, records *metadata.MetadataStore) *Receiver {
	return &Receiver{
		staging: st,
		norm:    norm,
		store:   store,
		records: records,
		claims:  make(map[string]struct{}),
		log:     logging.WithComponent("receiver"),
	}
}

// ReceiveChunk stages one chunk. Re-sending an index replaces the slot, so a
// failed transmission is retried by resending. When the staged count reaches
// the declared total the caller that wins the assembly claim runs the full
// pipeline and returns the public URL; concurrent losers get a plain
// chunk-received acknowledgment.
func (r *Receiver) ReceiveChunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if err := r.staging.Declare(req.UploadID, req.TotalChunks); err != nil {
		if errors.Is(err, staging.ErrTotalMismatch) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("failed to declare upload: %w", err)
	}

	if err := r.staging.WriteChunk(req.UploadID, req.ChunkIndex, req.Data); err != nil {
		return nil, fmt.Errorf("failed to stage chunk: %w", err)
	}

	count, err := r.staging.Count(req.UploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to count staged chunks: %w", err)
	}

	partial := &ChunkResult{
		Status:      StatusChunkReceived,
		UploadID:    req.UploadID,
		ChunkIndex:  req.ChunkIndex,
		TotalChunks: req.TotalChunks,
		FileName:    req.FileName,
	}

	if count < req.TotalChunks {
		return partial, nil
	}

	if !r.tryClaim(req.UploadID) {
		// another request is already assembling this upload
		return partial, nil
	}

	url, err := r.assembleAndPublish(ctx, req)
	if err != nil {
		// staged slots stay behind for a resend-triggered retry; the
		// sweeper reclaims them if the client never comes back
		r.releaseClaim(req.UploadID)
		return nil, err
	}
	r.releaseClaim(req.UploadID)

	return &ChunkResult{
		Status:      StatusFileComplete,
		UploadID:    req.UploadID,
		ChunkIndex:  req.ChunkIndex,
		TotalChunks: req.TotalChunks,
		FileName:    req.FileName,
		Assembled:   true,
		PublicURL:   url,
	}, nil
}

func (r *Receiver) assembleAndPublish(ctx context.Context, req ChunkRequest) (string, error) {
	assembled, err := r.staging.Assemble(req.UploadID)
	if err != nil {
		return "", fmt.Errorf("failed to assemble chunks: %w", err)
	}

	img, err := r.norm.Normalize(assembled, req.FileName, req.ContentType)
	if err != nil {
		return "", fmt.Errorf("failed to normalize image: %w", err)
	}

	url, err := r.store.Store(ctx, img.Buffer, img.FileName, img.MimeType, req.OwnerID)
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	if r.records != nil {
		rec := metadata.NewUploadRecord(req.UploadID, req.OwnerID, img.FileName,
			url, img.MimeType, img.Size, img.Width, img.Height)
		if err := r.records.PutUploadRecord(rec); err != nil {
			// the artifact is already public; bookkeeping failure is not fatal
			r.log.WithField("upload_id", req.UploadID).Warnf("failed to record completed upload: %v", err)
		}
	}

	if err := r.staging.Remove(req.UploadID); err != nil {
		r.log.WithField("upload_id", req.UploadID).Warnf("failed to clean staging area: %v", err)
	}

	r.log.WithFields(logrus.Fields{
		"upload_id": req.UploadID,
		"owner_id":  req.OwnerID,
		"file_name": img.FileName,
		"size":      img.Size,
	}).Info("upload assembled and published")

	return url, nil
}

func (r *Receiver) tryClaim(uploadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.claims[uploadID]; taken {
		return false
	}
	r.claims[uploadID] = struct{}{}
	return true
}

func (r *Receiver) releaseClaim(uploadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, uploadID)
}

func validate(req ChunkRequest) error {
	switch {
	case req.UploadID == "":
		return fmt.Errorf("%w: upload id is required", ErrInvalidRequest)
	case req.FileName == "":
		return fmt.Errorf("%w: file name is required", ErrInvalidRequest)
	case req.OwnerID == "":
		return fmt.Errorf("%w: owner id is required", ErrInvalidRequest)
	case req.TotalChunks <= 0:
		return fmt.Errorf("%w: total chunks must be positive", ErrInvalidRequest)
	case req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks:
		return fmt.Errorf("%w: chunk index %d out of range [0,%d)", ErrInvalidRequest, req.ChunkIndex, req.TotalChunks)
	}
	return nil
}
