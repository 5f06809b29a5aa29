package receiver

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/coursekit/imageline/internal/normalize"
	"github.com/coursekit/imageline/internal/staging"
)

type fakeStorage struct {
	mu    sync.Mutex
	calls int
	fail  bool

	// optional gates for concurrency tests
	entered chan struct{}
	release chan struct{}
}

func (f *fakeStorage) Store(ctx context.Context, data []byte, fileName, mimeType, ownerID string) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return "", errors.New("backend unavailable")
	}
	return "https://cdn.test/" + ownerID + "/" + fileName, nil
}

func (f *fakeStorage) storeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture png: %v", err)
	}
	return buf.Bytes()
}

// splitChunks slices raw into n nearly-even chunks.
func splitChunks(raw []byte, n int) [][]byte {
	size := (len(raw) + n - 1) / n
	var chunks [][]byte
	for start := 0; start < len(raw); start += size {
		end := start + size
		if end > len(raw) {
			end = len(raw)
		}
		chunks = append(chunks, raw[start:end])
	}
	return chunks
}

func newTestReceiver(store *fakeStorage) (*Receiver, staging.Store) {
	st := staging.NewMemStore()
	norm := normalize.New(0, normalize.Options{Format: normalize.FormatPNG})
	return NewReceiver(st, norm, store, nil), st
}

func req(uploadID string, index, total int, data []byte) ChunkRequest {
	return ChunkRequest{
		UploadID:    uploadID,
		ChunkIndex:  index,
		TotalChunks: total,
		FileName:    "photo.png",
		OwnerID:     "course-42",
		ContentType: "image/png",
		Data:        data,
	}
}

func TestCompletionDetectedRegardlessOfArrivalOrder(t *testing.T) {
	store := &fakeStorage{}
	rcv, st := newTestReceiver(store)

	chunks := splitChunks(makePNG(t, 32, 32), 3)
	ctx := context.Background()

	for _, idx := range []int{2, 0} {
		res, err := rcv.ReceiveChunk(ctx, req("u1", idx, 3, chunks[idx]))
		if err != nil {
			t.Fatalf("chunk %d failed: %v", idx, err)
		}
		if res.Status != StatusChunkReceived {
			t.Errorf("chunk %d: expected chunk_received, got %s", idx, res.Status)
		}
		if res.Assembled || res.PublicURL != "" {
			t.Errorf("chunk %d: premature completion fields set", idx)
		}
	}

	res, err := rcv.ReceiveChunk(ctx, req("u1", 1, 3, chunks[1]))
	if err != nil {
		t.Fatalf("final chunk failed: %v", err)
	}
	if res.Status != StatusFileComplete || !res.Assembled {
		t.Errorf("expected file_complete with assembled=true, got %+v", res)
	}
	if res.PublicURL == "" {
		t.Errorf("expected a public url on completion")
	}
	if store.storeCalls() != 1 {
		t.Errorf("expected exactly one storage call, got %d", store.storeCalls())
	}
	if _, err := st.Count("u1"); !errors.Is(err, staging.ErrUploadNotFound) {
		t.Errorf("expected staging area removed after completion, got %v", err)
	}
}

func TestValidationRejectsMissingFields(t *testing.T) {
	rcv, _ := newTestReceiver(&fakeStorage{})
	ctx := context.Background()

	cases := []ChunkRequest{
		{ChunkIndex: 0, TotalChunks: 1, FileName: "a.png", OwnerID: "o"},
		{UploadID: "u", ChunkIndex: 0, TotalChunks: 1, OwnerID: "o"},
		{UploadID: "u", ChunkIndex: 0, TotalChunks: 1, FileName: "a.png"},
		{UploadID: "u", ChunkIndex: 0, TotalChunks: 0, FileName: "a.png", OwnerID: "o"},
		{UploadID: "u", ChunkIndex: 3, TotalChunks: 3, FileName: "a.png", OwnerID: "o"},
		{UploadID: "u", ChunkIndex: -1, TotalChunks: 3, FileName: "a.png", OwnerID: "o"},
	}
	for i, c := range cases {
		if _, err := rcv.ReceiveChunk(ctx, c); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestTotalChunksMismatchRejected(t *testing.T) {
	rcv, _ := newTestReceiver(&fakeStorage{})
	ctx := context.Background()

	if _, err := rcv.ReceiveChunk(ctx, req("u2", 0, 3, []byte("a"))); err != nil {
		t.Fatalf("first chunk failed: %v", err)
	}
	_, err := rcv.ReceiveChunk(ctx, req("u2", 1, 4, []byte("b")))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest on total mismatch, got %v", err)
	}
}

func TestDuplicateFinalChunkAssemblesOnce(t *testing.T) {
	store := &fakeStorage{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	rcv, _ := newTestReceiver(store)

	chunks := splitChunks(makePNG(t, 32, 32), 2)
	ctx := context.Background()

	if _, err := rcv.ReceiveChunk(ctx, req("u3", 0, 2, chunks[0])); err != nil {
		t.Fatalf("chunk 0 failed: %v", err)
	}

	var wg sync.WaitGroup
	var winner *ChunkResult
	var winnerErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		winner, winnerErr = rcv.ReceiveChunk(ctx, req("u3", 1, 2, chunks[1]))
	}()

	// wait until the first final-chunk request is inside the storage call,
	// holding the assembly claim
	<-store.entered

	dup, err := rcv.ReceiveChunk(ctx, req("u3", 1, 2, chunks[1]))
	if err != nil {
		t.Fatalf("duplicate final chunk failed: %v", err)
	}
	if dup.Status != StatusChunkReceived {
		t.Errorf("claim loser should get chunk_received, got %s", dup.Status)
	}

	close(store.release)
	wg.Wait()

	if winnerErr != nil {
		t.Fatalf("claim winner failed: %v", winnerErr)
	}
	if winner.Status != StatusFileComplete {
		t.Errorf("claim winner should complete, got %s", winner.Status)
	}
	if store.storeCalls() != 1 {
		t.Errorf("expected exactly one storage call, got %d", store.storeCalls())
	}
}

func TestFailedPublishKeepsStagingForRetry(t *testing.T) {
	store := &fakeStorage{fail: true}
	rcv, st := newTestReceiver(store)

	chunks := splitChunks(makePNG(t, 32, 32), 2)
	ctx := context.Background()

	if _, err := rcv.ReceiveChunk(ctx, req("u4", 0, 2, chunks[0])); err != nil {
		t.Fatalf("chunk 0 failed: %v", err)
	}
	if _, err := rcv.ReceiveChunk(ctx, req("u4", 1, 2, chunks[1])); err == nil {
		t.Fatalf("expected storage failure to surface")
	}

	// slots survive the failed attempt
	count, err := st.Count("u4")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 staged slots after failure, got %d", count)
	}

	// resending the final chunk retries the whole pipeline
	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()

	res, err := rcv.ReceiveChunk(ctx, req("u4", 1, 2, chunks[1]))
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Status != StatusFileComplete || res.PublicURL == "" {
		t.Errorf("expected retry to complete, got %+v", res)
	}
}
