package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/coursekit/imageline/internal/api"
)

// Client uploads a file to an imageline server one chunk at a time.
type Client struct {
	baseURL    string
	httpClient *http.Client
	chunkSize  int64
}

// Progress is invoked after every acknowledged chunk.
type Progress func(chunksSent, totalChunks int)

// NewClient creates an uploader against the given server base URL. A
// non-positive chunkSize picks a size tier from the file length at upload time.
func NewClient(baseURL string, chunkSize int64) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		chunkSize: chunkSize,
	}
}

// UploadFile splits the file into chunks and posts them in order. It returns
// the public URL of the normalized artifact. progress may be nil.
func (c *Client) UploadFile(ctx context.Context, filePath, ownerID string, progress Progress) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	chunkSize := c.chunkSize
	if chunkSize <= 0 {
		chunkSize = determineChunkSize(fileInfo.Size())
	}
	totalChunks := int((fileInfo.Size() + chunkSize - 1) / chunkSize)
	if totalChunks == 0 {
		totalChunks = 1
	}

	uploadID := uuid.NewString()
	fileName := filepath.Base(filePath)

	buf := make([]byte, chunkSize)
	for index := 0; index < totalChunks; index++ {
		n, err := io.ReadFull(file, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return "", fmt.Errorf("failed to read chunk %d: %w", index, err)
		}

		resp, err := c.sendChunk(ctx, uploadID, index, totalChunks, fileName, ownerID, buf[:n])
		if err != nil {
			return "", fmt.Errorf("failed to send chunk %d: %w", index, err)
		}
		if progress != nil {
			progress(index+1, totalChunks)
		}

		if index == totalChunks-1 {
			if !resp.Assembled || resp.PublicURL == "" {
				return "", fmt.Errorf("server did not assemble after final chunk (status %s)", resp.Status)
			}
			return resp.PublicURL, nil
		}
	}

	return "", fmt.Errorf("upload ended without completion")
}

func (c *Client) sendChunk(ctx context.Context, uploadID string, index, total int, fileName, ownerID string, data []byte) (*api.ChunkResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+api.BasePath+"/chunk", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.HeaderUploadID, uploadID)
	req.Header.Set(api.HeaderChunkIndex, fmt.Sprintf("%d", index))
	req.Header.Set(api.HeaderTotalChunks, fmt.Sprintf("%d", total))
	req.Header.Set(api.HeaderFileName, fileName)
	req.Header.Set(api.HeaderOwnerID, ownerID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chunk upload failed: %s - %s", resp.Status, string(body))
	}

	var chunkResp api.ChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&chunkResp); err != nil {
		return nil, err
	}
	return &chunkResp, nil
}

// determineChunkSize picks a chunk size tier from the file size so small
// images go up in a handful of requests and large ones stay under proxy
// body limits.
func determineChunkSize(fileSize int64) int64 {
	switch {
	case fileSize <= 1*1024*1024:
		return 256 * 1024
	case fileSize <= 10*1024*1024:
		return 512 * 1024
	default:
		return 1 * 1024 * 1024
	}
}
