package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// API version and base path
const (
	APIVersion = "v1"
	BasePath   = "/api/" + APIVersion + "/uploads"
)

// Required chunk-request headers; X-Content-Type is the optional MIME hint.
const (
	HeaderUploadID    = "X-Upload-Id"
	HeaderChunkIndex  = "X-Chunk-Index"
	HeaderTotalChunks = "X-Total-Chunks"
	HeaderFileName    = "X-File-Name"
	HeaderOwnerID     = "X-Owner-Id"
	HeaderContentType = "X-Content-Type"
)

// ChunkResponse acknowledges one chunk request. Assembled and PublicURL are
// set only on the final response of a completed upload.
type ChunkResponse struct {
	Status       string `json:"status"`
	FileID       string `json:"fileId"`
	ChunkIndex   int    `json:"chunkIndex"`
	TotalChunks  int    `json:"totalChunks"`
	OriginalName string `json:"originalName"`
	Assembled    bool   `json:"assembled,omitempty"`
	PublicURL    string `json:"publicUrl,omitempty"`
}

// StatusResponse reports upload progress or the completed artifact.
type StatusResponse struct {
	UploadID     string     `json:"uploadId"`
	Completed    bool       `json:"completed"`
	StagedChunks int        `json:"stagedChunks,omitempty"`
	PublicURL    string     `json:"publicUrl,omitempty"`
	FileName     string     `json:"fileName,omitempty"`
	MimeType     string     `json:"mimeType,omitempty"`
	Size         int64      `json:"size,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// ErrorResponse is the wire shape of every failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Response helpers
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

func WriteErrorResponse(w http.ResponseWriter, statusCode int, errorMsg, details string) {
	WriteJSONResponse(w, statusCode, ErrorResponse{
		Error:   errorMsg,
		Details: details,
	})
}
