package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/coursekit/imageline/internal/metadata"
	"github.com/coursekit/imageline/internal/receiver"
	"github.com/coursekit/imageline/internal/staging"
	"github.com/coursekit/imageline/pkg/logging"
)

// Handler exposes the upload pipeline over HTTP.
type Handler struct {
	receiver *receiver.Receiver
	staging  staging.Store
	records  *metadata.MetadataStore // optional
	log      *logrus.Entry
}

func NewHandler(rcv *receiver.Receiver, st staging.Store, records *metadata.MetadataStore) *Handler {
	return &Handler{
		receiver: rcv,
		staging:  st,
		records:  records,
		log:      logging.WithComponent("api"),
	}
}

// NewRouter registers all routes on a fresh gorilla/mux router.
func (h *Handler) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(BasePath+"/chunk", h.handleChunkUpload).Methods(http.MethodPost)
	r.HandleFunc(BasePath+"/{upload_id}/status", h.handleUploadStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	return r
}

// handleChunkUpload handles POST /api/v1/uploads/chunk. The chunk is the raw
// request body; all metadata travels in headers.
func (h *Handler) handleChunkUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := r.Header.Get(HeaderUploadID)
	indexStr := r.Header.Get(HeaderChunkIndex)
	totalStr := r.Header.Get(HeaderTotalChunks)
	fileName := r.Header.Get(HeaderFileName)
	ownerID := r.Header.Get(HeaderOwnerID)

	if uploadID == "" || indexStr == "" || totalStr == "" || fileName == "" || ownerID == "" {
		WriteErrorResponse(w, http.StatusBadRequest, "missing required upload headers", "")
		return
	}

	chunkIndex, err := strconv.Atoi(indexStr)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "invalid chunk index", err.Error())
		return
	}
	totalChunks, err := strconv.Atoi(totalStr)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "invalid total chunk count", err.Error())
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "failed to read chunk data", err.Error())
		return
	}

	result, err := h.receiver.ReceiveChunk(r.Context(), receiver.ChunkRequest{
		UploadID:    uploadID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		FileName:    fileName,
		OwnerID:     ownerID,
		ContentType: r.Header.Get(HeaderContentType),
		Data:        data,
	})
	if err != nil {
		if errors.Is(err, receiver.ErrInvalidRequest) {
			WriteErrorResponse(w, http.StatusBadRequest, "invalid chunk request", err.Error())
			return
		}
		h.log.WithFields(logrus.Fields{
			"upload_id":   uploadID,
			"chunk_index": chunkIndex,
		}).Errorf("chunk processing failed: %v", err)
		WriteErrorResponse(w, http.StatusInternalServerError, "processing failed", err.Error())
		return
	}

	WriteJSONResponse(w, http.StatusOK, ChunkResponse{
		Status:       string(result.Status),
		FileID:       result.UploadID,
		ChunkIndex:   result.ChunkIndex,
		TotalChunks:  result.TotalChunks,
		OriginalName: result.FileName,
		Assembled:    result.Assembled,
		PublicURL:    result.PublicURL,
	})
}

// handleUploadStatus handles GET /api/v1/uploads/{upload_id}/status.
func (h *Handler) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["upload_id"]

	if h.records != nil {
		if rec, err := h.records.GetUploadRecord(uploadID); err == nil {
			completedAt := rec.CompletedAt
			WriteJSONResponse(w, http.StatusOK, StatusResponse{
				UploadID:    uploadID,
				Completed:   true,
				PublicURL:   rec.PublicURL,
				FileName:    rec.FileName,
				MimeType:    rec.MimeType,
				Size:        rec.Size,
				CompletedAt: &completedAt,
			})
			return
		}
	}

	count, err := h.staging.Count(uploadID)
	if err != nil {
		if errors.Is(err, staging.ErrUploadNotFound) {
			WriteErrorResponse(w, http.StatusNotFound, "upload not found", "")
			return
		}
		WriteErrorResponse(w, http.StatusInternalServerError, "processing failed", err.Error())
		return
	}

	WriteJSONResponse(w, http.StatusOK, StatusResponse{
		UploadID:     uploadID,
		Completed:    false,
		StagedChunks: count,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
