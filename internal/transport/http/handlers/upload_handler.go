package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/velickovic/clubchat/internal/storage"
	"github.com/velickovic/clubchat/internal/transport/http/middleware"
	"github.com/velickovic/clubchat/pkg/validator"
)

const maxUploadBytes = 5 << 20

type UploadHandler struct {
	blobs storage.BlobStore
}

func NewUploadHandler(blobs storage.BlobStore) *UploadHandler {
	return &UploadHandler{blobs: blobs}
}

// Upload accepts a multipart image and returns its public URL. The client
// sends the URL along with the message afterwards.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "Could not parse upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "Missing file field")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if errs := validator.ValidateUpload(contentType, header.Size); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		log.Printf("ERROR reading upload: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	// User-scoped, timestamped path so names never collide.
	path := fmt.Sprintf("%s/%d-%s", userID, time.Now().UnixMilli(), filepath.Base(header.Filename))
	url, err := h.blobs.Upload(r.Context(), path, data, contentType)
	if err != nil {
		log.Printf("ERROR uploading blob: %v", err)
		writeError(w, http.StatusBadGateway, "UPLOAD_FAILED", "Could not store the file")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}
