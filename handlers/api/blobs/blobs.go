package blobs

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"collabboard-server/core"
)

// HandleGetBlob serves an externalized shape payload. The memory,
// filesystem and sqlite blob stores hand out /api/blobs/<key> URLs that
// land here; the S3 store resolves to object URLs and bypasses it.
func HandleGetBlob(store core.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if key == "" {
			http.Error(w, "Blob key is required", http.StatusBadRequest)
			return
		}

		data, contentType, err := store.GetBlob(r.Context(), key)
		if err != nil {
			if errors.Is(err, core.ErrBlobNotFound) {
				http.Error(w, "Blob not found", http.StatusNotFound)
				return
			}
			logrus.WithField("blob_key", key).WithError(err).Error("Failed to read blob")
			http.Error(w, "Failed to read blob", http.StatusInternalServerError)
			return
		}

		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		if _, err := w.Write(data); err != nil {
			logrus.WithField("blob_key", key).WithError(err).Warn("Failed to write blob response")
		}
	}
}
