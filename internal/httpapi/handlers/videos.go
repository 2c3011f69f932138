package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"scenegen/internal/pkg/errors"
	"scenegen/internal/pkg/middleware"
	"scenegen/internal/renderer"
)

// Video handles GET /api/videos/{id}. The id may carry the .mp4 suffix.
func (h *Handler) Video(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(chi.URLParam(r, "id"), ".mp4")
	if !renderer.ValidID(id) {
		middleware.HandleError(w, r, h.log, errors.NotFound("video", id))
		return
	}

	key := renderer.VideoKey(id)
	rc, ct, size, err := h.store.GetObject(r.Context(), key)
	if err != nil {
		if !errors.IsNotFound(err) {
			err = errors.Wrap(err, "handlers.video", "failed to read video")
		}
		middleware.HandleError(w, r, h.log, err)
		return
	}
	defer rc.Close()

	if ct == "" || ct == "application/octet-stream" {
		ct = "video/mp4"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	// Local files support range requests, which browsers use for seeking.
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, key, time.Time{}, rs)
		return
	}

	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	_, _ = io.Copy(w, rc)
}
