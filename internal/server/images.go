package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/storage"
)

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, contentType, err := s.images.Open(ctx, storage.PathPrefix+r.PathValue("key"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || storage.IsInvalidPath(err) {
			writeError(w, apperr.NotFound("Image not found."))
			return
		}
		s.logger.ErrorContext(ctx, "opening image failed", "error", err, "key", r.PathValue("key"))
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.DebugContext(ctx, "streaming image aborted", "error", err)
	}
}
