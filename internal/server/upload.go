package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/you/blogql/internal/apperr"
	"github.com/you/blogql/internal/auth"
	"github.com/you/blogql/internal/storage"
)

type uploadResponse struct {
	Message  string `json:"message"`
	FilePath string `json:"filePath,omitempty"`
}

// handleUpload stores the multipart "image" file and returns its path, which
// clients then send as a post's imageUrl. Files of other types are ignored
// as if none had been sent.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFrom(r.Context())
	if !id.Authenticated {
		writeError(w, apperr.Unauthenticated("Not authenticated!"))
		return
	}

	ctx := r.Context()

	err := r.ParseMultipartForm(maxUploadMemory)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		writeJSON(w, uploadResponse{Message: "No file provided!"}, http.StatusOK)
		return
	case err != nil:
		s.logger.DebugContext(ctx, "invalid upload form", "error", err)
		writeJSON(w, apperr.Envelope{Message: "Invalid upload.", Status: http.StatusBadRequest}, http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("image")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) {
			s.logger.WarnContext(ctx, "reading upload failed", "error", err)
		}
		writeJSON(w, uploadResponse{Message: "No file provided!"}, http.StatusOK)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if _, ok := storage.AllowedContentTypes[contentType]; !ok {
		writeJSON(w, uploadResponse{Message: "No file provided!"}, http.StatusOK)
		return
	}

	filePath, err := s.images.Put(ctx, header.Filename, file, header.Size, contentType)
	if err != nil {
		s.logger.ErrorContext(ctx, "storing image failed", "error", err, "filename", header.Filename)
		writeError(w, err)
		return
	}
	s.metrics.ImagesStored.Inc()

	if oldPath := r.FormValue("oldPath"); oldPath != "" {
		s.removeReplaced(ctx, id.UserID, oldPath)
	}

	writeJSON(w, uploadResponse{Message: "File stored.", FilePath: filePath}, http.StatusCreated)
}

// removeReplaced deletes oldPath if it is the image of one of the caller's
// posts. Anything else is left in place.
func (s *Server) removeReplaced(ctx context.Context, userID, oldPath string) {
	if s.owners == nil {
		return
	}
	owned, err := s.owners.OwnsImage(ctx, userID, oldPath)
	if err != nil {
		s.logger.WarnContext(ctx, "checking replaced image owner failed", "error", err, "path", oldPath)
		return
	}
	if !owned {
		s.logger.InfoContext(ctx, "replaced image kept, not owned by uploader", "path", oldPath, "user_id", userID)
		return
	}
	if err := s.images.Remove(ctx, oldPath); err != nil {
		s.logger.WarnContext(ctx, "removing replaced image failed", "error", err, "path", oldPath)
	}
}
