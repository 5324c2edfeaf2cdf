package upload

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/catalog"
	"github.com/noah-isme/backend-fotoko/internal/common"
)

// PhotoRegistrar records stored files as event photos.
type PhotoRegistrar interface {
	AddPhotos(ctx context.Context, eventID int64, files []catalog.NewPhoto) ([]catalog.Photo, error)
}

// Handler accepts photo uploads for an event.
type Handler struct {
	Gateway       *Gateway
	Photos        PhotoRegistrar
	PublicBaseURL string
	Log           zerolog.Logger
}

// EventPhotos handles POST /api/v1/admin/events/{id}/photos.
func (h *Handler) EventPhotos(w http.ResponseWriter, r *http.Request) {
	if h.Gateway == nil || h.Photos == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "upload gateway not configured", nil)
		return
	}
	eventID, ok := common.ParsePositiveID(chi.URLParam(r, "id"))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid event id", nil)
		return
	}
	files, err := h.Gateway.Receive(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	base := strings.TrimRight(h.PublicBaseURL, "/")
	records := make([]catalog.NewPhoto, 0, len(files))
	for _, f := range files {
		records = append(records, catalog.NewPhoto{
			Filename:    f.Filename,
			URL:         base + "/uploads/" + f.Filename,
			ContentType: f.ContentType,
			SizeBytes:   f.Size,
		})
	}
	photos, err := h.Photos.AddPhotos(r.Context(), eventID, records)
	if err != nil {
		h.Gateway.Remove(files)
		h.writeError(w, err)
		return
	}
	h.Log.Info().Int64("event_id", eventID).Int("files", len(files)).Msg("photos uploaded")
	common.Data(w, http.StatusCreated, map[string]any{
		"files":  files,
		"photos": photos,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		common.JSONError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", err.Error(), nil)
	case errors.Is(err, ErrTooManyFiles):
		common.JSONError(w, http.StatusRequestEntityTooLarge, "TOO_MANY_FILES", err.Error(), nil)
	case errors.Is(err, ErrUnsupportedType):
		common.JSONError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_TYPE", err.Error(), nil)
	case errors.Is(err, ErrNoFiles):
		common.JSONError(w, http.StatusBadRequest, "NO_FILES", "no files uploaded", nil)
	case errors.Is(err, ErrNotMultipart):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "expected multipart/form-data", nil)
	case errors.Is(err, catalog.ErrEventNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "event not found", nil)
	default:
		h.Log.Error().Err(err).Msg("upload failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "upload failed", nil)
	}
}
