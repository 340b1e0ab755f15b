package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/downloader"
	"github.com/hszk-dev/mediadrop/internal/usecase"
)

type FormatsRequest struct {
	URL string `json:"url"`
}

type FormatsResponse struct {
	URL       string              `json:"url"`
	Title     string              `json:"title"`
	Filename  string              `json:"filename,omitempty"`
	Formats   []downloader.Format `json:"formats"`
	Subtitles []string            `json:"subtitles"`
	Cached    bool                `json:"cached"`
}

// FormatHandler lists the formats a source can be downloaded in.
type FormatHandler struct {
	svc    usecase.FormatService
	logger *slog.Logger
}

// NewFormatHandler creates a new FormatHandler.
func NewFormatHandler(svc usecase.FormatService, logger *slog.Logger) *FormatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FormatHandler{svc: svc, logger: logger}
}

// List handles GET /v1/formats?url= and POST /v1/formats.
func (h *FormatHandler) List(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if r.Method == http.MethodPost {
		var req FormatsRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
			return
		}
		rawURL = req.URL
	}

	if rawURL == "" {
		Error(w, http.StatusBadRequest, "invalid_url", "URL is required")
		return
	}

	out, err := h.svc.ListFormats(r.Context(), rawURL)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	subs := out.Listing.Subtitles
	if subs == nil {
		subs = []string{}
	}
	JSON(w, http.StatusOK, FormatsResponse{
		URL:       out.SourceURL,
		Title:     out.Listing.Title,
		Filename:  out.Listing.Filename,
		Formats:   out.Listing.Formats,
		Subtitles: subs,
		Cached:    out.Cached,
	})
}

func (h *FormatHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrPlaylistNotSupported):
		Error(w, http.StatusBadRequest, "playlist_not_supported", "Playlists are not supported")
	case errors.Is(err, model.ErrInvalidSourceURL):
		Error(w, http.StatusBadRequest, "invalid_url", "URL must be an absolute http(s) URL")
	case errors.Is(err, model.ErrNoFormats):
		Error(w, http.StatusNotFound, "no_formats", "No formats available for this URL")
	case errors.Is(err, model.ErrDownloadFailed):
		Error(w, http.StatusBadGateway, "formats_failed", "The media formats could not be listed")
	default:
		h.logger.Error("unhandled format error", slog.String("error", err.Error()))
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
