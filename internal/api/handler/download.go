package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/session"
	"github.com/hszk-dev/mediadrop/internal/tier"
	"github.com/hszk-dev/mediadrop/internal/usecase"
)

const maxRequestBody = 1 << 20

var subtitleLangPattern = regexp.MustCompile(`^[A-Za-z]{2,3}([-_][A-Za-z0-9]{1,8})*$`)

// Request/Response types

type DownloadRequest struct {
	URL      string `json:"url"`
	Format   string `json:"format,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Async    bool   `json:"async,omitempty"`
}

type SessionResponse struct {
	SessionID    string `json:"session_id"`
	Status       string `json:"status"`
	Filename     string `json:"filename,omitempty"`
	Storage      string `json:"storage,omitempty"`
	DownloadLink string `json:"download_link"`
	URL          string `json:"url,omitempty"`
	ExpiresAt    string `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
	Cached       bool   `json:"cached"`
}

// DownloadHandler handles download session HTTP requests.
type DownloadHandler struct {
	svc    usecase.DownloadService
	logger *slog.Logger
}

// NewDownloadHandler creates a new DownloadHandler.
func NewDownloadHandler(svc usecase.DownloadService, logger *slog.Logger) *DownloadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadHandler{svc: svc, logger: logger}
}

// Create handles POST /v1/downloads
func (h *DownloadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if req.URL == "" {
		Error(w, http.StatusBadRequest, "invalid_url", "URL is required")
		return
	}

	if req.Subtitle != "" && !subtitleLangPattern.MatchString(req.Subtitle) {
		Error(w, http.StatusBadRequest, "invalid_subtitle", "Subtitle must be a language code")
		return
	}

	input := usecase.DownloadInput{
		URL:          req.URL,
		Format:       req.Format,
		SubtitleLang: req.Subtitle,
	}

	if req.Async {
		output, err := h.svc.Submit(r.Context(), input)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		status := http.StatusAccepted
		if output.Status == model.StatusReady {
			status = http.StatusOK
		}
		JSON(w, status, toSessionResponse(output))
		return
	}

	output, err := h.svc.Download(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(output))
}

// GetSession handles GET /v1/sessions/{session_id}
func (h *DownloadHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	output, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(output))
}

// ServeFile handles GET /v1/files/{session_id}. Local artifacts are streamed
// as an attachment; remote ones redirect to a presigned URL.
func (h *DownloadHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	ref, err := h.svc.ResolveArtifact(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	if ref.Kind == model.StorageRemote {
		http.Redirect(w, r, ref.URL, http.StatusFound)
		return
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		// Expired between resolve and open.
		h.handleServiceError(w, model.ErrSessionNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", tier.ContentType(ref.Filename))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": ref.Filename}))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, ref.Filename, info.ModTime(), f)
}

func (h *DownloadHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrPlaylistNotSupported):
		Error(w, http.StatusBadRequest, "playlist_not_supported", "Playlists are not supported")
	case errors.Is(err, model.ErrInvalidSourceURL):
		Error(w, http.StatusBadRequest, "invalid_url", "URL must be an absolute http(s) URL")
	case errors.Is(err, model.ErrInvalidIdentifier):
		Error(w, http.StatusBadRequest, "invalid_session_id", "Session ID must be a valid UUID")
	case errors.Is(err, model.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session_not_found", "Session not found or expired")
	case errors.Is(err, model.ErrNotReady):
		Error(w, http.StatusConflict, "not_ready", "Artifact is not ready yet")
	case errors.Is(err, model.ErrPathEscape):
		Error(w, http.StatusForbidden, "forbidden", "Access denied")
	case errors.Is(err, model.ErrDownloadFailed):
		Error(w, http.StatusBadGateway, "download_failed", "The media could not be downloaded")
	case errors.Is(err, usecase.ErrServiceClosed), errors.Is(err, session.ErrRegistryClosed):
		Error(w, http.StatusServiceUnavailable, "unavailable", "Server is shutting down")
	default:
		h.logger.Error("unhandled service error", slog.String("error", err.Error()))
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func toSessionResponse(o *usecase.DownloadOutput) SessionResponse {
	return SessionResponse{
		SessionID:    o.SessionID.String(),
		Status:       o.Status.String(),
		Filename:     o.Filename,
		Storage:      string(o.Storage),
		DownloadLink: "/v1/files/" + o.SessionID.String(),
		URL:          o.URL,
		ExpiresAt:    o.ExpiresAt.UTC().Format(time.RFC3339),
		ExpiresIn:    int64(o.ExpiresIn / time.Second),
		Cached:       o.Cached,
	}
}
