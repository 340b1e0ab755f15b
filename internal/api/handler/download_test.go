package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hszk-dev/mediadrop/internal/domain/model"
	"github.com/hszk-dev/mediadrop/internal/session"
	"github.com/hszk-dev/mediadrop/internal/usecase"
)

// Mock DownloadService

type mockDownloadService struct {
	downloadFn        func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error)
	submitFn          func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error)
	resolveArtifactFn func(ctx context.Context, rawID string) (*model.ServableRef, error)
	getSessionFn      func(ctx context.Context, rawID string) (*usecase.DownloadOutput, error)
}

func (m *mockDownloadService) Download(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, input)
	}
	return nil, nil
}

func (m *mockDownloadService) Submit(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, input)
	}
	return nil, nil
}

func (m *mockDownloadService) ResolveArtifact(ctx context.Context, rawID string) (*model.ServableRef, error) {
	if m.resolveArtifactFn != nil {
		return m.resolveArtifactFn(ctx, rawID)
	}
	return nil, nil
}

func (m *mockDownloadService) GetSession(ctx context.Context, rawID string) (*usecase.DownloadOutput, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, rawID)
	}
	return nil, nil
}

func (m *mockDownloadService) Close(ctx context.Context) error {
	return nil
}

func newRouter(h *DownloadHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/v1/downloads", h.Create)
	r.Get("/v1/sessions/{session_id}", h.GetSession)
	r.Get("/v1/files/{session_id}", h.ServeFile)
	return r
}

func readyOutput(id uuid.UUID) *usecase.DownloadOutput {
	return &usecase.DownloadOutput{
		SessionID: id,
		Status:    model.StatusReady,
		Filename:  "clip.mp4",
		Storage:   model.StorageLocal,
		ExpiresAt: time.Now().Add(5 * time.Minute),
		ExpiresIn: 5 * time.Minute,
	}
}

func TestDownloadHandler_Create(t *testing.T) {
	sessionID := uuid.New()

	tests := []struct {
		name           string
		requestBody    interface{}
		setupMock      func(m *mockDownloadService)
		wantStatusCode int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:        "synchronous download",
			requestBody: DownloadRequest{URL: "https://example.com/watch?v=1"},
			setupMock: func(m *mockDownloadService) {
				m.downloadFn = func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
					if input.URL != "https://example.com/watch?v=1" {
						t.Errorf("unexpected URL %s", input.URL)
					}
					return readyOutput(sessionID), nil
				}
			},
			wantStatusCode: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp SessionResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.SessionID != sessionID.String() {
					t.Errorf("expected session %s, got %s", sessionID, resp.SessionID)
				}
				if resp.DownloadLink != "/v1/files/"+sessionID.String() {
					t.Errorf("unexpected download link %s", resp.DownloadLink)
				}
				if resp.ExpiresIn != 300 {
					t.Errorf("expected expires_in 300, got %d", resp.ExpiresIn)
				}
				if resp.Status != "READY" {
					t.Errorf("expected status READY, got %s", resp.Status)
				}
			},
		},
		{
			name:        "asynchronous download",
			requestBody: DownloadRequest{URL: "https://example.com/watch?v=1", Subtitle: "en", Async: true},
			setupMock: func(m *mockDownloadService) {
				m.submitFn = func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
					if input.SubtitleLang != "en" {
						t.Errorf("expected subtitle en, got %s", input.SubtitleLang)
					}
					return &usecase.DownloadOutput{SessionID: sessionID, Status: model.StatusPending}, nil
				}
			},
			wantStatusCode: http.StatusAccepted,
			checkResponse: func(t *testing.T, body []byte) {
				var resp SessionResponse
				if err := json.Unmarshal(body, &resp); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if resp.Status != "PENDING" {
					t.Errorf("expected status PENDING, got %s", resp.Status)
				}
			},
		},
		{
			name:        "asynchronous cache hit",
			requestBody: DownloadRequest{URL: "https://example.com/watch?v=1", Async: true},
			setupMock: func(m *mockDownloadService) {
				m.submitFn = func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
					out := readyOutput(sessionID)
					out.Cached = true
					return out, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "invalid JSON body",
			requestBody:    "invalid json",
			setupMock:      func(m *mockDownloadService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "missing URL",
			requestBody:    DownloadRequest{},
			setupMock:      func(m *mockDownloadService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "invalid subtitle language",
			requestBody:    DownloadRequest{URL: "https://example.com/v", Subtitle: "en; rm -rf"},
			setupMock:      func(m *mockDownloadService) {},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:        "service error - invalid URL",
			requestBody: DownloadRequest{URL: "file:///etc/passwd"},
			setupMock: func(m *mockDownloadService) {
				m.downloadFn = func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
					return nil, model.ErrInvalidSourceURL
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:        "service error - download failed",
			requestBody: DownloadRequest{URL: "https://example.com/v"},
			setupMock: func(m *mockDownloadService) {
				m.downloadFn = func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
					return nil, errors.Join(model.ErrDownloadFailed, errors.New("unsupported site"))
				}
			},
			wantStatusCode: http.StatusBadGateway,
		},
		{
			name:        "service error - shutting down",
			requestBody: DownloadRequest{URL: "https://example.com/v", Async: true},
			setupMock: func(m *mockDownloadService) {
				m.submitFn = func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
					return nil, usecase.ErrServiceClosed
				}
			},
			wantStatusCode: http.StatusServiceUnavailable,
		},
		{
			name:        "service error - registry closed",
			requestBody: DownloadRequest{URL: "https://example.com/v"},
			setupMock: func(m *mockDownloadService) {
				m.downloadFn = func(ctx context.Context, input usecase.DownloadInput) (*usecase.DownloadOutput, error) {
					return nil, fmt.Errorf("create session: %w", session.ErrRegistryClosed)
				}
			},
			wantStatusCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockDownloadService{}
			tt.setupMock(m)
			h := NewDownloadHandler(m, nil)

			var body []byte
			if s, ok := tt.requestBody.(string); ok {
				body = []byte(s)
			} else {
				body, _ = json.Marshal(tt.requestBody)
			}

			req := httptest.NewRequest(http.MethodPost, "/v1/downloads", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			newRouter(h).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatusCode, rec.Code, rec.Body.String())
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, rec.Body.Bytes())
			}
		})
	}
}

func TestDownloadHandler_GetSession(t *testing.T) {
	sessionID := uuid.New()

	tests := []struct {
		name           string
		sessionID      string
		err            error
		wantStatusCode int
	}{
		{name: "found", sessionID: sessionID.String(), wantStatusCode: http.StatusOK},
		{name: "invalid id", sessionID: "not-a-uuid", err: model.ErrInvalidIdentifier, wantStatusCode: http.StatusBadRequest},
		{name: "not found", sessionID: uuid.New().String(), err: model.ErrSessionNotFound, wantStatusCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockDownloadService{
				getSessionFn: func(ctx context.Context, rawID string) (*usecase.DownloadOutput, error) {
					if rawID != tt.sessionID {
						t.Errorf("expected raw id %s, got %s", tt.sessionID, rawID)
					}
					if tt.err != nil {
						return nil, tt.err
					}
					return readyOutput(sessionID), nil
				},
			}

			req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+tt.sessionID, nil)
			rec := httptest.NewRecorder()
			newRouter(NewDownloadHandler(m, nil)).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
		})
	}
}

func TestDownloadHandler_ServeFile(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(artifact, []byte("media bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	tests := []struct {
		name           string
		ref            *model.ServableRef
		err            error
		wantStatusCode int
		checkResponse  func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:           "local artifact",
			ref:            &model.ServableRef{Kind: model.StorageLocal, Path: artifact, Filename: "clip.mp4"},
			wantStatusCode: http.StatusOK,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if rec.Body.String() != "media bytes" {
					t.Errorf("unexpected body %q", rec.Body.String())
				}
				cd := rec.Header().Get("Content-Disposition")
				if !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "clip.mp4") {
					t.Errorf("unexpected Content-Disposition %q", cd)
				}
				if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
					t.Errorf("expected video/mp4, got %s", ct)
				}
			},
		},
		{
			name:           "remote artifact redirects",
			ref:            &model.ServableRef{Kind: model.StorageRemote, URL: "https://minio.example.com/bucket/clip.mp4?sig=abc", Filename: "clip.mp4"},
			wantStatusCode: http.StatusFound,
			checkResponse: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if loc := rec.Header().Get("Location"); loc != "https://minio.example.com/bucket/clip.mp4?sig=abc" {
					t.Errorf("unexpected Location %s", loc)
				}
			},
		},
		{
			name:           "local file vanished",
			ref:            &model.ServableRef{Kind: model.StorageLocal, Path: filepath.Join(dir, "gone.mp4"), Filename: "gone.mp4"},
			wantStatusCode: http.StatusNotFound,
		},
		{name: "invalid id", err: model.ErrInvalidIdentifier, wantStatusCode: http.StatusBadRequest},
		{name: "not found", err: model.ErrSessionNotFound, wantStatusCode: http.StatusNotFound},
		{name: "not ready", err: model.ErrNotReady, wantStatusCode: http.StatusConflict},
		{name: "path escape", err: model.ErrPathEscape, wantStatusCode: http.StatusForbidden},
		{name: "unexpected error", err: errors.New("presign failed"), wantStatusCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockDownloadService{
				resolveArtifactFn: func(ctx context.Context, rawID string) (*model.ServableRef, error) {
					return tt.ref, tt.err
				},
			}

			req := httptest.NewRequest(http.MethodGet, "/v1/files/"+uuid.New().String(), nil)
			rec := httptest.NewRecorder()
			newRouter(NewDownloadHandler(m, nil)).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
			if tt.checkResponse != nil {
				tt.checkResponse(t, rec)
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		checks         map[string]HealthCheck
		wantStatusCode int
		wantStatus     string
	}{
		{name: "no checks", wantStatusCode: http.StatusOK, wantStatus: "ok"},
		{
			name: "all healthy",
			checks: map[string]HealthCheck{
				"redis": func(ctx context.Context) error { return nil },
			},
			wantStatusCode: http.StatusOK,
			wantStatus:     "ok",
		},
		{
			name: "dependency down",
			checks: map[string]HealthCheck{
				"redis": func(ctx context.Context) error { return nil },
				"minio": func(ctx context.Context) error { return errors.New("connection refused") },
			},
			wantStatusCode: http.StatusServiceUnavailable,
			wantStatus:     "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checks).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantStatusCode {
				t.Errorf("expected status %d, got %d", tt.wantStatusCode, rec.Code)
			}
			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, resp.Status)
			}
		})
	}
}
