package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/service"
)

const validToken = "0123456789abcdef0123456789abcdef"

func TestNewDownloadHandler(t *testing.T) {
	h := NewDownloadHandler(&mockDownloadService{}, testLogger())
	if h == nil {
		t.Fatal("handler should not be nil")
	}
}

func TestDownloadHandler_Prepare(t *testing.T) {
	svc := &mockDownloadService{
		prepareResult: &service.PrepareResult{
			Token:     validToken,
			Metadata:  domain.Metadata{Title: "Sunset", Type: "video", Filename: "Sunset.mp4", Size: 2048},
			ExpiresIn: 5 * time.Minute,
		},
	}
	h := NewDownloadHandler(svc, testLogger())

	body := `{"url":"https://www.xiaohongshu.com/explore/abc"}`
	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Prepare(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if svc.prepareURL != "https://www.xiaohongshu.com/explore/abc" {
		t.Errorf("service got url %q", svc.prepareURL)
	}

	var resp PrepareResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success || resp.Token != validToken {
		t.Errorf("response = %+v", resp)
	}
	if resp.Metadata.Title != "Sunset" || resp.Metadata.Size != 2048 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	if resp.ExpiresIn != 300 {
		t.Errorf("expires_in = %d, want 300", resp.ExpiresIn)
	}
	if resp.Message == "" {
		t.Error("message should not be empty")
	}
}

func TestDownloadHandler_PrepareBadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "not json"},
		{"empty url", `{"url":""}`},
		{"missing url", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockDownloadService{}
			h := NewDownloadHandler(svc, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/download", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			h.Prepare(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if svc.prepareCalls != 0 {
				t.Error("service should not be called")
			}
		})
	}
}

func TestDownloadHandler_PrepareErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid url", domain.NewDownloadError("", "validate", domain.ErrInvalidURL), http.StatusBadRequest},
		{"timeout", domain.NewDownloadError("s", "extract", domain.ErrExtractTimeout), http.StatusRequestTimeout},
		{"tool missing", domain.NewDownloadError("s", "extract", fmt.Errorf("%w: yt-dlp", domain.ErrToolMissing)), http.StatusServiceUnavailable},
		{"tool failed", domain.NewDownloadError("s", "extract", domain.ErrExtractFailed), http.StatusInternalServerError},
		{"no video", domain.NewDownloadError("s", "locate", domain.ErrNoVideoFile), http.StatusInternalServerError},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDownloadHandler(&mockDownloadService{prepareErr: tt.err}, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(`{"url":"x"}`))
			w := httptest.NewRecorder()
			h.Prepare(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Success || resp.Error == "" {
				t.Errorf("response = %+v", resp)
			}
			if strings.Contains(resp.Error, "disk full") || strings.Contains(resp.Error, "yt-dlp") {
				t.Errorf("internal detail leaked: %q", resp.Error)
			}
		})
	}
}

func TestDownloadHandler_Stream(t *testing.T) {
	svc := &mockDownloadService{openStream: streamOf("My: Trip/2024", "/tmp/clipgrab/s/x.mp4", "videobytes")}
	h := NewDownloadHandler(svc, testLogger())

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/download/"+validToken, nil), "token", validToken)
	w := httptest.NewRecorder()
	h.Stream(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "videobytes" {
		t.Errorf("body = %q", w.Body.String())
	}

	wantHeaders := map[string]string{
		"Content-Type":        "video/mp4",
		"Content-Disposition": `attachment; filename="My Trip2024.mp4"`,
		"Content-Length":      "10",
		"Cache-Control":       "no-cache, no-store, must-revalidate",
		"Pragma":              "no-cache",
		"Expires":             "0",
	}
	for k, want := range wantHeaders {
		if got := w.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}

	if len(svc.released) != 1 {
		t.Errorf("Release called %d times, want 1", len(svc.released))
	}
	if len(svc.streamed) != 1 || svc.streamed[0] != 10 {
		t.Errorf("streamed = %v, want [10]", svc.streamed)
	}
}

func TestDownloadHandler_StreamFilenameFallback(t *testing.T) {
	tests := []struct {
		title string
		path  string
		want  string
	}{
		{"", "/t/s/x.mp4", `attachment; filename="video.mp4"`},
		{"../..", "/t/s/x.mp4", `attachment; filename="video.mp4"`},
		{"clip", "/t/s/x.webm", `attachment; filename="clip.webm"`},
		{"Wow...", "/t/s/x.mp4", `attachment; filename="Wow.mp4"`},
		{".", "/t/s/x.mp4", `attachment; filename="video.mp4"`},
		{"日落", "/t/s/x.mp4", `attachment; filename="日落.mp4"; filename*=UTF-8''%E6%97%A5%E8%90%BD.mp4`},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			svc := &mockDownloadService{openStream: streamOf(tt.title, tt.path, "x")}
			h := NewDownloadHandler(svc, testLogger())

			req := withURLParam(httptest.NewRequest(http.MethodGet, "/download/"+validToken, nil), "token", validToken)
			w := httptest.NewRecorder()
			h.Stream(w, req)

			if got := w.Header().Get("Content-Disposition"); got != tt.want {
				t.Errorf("Content-Disposition = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDownloadHandler_StreamInvalidTokenFormat(t *testing.T) {
	tokens := []string{
		"",
		"short",
		"0123456789ABCDEF0123456789ABCDEF",
		"0123456789abcdef0123456789abcdeg",
		"0123456789abcdef0123456789abcdef0",
		"../../../../etc/passwd",
	}

	for _, token := range tokens {
		t.Run(token, func(t *testing.T) {
			svc := &mockDownloadService{}
			h := NewDownloadHandler(svc, testLogger())

			req := withURLParam(httptest.NewRequest(http.MethodGet, "/download/x", nil), "token", token)
			w := httptest.NewRecorder()
			h.Stream(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if svc.openCalls != 0 {
				t.Errorf("Open called %d times for malformed token", svc.openCalls)
			}
		})
	}
}

func TestDownloadHandler_StreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"invalid token", domain.ErrInvalidToken, http.StatusBadRequest, "invalid token format"},
		{"not found", domain.ErrTokenNotFound, http.StatusNotFound, "invalid or expired token"},
		{"file missing", domain.NewDownloadError("s", "open", domain.ErrFileMissing), http.StatusNotFound, "file not found"},
		{"other", errors.New("io"), http.StatusInternalServerError, "failed to stream file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockDownloadService{openErr: tt.err}
			h := NewDownloadHandler(svc, testLogger())

			req := withURLParam(httptest.NewRequest(http.MethodGet, "/download/"+validToken, nil), "token", validToken)
			w := httptest.NewRecorder()
			h.Stream(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			json.NewDecoder(w.Body).Decode(&resp)
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
			if len(svc.released) != 0 {
				t.Error("nothing to release when Open fails")
			}
		})
	}
}

func TestDownloadHandler_Status(t *testing.T) {
	svc := &mockDownloadService{status: service.Status{ActiveDownloads: 3, TempBytes: 1500, Tool: "yt-dlp"}}
	h := NewDownloadHandler(svc, testLogger())

	w := httptest.NewRecorder()
	h.Status(w, httptest.NewRequest(http.MethodGet, "/download", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := StatusResponse{Status: "ok", ActiveDownloads: 3, TempBytes: 1500, TempHuman: "1.5 kB", Tool: "yt-dlp"}
	if resp != want {
		t.Errorf("response = %+v, want %+v", resp, want)
	}
	if svc.statusCalls != 1 {
		t.Errorf("Status called %d times", svc.statusCalls)
	}
}
