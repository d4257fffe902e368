package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/service"
)

// maxPrepareBody bounds the POST /download request body.
const maxPrepareBody = 64 << 10

// DownloadService is what the download endpoints need from the service layer.
type DownloadService interface {
	Prepare(ctx context.Context, rawURL string) (*service.PrepareResult, error)
	Open(ctx context.Context, token string) (*service.Stream, error)
	Release(d domain.Download)
	RecordStreamed(d domain.Download, written int64, elapsed time.Duration)
	Status(ctx context.Context) service.Status
}

// DownloadHandler serves the prepare, stream and status endpoints.
type DownloadHandler struct {
	svc    DownloadService
	logger *slog.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(svc DownloadService, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		svc:    svc,
		logger: logger,
	}
}

// PrepareRequest is the JSON body of POST /download.
type PrepareRequest struct {
	URL string `json:"url"`
}

// PrepareResponse is returned once the video is ready.
type PrepareResponse struct {
	Success   bool            `json:"success"`
	Token     string          `json:"token"`
	Metadata  domain.Metadata `json:"metadata"`
	ExpiresIn int             `json:"expires_in"`
	Message   string          `json:"message"`
}

// StatusResponse is returned by GET /download.
type StatusResponse struct {
	Status          string `json:"status"`
	ActiveDownloads int    `json:"active_downloads"`
	TempBytes       int64  `json:"temp_bytes"`
	TempHuman       string `json:"temp_human"`
	Tool            string `json:"tool"`
}

// Prepare handles POST /download.
func (h *DownloadHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPrepareBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "please provide a video link")
		return
	}

	res, err := h.svc.Prepare(r.Context(), req.URL)
	if err != nil {
		status, msg := prepareErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("prepare failed", "error", err)
		} else {
			h.logger.Info("prepare rejected", "status", status, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, PrepareResponse{
		Success:   true,
		Token:     res.Token,
		Metadata:  res.Metadata,
		ExpiresIn: int(res.ExpiresIn.Seconds()),
		Message:   "video is ready, click to download",
	})
}

func prepareErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidURL):
		return http.StatusBadRequest, "please provide a valid post link"
	case errors.Is(err, domain.ErrExtractTimeout):
		return http.StatusRequestTimeout, "download timed out, please try again later"
	case errors.Is(err, domain.ErrToolMissing):
		return http.StatusServiceUnavailable, "download engine is not installed"
	case errors.Is(err, domain.ErrNoVideoFile):
		return http.StatusInternalServerError, "no video found in this post"
	default:
		return http.StatusInternalServerError, "server error"
	}
}

// Stream handles GET /download/{token}.
func (h *DownloadHandler) Stream(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !domain.ValidToken(token) {
		h.writeStreamError(w, domain.ErrInvalidToken)
		return
	}

	stream, err := h.svc.Open(r.Context(), token)
	if err != nil {
		h.writeStreamError(w, err)
		return
	}
	defer h.svc.Release(stream.Download)

	name := domain.AttachmentName(stream.Download.Metadata.Title, filepath.Ext(stream.Download.FilePath))
	hdr := w.Header()
	hdr.Set("Content-Type", stream.ContentType)
	hdr.Set("Content-Disposition", contentDisposition(name))
	hdr.Set("Content-Length", strconv.FormatInt(stream.Size, 10))
	hdr.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	hdr.Set("Pragma", "no-cache")
	hdr.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)

	logger := h.logger.With("session_id", stream.Download.SessionID)
	logger.Info("streaming file", "filename", name, "size", humanize.Bytes(uint64(stream.Size)))

	start := time.Now()
	written, err := io.Copy(w, stream.File)
	stream.File.Close()
	if err != nil {
		logger.Warn("stream interrupted", "written", written, "error", err)
		return
	}
	h.svc.RecordStreamed(stream.Download, written, time.Since(start))
}

func (h *DownloadHandler) writeStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		h.logger.Info("invalid token format")
		writeError(w, http.StatusBadRequest, "invalid token format")
	case errors.Is(err, domain.ErrTokenNotFound):
		h.logger.Info("token not found or expired")
		writeError(w, http.StatusNotFound, "invalid or expired token")
	case errors.Is(err, domain.ErrFileMissing):
		h.logger.Error("prepared file missing", "error", err)
		writeError(w, http.StatusNotFound, "file not found")
	default:
		h.logger.Error("failed to open prepared file", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to stream file")
	}
}

// contentDisposition builds an attachment header. Non-ASCII names also get
// an RFC 5987 filename* parameter.
func contentDisposition(name string) string {
	v := fmt.Sprintf("attachment; filename=%q", name)
	for i := 0; i < len(name); i++ {
		if name[i] >= utf8.RuneSelf {
			return v + "; filename*=UTF-8''" + url.PathEscape(name)
		}
	}
	return v
}

// Status handles GET /download.
func (h *DownloadHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Status(r.Context())
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:          "ok",
		ActiveDownloads: st.ActiveDownloads,
		TempBytes:       st.TempBytes,
		TempHuman:       humanize.Bytes(uint64(st.TempBytes)),
		Tool:            st.Tool,
	})
}
