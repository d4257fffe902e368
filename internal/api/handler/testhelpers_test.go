package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withURLParam attaches a chi route parameter to the request.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// mockDownloadService is a test implementation of DownloadService.
type mockDownloadService struct {
	mu sync.Mutex

	prepareResult *service.PrepareResult
	prepareErr    error
	prepareURL    string
	prepareCalls  int

	openStream *service.Stream
	openErr    error
	openCalls  int

	released []domain.Download
	streamed []int64

	status      service.Status
	statusCalls int
	readyErr    error
}

func (m *mockDownloadService) Prepare(ctx context.Context, rawURL string) (*service.PrepareResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepareCalls++
	m.prepareURL = rawURL
	if m.prepareErr != nil {
		return nil, m.prepareErr
	}
	return m.prepareResult, nil
}

func (m *mockDownloadService) Open(ctx context.Context, token string) (*service.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.openStream, nil
}

func (m *mockDownloadService) Release(d domain.Download) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, d)
}

func (m *mockDownloadService) RecordStreamed(d domain.Download, written int64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamed = append(m.streamed, written)
}

func (m *mockDownloadService) Status(ctx context.Context) service.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	return m.status
}

func (m *mockDownloadService) CheckReady(ctx context.Context) error {
	return m.readyErr
}

// streamOf builds an open stream over body.
func streamOf(title, path, body string) *service.Stream {
	return &service.Stream{
		Download: domain.Download{
			Token:     strings.Repeat("a", domain.TokenLength),
			FilePath:  path,
			SessionID: "sess-1",
			Metadata:  domain.Metadata{Title: title, Type: "video", Size: int64(len(body))},
		},
		File:        io.NopCloser(strings.NewReader(body)),
		Size:        int64(len(body)),
		ContentType: "video/mp4",
	}
}
