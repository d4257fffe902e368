package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/iconidentify/clipgrab/internal/cleanup"
	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/downloader"
	"github.com/iconidentify/clipgrab/internal/repository"
)

const eventSource = "download"

var urlPattern = regexp.MustCompile(`https?://\S+`)

// DownloadService prepares videos for download and hands them off through
// one-time tokens.
type DownloadService struct {
	fs        afero.Fs
	tokens    repository.TokenStore
	sweeper   *cleanup.Sweeper
	extractor downloader.Extractor
	events    domain.EventEmitter
	cfg       config.DownloadConfig
	logger    *slog.Logger

	slots chan struct{}

	relMu   sync.Mutex
	pending map[string]pendingRelease
	closed  bool
}

type pendingRelease struct {
	timer    *time.Timer
	download domain.Download
}

// NewDownloadService creates the download service. events may be nil.
func NewDownloadService(
	fs afero.Fs,
	tokens repository.TokenStore,
	sweeper *cleanup.Sweeper,
	extractor downloader.Extractor,
	events domain.EventEmitter,
	cfg config.DownloadConfig,
	logger *slog.Logger,
) *DownloadService {
	if events == nil {
		events = nopEmitter{}
	}
	slots := cfg.MaxConcurrent
	if slots <= 0 {
		slots = 1
	}
	return &DownloadService{
		fs:        fs,
		tokens:    tokens,
		sweeper:   sweeper,
		extractor: extractor,
		events:    events,
		cfg:       cfg,
		logger:    logger,
		slots:     make(chan struct{}, slots),
		pending:   make(map[string]pendingRelease),
	}
}

// PrepareResult is returned once a video is ready to stream.
type PrepareResult struct {
	Token     string
	SessionID domain.SessionID
	Metadata  domain.Metadata
	ExpiresIn time.Duration
}

// CleanURL pulls the first http(s) link out of share text, drops the query
// string, fragment and one trailing slash, and checks the host against the
// allow list.
func CleanURL(raw string, allowed []string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrInvalidURL
	}

	link := urlPattern.FindString(raw)
	if link == "" {
		if strings.ContainsAny(raw, " \t\n") {
			return "", domain.ErrInvalidURL
		}
		link = "https://" + raw
	}

	link, _, _ = strings.Cut(link, "?")
	link, _, _ = strings.Cut(link, "#")
	link = strings.TrimSuffix(link, "/")

	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "", domain.ErrInvalidURL
	}
	if !hostAllowed(u.Hostname(), allowed) {
		return "", domain.ErrInvalidURL
	}
	return link, nil
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Prepare runs the extractor for rawURL in a fresh session directory and
// issues a token for the produced file. On failure the session directory is
// removed and no token exists.
func (s *DownloadService) Prepare(ctx context.Context, rawURL string) (*PrepareResult, error) {
	link, err := CleanURL(rawURL, s.cfg.AllowedDomains)
	if err != nil {
		return nil, domain.NewDownloadError("", "validate", err)
	}

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.slots }()

	session := domain.SessionID(uuid.NewString())
	dir, err := s.sweeper.SessionDir(session)
	if err != nil {
		return nil, domain.NewDownloadError(session, "session", err)
	}
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return nil, domain.NewDownloadError(session, "session", fmt.Errorf("create session dir: %w", err))
	}

	logger := s.logger.With("session_id", session)
	logger.Info("extraction started", "url", link, "tool", s.extractor.Name())
	start := time.Now()

	res, err := s.prepare(ctx, session, dir, link)
	if err != nil {
		if rmErr := s.sweeper.RemoveSession(context.WithoutCancel(ctx), session); rmErr != nil {
			logger.Warn("failed to remove session after error", "error", rmErr)
		}
		logger.Error("prepare failed", "stage", stageOf(err), "error", err)
		s.events.EmitError(domain.EventCategoryExtractor, s.extractor.Name(), "extraction failed", domain.EventMetadata{
			"session_id": session.String(),
			"error":      err.Error(),
		})
		return nil, err
	}

	logger.Info("video prepared",
		"title", res.Metadata.Title,
		"size", humanize.Bytes(uint64(res.Metadata.Size)),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	s.events.EmitSuccess(domain.EventCategoryDownload, eventSource, "video prepared", domain.EventMetadata{
		"session_id": session.String(),
		"title":      res.Metadata.Title,
		"size":       res.Metadata.Size,
	})
	return res, nil
}

func (s *DownloadService) prepare(ctx context.Context, session domain.SessionID, dir, link string) (*PrepareResult, error) {
	extractCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.extractor.Extract(extractCtx, link, dir); err != nil {
		return nil, domain.NewDownloadError(session, "extract", err)
	}

	video, err := downloader.FindVideo(s.fs, dir)
	if err != nil {
		return nil, domain.NewDownloadError(session, "locate", err)
	}

	meta := domain.Metadata{
		Title:    video.Title,
		Type:     "video",
		Filename: video.Filename,
		Size:     video.Size,
	}

	token, err := s.tokens.Issue(ctx, session, video.Path, meta, s.cfg.TokenTTL)
	if err != nil {
		return nil, domain.NewDownloadError(session, "issue", err)
	}

	return &PrepareResult{
		Token:     token,
		SessionID: session,
		Metadata:  meta,
		ExpiresIn: s.cfg.TokenTTL,
	}, nil
}

func stageOf(err error) string {
	var de *domain.DownloadError
	if errors.As(err, &de) {
		return de.Op
	}
	return ""
}

// Stream is an opened prepared file. The caller closes File and then calls
// Release.
type Stream struct {
	Download    domain.Download
	File        io.ReadCloser
	Size        int64
	ContentType string
}

// Open resolves token to its file. With ConsumeOnStream the token is removed
// here, so a second Open of the same token fails.
func (s *DownloadService) Open(ctx context.Context, token string) (*Stream, error) {
	if !domain.ValidToken(token) {
		return nil, domain.ErrInvalidToken
	}

	var (
		rec domain.Download
		err error
	)
	if s.cfg.ConsumeOnStream {
		rec, err = s.tokens.Take(ctx, token)
	} else {
		rec, err = s.tokens.Lookup(ctx, token)
	}
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(rec.FilePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, domain.NewDownloadError(rec.SessionID, "open", err)
		}
		s.logger.Warn("prepared file missing", "session_id", rec.SessionID, "path", rec.FilePath)
		s.discard(ctx, rec)
		return nil, domain.NewDownloadError(rec.SessionID, "open", domain.ErrFileMissing)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		s.discard(ctx, rec)
		return nil, domain.NewDownloadError(rec.SessionID, "open", err)
	}

	return &Stream{
		Download:    rec,
		File:        f,
		Size:        info.Size(),
		ContentType: downloader.DetectContentType(s.fs, rec.FilePath),
	}, nil
}

// discard drops a record that can no longer be streamed, token and session
// directory together.
func (s *DownloadService) discard(ctx context.Context, d domain.Download) {
	ctx = context.WithoutCancel(ctx)
	s.tokens.Remove(ctx, d.Token)
	if err := s.sweeper.RemoveSession(ctx, d.SessionID); err != nil {
		s.logger.Warn("failed to remove unusable session", "session_id", d.SessionID, "error", err)
	}
}

// Release schedules removal of the session directory and token after the
// configured delay. Releasing the same token again restarts the delay.
func (s *DownloadService) Release(d domain.Download) {
	s.relMu.Lock()
	defer s.relMu.Unlock()

	if s.closed {
		go s.release(d)
		return
	}

	if prev, ok := s.pending[d.Token]; ok {
		prev.timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(s.cfg.StreamCleanupDelay, func() {
		s.relMu.Lock()
		if p, ok := s.pending[d.Token]; ok && p.timer == timer {
			delete(s.pending, d.Token)
		}
		s.relMu.Unlock()
		s.release(d)
	})
	s.pending[d.Token] = pendingRelease{timer: timer, download: d}
}

func (s *DownloadService) release(d domain.Download) {
	ctx := context.Background()
	s.tokens.Remove(ctx, d.Token)
	if err := s.sweeper.RemoveSession(ctx, d.SessionID); err != nil {
		s.logger.Warn("failed to release session", "session_id", d.SessionID, "error", err)
		return
	}
	s.logger.Debug("session released", "session_id", d.SessionID)
}

// RecordStreamed logs a completed transfer.
func (s *DownloadService) RecordStreamed(d domain.Download, written int64, elapsed time.Duration) {
	s.logger.Info("video streamed",
		"session_id", d.SessionID,
		"bytes", written,
		"size", humanize.Bytes(uint64(written)),
		"duration", elapsed.Round(time.Millisecond),
	)
	s.events.EmitSuccess(domain.EventCategoryStream, eventSource, "video streamed", domain.EventMetadata{
		"session_id": d.SessionID.String(),
		"bytes":      written,
	})
}

// PendingReleases returns how many releases are waiting on their delay.
func (s *DownloadService) PendingReleases() int {
	s.relMu.Lock()
	defer s.relMu.Unlock()
	return len(s.pending)
}

// Close runs every pending release immediately. Later releases run without delay.
func (s *DownloadService) Close() {
	s.relMu.Lock()
	s.closed = true
	var due []domain.Download
	for token, p := range s.pending {
		if p.timer.Stop() {
			due = append(due, p.download)
		}
		delete(s.pending, token)
	}
	s.relMu.Unlock()

	for _, d := range due {
		s.release(d)
	}
}

// SweepTokens drops expired tokens together with their session directories.
func (s *DownloadService) SweepTokens(ctx context.Context) error {
	expired := s.tokens.SweepExpired(ctx)
	for _, d := range expired {
		if err := s.sweeper.RemoveSession(ctx, d.SessionID); err != nil {
			s.logger.Warn("failed to remove expired session", "session_id", d.SessionID, "error", err)
		}
	}
	if len(expired) > 0 {
		s.events.EmitInfo(domain.EventCategoryCleanup, eventSource, "expired tokens swept", domain.EventMetadata{
			"count": len(expired),
		})
	}
	return nil
}

// SweepFiles removes stale session directories left behind by abandoned downloads.
func (s *DownloadService) SweepFiles(ctx context.Context) error {
	removed, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		s.events.EmitInfo(domain.EventCategoryCleanup, eventSource, "stale sessions removed", domain.EventMetadata{
			"count": removed,
		})
	}
	return nil
}

// Status describes the handoff state.
type Status struct {
	ActiveDownloads int
	TempBytes       int64
	Tool            string
}

// Status sweeps expired tokens and reports what is left.
func (s *DownloadService) Status(ctx context.Context) Status {
	_ = s.SweepTokens(ctx)

	size, err := s.sweeper.Size(ctx)
	if err != nil {
		s.logger.Warn("failed to measure temp root", "error", err)
		s.events.EmitWarning(domain.EventCategoryDisk, eventSource, "temp root unreadable", domain.EventMetadata{
			"error": err.Error(),
		})
	}
	return Status{
		ActiveDownloads: s.tokens.Count(),
		TempBytes:       size,
		Tool:            s.extractor.Name(),
	}
}

// CheckReady reports whether downloads can be served: the temp root must be
// writable and the tool installed.
func (s *DownloadService) CheckReady(ctx context.Context) error {
	f, err := afero.TempFile(s.fs, s.sweeper.Root(), ".ready-*")
	if err != nil {
		s.events.EmitWarning(domain.EventCategoryDisk, eventSource, "temp root not writable", domain.EventMetadata{
			"path":  s.sweeper.Root(),
			"error": err.Error(),
		})
		return fmt.Errorf("temp root not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	_ = s.fs.Remove(name)

	if err := s.extractor.Check(); err != nil {
		s.events.EmitWarning(domain.EventCategorySystem, s.extractor.Name(), "extraction tool unavailable", domain.EventMetadata{
			"error": err.Error(),
		})
		return err
	}
	return nil
}

type nopEmitter struct{}

func (nopEmitter) Emit(domain.Event)                                                      {}
func (nopEmitter) EmitInfo(domain.EventCategory, string, string, domain.EventMetadata)    {}
func (nopEmitter) EmitWarning(domain.EventCategory, string, string, domain.EventMetadata) {}
func (nopEmitter) EmitError(domain.EventCategory, string, string, domain.EventMetadata)   {}
func (nopEmitter) EmitSuccess(domain.EventCategory, string, string, domain.EventMetadata) {}
