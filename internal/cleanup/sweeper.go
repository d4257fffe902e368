// Package cleanup bounds the lifetime of per-session working directories
// under the temp root.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// ErrInvalidSession is returned when a session ID could escape the temp root.
var ErrInvalidSession = errors.New("invalid session id")

// Sweeper owns the temp root and the session directories inside it.
type Sweeper struct {
	fs     afero.Fs
	root   string
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewSweeper creates a sweeper for root on fs.
func NewSweeper(fs afero.Fs, root string, maxAge time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		fs:     fs,
		root:   root,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the time source used to age sessions.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Root returns the temp root.
func (s *Sweeper) Root() string {
	return s.root
}

// SessionDir returns the working directory for a session.
func (s *Sweeper) SessionDir(id domain.SessionID) (string, error) {
	name := id.String()
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidSession
	}
	return filepath.Join(s.root, name), nil
}

// Startup wipes the temp root and recreates it empty. Anything left by a
// previous process is unreachable since tokens do not survive restarts.
func (s *Sweeper) Startup(ctx context.Context) error {
	if err := s.fs.RemoveAll(s.root); err != nil {
		return fmt.Errorf("wipe temp root: %w", err)
	}
	if err := s.fs.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("create temp root: %w", err)
	}
	s.logger.Info("temp root reset", "path", s.root)
	return nil
}

// SweepExpired removes session directories last modified more than maxAge ago.
// A missing root is not an error. Failures on single entries are logged and skipped.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("temp root missing, skipping sweep", "path", s.root)
			return 0, nil
		}
		return 0, fmt.Errorf("read temp root: %w", err)
	}

	now := s.now()
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if now.Sub(entry.ModTime()) <= s.maxAge {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		if err := s.fs.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove expired session", "session_id", entry.Name(), "error", err)
			continue
		}
		removed++
		s.logger.Debug("removed expired session", "session_id", entry.Name())
	}

	if removed > 0 {
		s.logger.Info("swept expired sessions", "count", removed, "temp_size", s.HumanSize(ctx))
	}
	return removed, nil
}

// RemoveSession deletes one session directory. Removing a missing session is not an error.
func (s *Sweeper) RemoveSession(ctx context.Context, id domain.SessionID) error {
	dir, err := s.SessionDir(id)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	s.logger.Debug("session removed", "session_id", id)
	return nil
}

// Size returns the total bytes of regular files under the temp root.
func (s *Sweeper) Size(ctx context.Context) (int64, error) {
	var total int64
	err := afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Entries can vanish mid-walk when a sweep or release runs concurrently.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("measure temp root: %w", err)
	}
	return total, nil
}

// HumanSize is Size rendered for logs and status responses.
func (s *Sweeper) HumanSize(ctx context.Context) string {
	n, err := s.Size(ctx)
	if err != nil {
		s.logger.Warn("failed to measure temp root", "error", err)
	}
	return humanize.Bytes(uint64(n))
}
