package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"

	"github.com/lrstanley/go-ytdlp"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// outputTemplate names files after the post title.
const outputTemplate = "%(title)s.%(ext)s"

// YTDLPExtractor drives yt-dlp through go-ytdlp.
type YTDLPExtractor struct {
	binary string
	logger *slog.Logger
}

// NewYTDLPExtractor creates an extractor for the given yt-dlp binary name or path.
func NewYTDLPExtractor(binary string, logger *slog.Logger) *YTDLPExtractor {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLPExtractor{binary: binary, logger: logger}
}

// Name implements Extractor.
func (y *YTDLPExtractor) Name() string {
	return "yt-dlp"
}

// Check implements Extractor.
func (y *YTDLPExtractor) Check() error {
	_, err := exec.LookPath(y.binary)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrToolMissing, y.binary)
	}
	return nil
}

// Extract implements Extractor.
func (y *YTDLPExtractor) Extract(ctx context.Context, url, dir string) error {
	path, err := exec.LookPath(y.binary)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrToolMissing, y.binary)
	}

	cmd := ytdlp.New().
		SetExecutable(path).
		NoWarnings().
		Output(filepath.Join(dir, outputTemplate))

	y.logger.Debug("running yt-dlp", "dir", dir)
	if _, err := cmd.Run(ctx, url); err != nil {
		return classify(ctx, y.Name(), err)
	}
	return nil
}
