package downloader

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/iconidentify/clipgrab/internal/config"
)

// New builds the extractor selected by cfg.Tool.
func New(cfg config.DownloadConfig, fs afero.Fs, logger *slog.Logger) (Extractor, error) {
	switch cfg.Tool {
	case config.ToolYTDLP:
		return NewYTDLPExtractor(cfg.Binary, logger), nil
	case config.ToolCommand:
		return NewCommandExtractor(cfg.Binary, cfg.Args, logger), nil
	case config.ToolMock:
		return NewMockExtractor(fs, "", 0), nil
	default:
		return nil, fmt.Errorf("unknown download tool %q", cfg.Tool)
	}
}
