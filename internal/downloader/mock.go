package downloader

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// stubMP4 is a minimal ISO BMFF header that sniffs as video/mp4.
var stubMP4 = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
	'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
	'i', 's', 'o', 'm', 'i', 's', 'o', '2',
}

// MockExtractor writes a stub video instead of running a tool. Used for demos
// and tests.
type MockExtractor struct {
	fs    afero.Fs
	title string
	delay time.Duration
}

// NewMockExtractor creates a mock that writes "<title>.mp4" into the session dir.
func NewMockExtractor(fs afero.Fs, title string, delay time.Duration) *MockExtractor {
	if title == "" {
		title = "sample video"
	}
	return &MockExtractor{fs: fs, title: title, delay: delay}
}

// Name implements Extractor.
func (m *MockExtractor) Name() string {
	return "mock"
}

// Check implements Extractor.
func (m *MockExtractor) Check() error {
	return nil
}

// Extract implements Extractor.
func (m *MockExtractor) Extract(ctx context.Context, url, dir string) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return classify(ctx, m.Name(), ctx.Err())
		}
	}

	path := filepath.Join(dir, m.title+".mp4")
	if err := afero.WriteFile(m.fs, path, stubMP4, 0644); err != nil {
		return fmt.Errorf("%w: mock: %v", domain.ErrExtractFailed, err)
	}
	return nil
}
