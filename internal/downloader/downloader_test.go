package downloader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"clip.mp4", true},
		{"clip.MP4", true},
		{"clip.mov", true},
		{"clip.webm", true},
		{"clip.mp4.part", false},
		{"clip.jpg", false},
		{"clip", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVideoFile(tt.name); got != tt.want {
				t.Errorf("IsVideoFile(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestFindVideo(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/tmp/clipgrab/sess"
	_ = fs.MkdirAll(dir, 0755)
	_ = afero.WriteFile(fs, filepath.Join(dir, "a.jpg"), []byte("jpeg"), 0644)
	_ = afero.WriteFile(fs, filepath.Join(dir, "b.mp4.part"), []byte("partial"), 0644)
	_ = afero.WriteFile(fs, filepath.Join(dir, "Sunset Walk.mp4"), stubMP4, 0644)

	v, err := FindVideo(fs, dir)
	if err != nil {
		t.Fatalf("FindVideo failed: %v", err)
	}
	if v.Filename != "Sunset Walk.mp4" {
		t.Errorf("Filename = %q", v.Filename)
	}
	if v.Title != "Sunset Walk" {
		t.Errorf("Title = %q, want %q", v.Title, "Sunset Walk")
	}
	if v.Ext != ".mp4" {
		t.Errorf("Ext = %q", v.Ext)
	}
	if v.Size != int64(len(stubMP4)) {
		t.Errorf("Size = %d, want %d", v.Size, len(stubMP4))
	}
	if v.Path != filepath.Join(dir, "Sunset Walk.mp4") {
		t.Errorf("Path = %q", v.Path)
	}
	if v.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q, want video/mp4", v.ContentType)
	}
}

func TestFindVideo_NoVideo(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/tmp/clipgrab/empty"
	_ = fs.MkdirAll(dir, 0755)
	_ = afero.WriteFile(fs, filepath.Join(dir, "cover.jpg"), []byte("jpeg"), 0644)

	if _, err := FindVideo(fs, dir); !errors.Is(err, domain.ErrNoVideoFile) {
		t.Errorf("expected ErrNoVideoFile, got %v", err)
	}
}

func TestFindVideo_MissingDir(t *testing.T) {
	if _, err := FindVideo(afero.NewMemMapFs(), "/nope"); err == nil {
		t.Error("expected error for missing dir")
	}
}

func TestDetectContentType_Fallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/v/clip.webm", []byte("not really a video"), 0644)
	_ = afero.WriteFile(fs, "/v/clip.mov", nil, 0644)

	if got := DetectContentType(fs, "/v/clip.webm"); got != "video/webm" {
		t.Errorf("webm ContentType = %q, want video/webm", got)
	}
	if got := DetectContentType(fs, "/v/clip.mov"); got != "video/quicktime" {
		t.Errorf("mov ContentType = %q, want video/quicktime", got)
	}
	if got := DetectContentType(fs, "/v/missing.mp4"); got != "video/mp4" {
		t.Errorf("missing ContentType = %q, want video/mp4", got)
	}
}

func TestCommandExtractor_Args(t *testing.T) {
	c := NewCommandExtractor("yt-dlp", nil, testLogger())

	got := c.Args("https://www.xiaohongshu.com/explore/abc", "/tmp/s1")
	want := []string{"-o", "/tmp/s1/%(title)s.%(ext)s", "--no-warnings", "https://www.xiaohongshu.com/explore/abc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Args = %v, want %v", got, want)
	}

	custom := NewCommandExtractor("fetcher", []string{"--out={dir}", "{url}"}, testLogger())
	got = custom.Args("u", "d")
	if !reflect.DeepEqual(got, []string{"--out=d", "u"}) {
		t.Errorf("custom Args = %v", got)
	}
}

func TestCommandExtractor_ToolMissing(t *testing.T) {
	c := NewCommandExtractor("clipgrab-no-such-binary", nil, testLogger())

	if err := c.Check(); !errors.Is(err, domain.ErrToolMissing) {
		t.Errorf("Check error = %v, want ErrToolMissing", err)
	}
	if err := c.Extract(context.Background(), "u", t.TempDir()); !errors.Is(err, domain.ErrToolMissing) {
		t.Errorf("Extract error = %v, want ErrToolMissing", err)
	}
}

func TestCommandExtractor_Success(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	c := NewCommandExtractor("sh", []string{"-c", `printf video > "$0/clip.mp4"`, "{dir}"}, testLogger())

	if err := c.Extract(context.Background(), "u", dir); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	v, err := FindVideo(afero.NewOsFs(), dir)
	if err != nil {
		t.Fatalf("FindVideo failed: %v", err)
	}
	if v.Size != 5 {
		t.Errorf("Size = %d, want 5", v.Size)
	}
}

func TestCommandExtractor_NonZeroExit(t *testing.T) {
	requireShell(t)

	c := NewCommandExtractor("sh", []string{"-c", "echo boom >&2; exit 3"}, testLogger())

	err := c.Extract(context.Background(), "u", t.TempDir())
	if !errors.Is(err, domain.ErrExtractFailed) {
		t.Errorf("expected ErrExtractFailed, got %v", err)
	}
}

func TestCommandExtractor_Timeout(t *testing.T) {
	requireShell(t)

	c := NewCommandExtractor("sh", []string{"-c", "exec sleep 5"}, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Extract(ctx, "u", t.TempDir())
	if !errors.Is(err, domain.ErrExtractTimeout) {
		t.Errorf("expected ErrExtractTimeout, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("extract did not stop at the deadline")
	}
}

func TestYTDLPExtractor_ToolMissing(t *testing.T) {
	y := NewYTDLPExtractor("clipgrab-no-such-ytdlp", testLogger())

	if err := y.Check(); !errors.Is(err, domain.ErrToolMissing) {
		t.Errorf("Check error = %v, want ErrToolMissing", err)
	}
	if err := y.Extract(context.Background(), "u", t.TempDir()); !errors.Is(err, domain.ErrToolMissing) {
		t.Errorf("Extract error = %v, want ErrToolMissing", err)
	}
}

func TestMockExtractor(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/tmp/clipgrab/m"
	_ = fs.MkdirAll(dir, 0755)

	m := NewMockExtractor(fs, "demo", 0)
	if err := m.Extract(context.Background(), "u", dir); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	v, err := FindVideo(fs, dir)
	if err != nil {
		t.Fatalf("FindVideo failed: %v", err)
	}
	if v.Filename != "demo.mp4" {
		t.Errorf("Filename = %q, want demo.mp4", v.Filename)
	}
}

func TestMockExtractor_Timeout(t *testing.T) {
	m := NewMockExtractor(afero.NewMemMapFs(), "", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := m.Extract(ctx, "u", "/d"); !errors.Is(err, domain.ErrExtractTimeout) {
		t.Errorf("expected ErrExtractTimeout, got %v", err)
	}
}

func TestNew(t *testing.T) {
	fs := afero.NewMemMapFs()
	tests := []struct {
		tool    string
		want    string
		wantErr bool
	}{
		{config.ToolYTDLP, "yt-dlp", false},
		{config.ToolMock, "mock", false},
		{config.ToolCommand, "fetcher", false},
		{"curl", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			ex, err := New(config.DownloadConfig{Tool: tt.tool, Binary: "fetcher"}, fs, testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && ex.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", ex.Name(), tt.want)
			}
		})
	}
}
