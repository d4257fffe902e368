package downloader

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// videoTypes maps accepted extensions to the content type served when
// sniffing is inconclusive.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

// sniffLen matches the header size mimetype reads by default.
const sniffLen = 3072

// Video describes the file a tool produced.
type Video struct {
	Path        string
	Filename    string
	Title       string
	Ext         string
	Size        int64
	ContentType string
}

// IsVideoFile reports whether name has an accepted video extension.
func IsVideoFile(name string) bool {
	_, ok := videoTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// FindVideo returns the first video file in dir, in name order.
func FindVideo(fs afero.Fs, dir string) (*Video, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !IsVideoFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		ext := filepath.Ext(entry.Name())
		return &Video{
			Path:        path,
			Filename:    entry.Name(),
			Title:       strings.TrimSuffix(entry.Name(), ext),
			Ext:         strings.ToLower(ext),
			Size:        entry.Size(),
			ContentType: DetectContentType(fs, path),
		}, nil
	}

	return nil, domain.ErrNoVideoFile
}

// DetectContentType sniffs the file header and falls back to the extension
// when the header is not recognized as video.
func DetectContentType(fs afero.Fs, path string) string {
	fallback := videoTypes[strings.ToLower(filepath.Ext(path))]
	if fallback == "" {
		fallback = "video/mp4"
	}

	f, err := fs.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fallback
	}

	mtype := mimetype.Detect(head[:n])
	if mime := mtype.String(); strings.HasPrefix(mime, "video/") {
		// Strip parameters such as codecs.
		if i := strings.IndexByte(mime, ';'); i >= 0 {
			mime = mime[:i]
		}
		return mime
	}
	return fallback
}
