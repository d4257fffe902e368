package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Token Tests
// =============================================================================

func TestNewToken_Format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken() error = %v", err)
		}
		if !ValidToken(tok) {
			t.Fatalf("NewToken() = %q, not a valid token", tok)
		}
		if seen[tok] {
			t.Fatalf("NewToken() returned duplicate %q", tok)
		}
		seen[tok] = true
	}
}

func TestValidToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"valid", "0123456789abcdef0123456789abcdef", true},
		{"empty", "", false},
		{"too short", "0123456789abcdef", false},
		{"too long", "0123456789abcdef0123456789abcdef0", false},
		{"uppercase hex", "0123456789ABCDEF0123456789ABCDEF", false},
		{"non hex", "0123456789abcdef0123456789abcdeg", false},
		{"path traversal", "../../../../../../../etc/passwd00", false},
		{"legacy prefix", "tok_0123456789abcdef0123456789ab", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidToken(tt.token); got != tt.want {
				t.Errorf("ValidToken(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Download Tests
// =============================================================================

func TestDownload_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := Download{ExpiresAt: now}

	if d.Expired(now.Add(-time.Second)) {
		t.Error("record should be live before ExpiresAt")
	}
	if d.Expired(now) {
		t.Error("record should still be live exactly at ExpiresAt")
	}
	if !d.Expired(now.Add(time.Second)) {
		t.Error("record should be expired after ExpiresAt")
	}
}

// =============================================================================
// Filename Tests
// =============================================================================

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"plain", "My trip to Kyoto", "My trip to Kyoto"},
		{"traversal", "../../etc/passwd", "etcpasswd"},
		{"backslashes", `..\..\windows\system32`, "windowssystem32"},
		{"special chars", `a<b>c:d"e|f?g*h`, "abcdefgh"},
		{"dots collapse", "....", ""},
		{"surrounding space", "  hello  ", "hello"},
		{"control chars", "bad\r\nheader", "badheader"},
		{"unicode kept", "小红书视频", "小红书视频"},
		{"trailing dots", "Wow...", "Wow"},
		{"trailing dot before space", "end . ", "end"},
		{"inner dot kept", "v1.2 release", "v1.2 release"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.title); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename_CapsLength(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("视", 500))
	if n := len([]rune(got)); n != MaxFilenameLength {
		t.Errorf("length = %d, want %d", n, MaxFilenameLength)
	}
}

func TestAttachmentName(t *testing.T) {
	if got := AttachmentName("../../etc/passwd", ".mp4"); got != "etcpasswd.mp4" {
		t.Errorf("AttachmentName() = %q", got)
	}
	if got := AttachmentName("/..//", ""); got != "video.mp4" {
		t.Errorf("AttachmentName() fallback = %q, want video.mp4", got)
	}
	for _, bad := range []string{"/", "\\", ".."} {
		if strings.Contains(strings.TrimSuffix(AttachmentName("a/../b\\..c", ".mp4"), ".mp4"), bad) {
			t.Errorf("attachment name contains %q", bad)
		}
	}

	tests := []struct {
		title string
		want  string
	}{
		{"Wow...", "Wow.mp4"},
		{"a.", "a.mp4"},
		{".", "video.mp4"},
		{"end./", "end.mp4"},
		{"end. /", "end.mp4"},
	}
	for _, tt := range tests {
		got := AttachmentName(tt.title, ".mp4")
		if got != tt.want {
			t.Errorf("AttachmentName(%q) = %q, want %q", tt.title, got, tt.want)
		}
		if strings.Contains(got, "..") {
			t.Errorf("AttachmentName(%q) = %q contains ..", tt.title, got)
		}
	}
}

// =============================================================================
// Error Tests
// =============================================================================

func TestDownloadError(t *testing.T) {
	err := NewDownloadError("sess-1", "extract", ErrExtractTimeout)

	if !errors.Is(err, ErrExtractTimeout) {
		t.Error("DownloadError should unwrap to the wrapped sentinel")
	}
	if got := err.Error(); got != "extract [sess-1]: extraction timed out" {
		t.Errorf("Error() = %q", got)
	}

	noSession := NewDownloadError("", "validate", ErrInvalidURL)
	if got := noSession.Error(); got != "validate: invalid post URL" {
		t.Errorf("Error() = %q", got)
	}
}

func TestEventMetadata_ToJSON(t *testing.T) {
	var empty EventMetadata
	if empty.ToJSON() != nil {
		t.Error("nil metadata should encode to nil")
	}
	got := string(EventMetadata{"session_id": "abc"}.ToJSON())
	if got != `{"session_id":"abc"}` {
		t.Errorf("ToJSON() = %s", got)
	}
}
