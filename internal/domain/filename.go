package domain

import (
	"strings"
)

// MaxFilenameLength caps the sanitized download name, in runes.
const MaxFilenameLength = 200

var filenameReplacer = strings.NewReplacer(
	"/", "", "\\", "",
	"<", "", ">", "", ":", "", "\"", "", "|", "", "?", "", "*", "",
)

// SanitizeFilename turns an untrusted title into a name that is safe to put
// in a Content-Disposition header. It may return "".
func SanitizeFilename(title string) string {
	name := filenameReplacer.Replace(title)
	// Removing ".." can join two dots into a new pair ("...." -> ""), loop until stable.
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", "")
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if runes := []rune(name); len(runes) > MaxFilenameLength {
		name = string(runes[:MaxFilenameLength])
	}
	// A trailing dot would meet the extension's dot and form "..".
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(name), ". "))
}

// AttachmentName returns the filename offered to the client for a title.
func AttachmentName(title, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	name := SanitizeFilename(title)
	if name == "" {
		name = "video"
	}
	return name + ext
}
