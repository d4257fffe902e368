// Package downloader runs the external tools that turn a post link into a
// video file inside a session directory.
package downloader

import (
	"context"
)

// Extractor writes exactly one video for url into dir and returns when the
// tool has exited.
type Extractor interface {
	// Name identifies the tool in logs and status output.
	Name() string

	// Check reports whether the tool can run at all. It returns
	// domain.ErrToolMissing when the binary is not installed.
	Check() error

	// Extract runs the tool. Deadline expiry yields domain.ErrExtractTimeout,
	// a missing binary domain.ErrToolMissing and a failed run domain.ErrExtractFailed.
	Extract(ctx context.Context, url, dir string) error
}
