package domain

import "errors"

// Domain errors.
var (
	// ErrInvalidURL is returned when the submitted link is empty or not on an allowed domain.
	ErrInvalidURL = errors.New("invalid post URL")

	// ErrInvalidToken is returned when a token does not have the issued shape.
	ErrInvalidToken = errors.New("invalid token format")

	// ErrTokenNotFound is returned for unknown, removed and expired tokens alike.
	ErrTokenNotFound = errors.New("invalid or expired token")

	// ErrFileMissing is returned when a token is valid but its file is gone from disk.
	ErrFileMissing = errors.New("prepared file not found")

	// ErrExtractTimeout is returned when the external tool exceeds its deadline.
	ErrExtractTimeout = errors.New("extraction timed out")

	// ErrToolMissing is returned when the external tool is not installed.
	ErrToolMissing = errors.New("extraction tool not installed")

	// ErrNoVideoFile is returned when the tool exited cleanly but wrote no video.
	ErrNoVideoFile = errors.New("no video file produced")

	// ErrExtractFailed is returned when the external tool exits non-zero.
	ErrExtractFailed = errors.New("extraction failed")

	// ErrRateLimited is returned when a client sends prepare requests too quickly.
	ErrRateLimited = errors.New("too many requests, please slow down")

	// ErrLimitReached is returned when the daily download quota is used up.
	ErrLimitReached = errors.New("daily download limit reached")

	// ErrCooldownActive is returned when a download is attempted during the cooldown window.
	ErrCooldownActive = errors.New("download cooldown active")
)

// DownloadError wraps an error with the session and stage it happened in.
type DownloadError struct {
	SessionID SessionID
	Op        string
	Err       error
}

func (e *DownloadError) Error() string {
	if e.SessionID != "" {
		return e.Op + " [" + e.SessionID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewDownloadError creates a new DownloadError.
func NewDownloadError(sessionID SessionID, op string, err error) *DownloadError {
	return &DownloadError{
		SessionID: sessionID,
		Op:        op,
		Err:       err,
	}
}
