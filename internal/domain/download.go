package domain

import (
	"time"
)

// SessionID names the working directory of one download attempt.
type SessionID string

// String returns the string representation of the SessionID.
func (id SessionID) String() string {
	return string(id)
}

// Metadata holds the display fields of a prepared file. The token store
// never interprets it.
type Metadata struct {
	Title    string `json:"title"`
	Author   string `json:"author,omitempty"`
	Type     string `json:"type"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size"`
}

// Download is a single-use authorization to retrieve one prepared file.
// Records are stored by value and never mutated once issued.
type Download struct {
	Token     string
	FilePath  string
	Metadata  Metadata
	SessionID SessionID
	ExpiresAt time.Time
}

// Expired reports whether the record must be treated as nonexistent at now.
func (d Download) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}
