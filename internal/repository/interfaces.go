package repository

import (
	"context"
	"time"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// TokenStore brokers the handoff between a prepared file and the request
// that streams it.
type TokenStore interface {
	// Issue registers a new record and returns its token. It never touches the filesystem.
	Issue(ctx context.Context, sessionID domain.SessionID, filePath string, metadata domain.Metadata, ttl time.Duration) (string, error)

	// Lookup returns the live record for token. Malformed, unknown, removed and
	// expired tokens all yield domain.ErrTokenNotFound; expired records are evicted.
	Lookup(ctx context.Context, token string) (domain.Download, error)

	// Take is Lookup followed by Remove under one lock, giving at-most-once retrieval.
	Take(ctx context.Context, token string) (domain.Download, error)

	// Remove deletes a token. Removing an unknown token is a no-op.
	Remove(ctx context.Context, token string)

	// SweepExpired removes every record whose expiry has passed and returns them.
	SweepExpired(ctx context.Context) []domain.Download

	// Count returns the number of records currently held.
	Count() int
}
