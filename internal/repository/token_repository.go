package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// InMemoryTokenStore implements TokenStore with a mutex-guarded map.
// Outstanding tokens do not survive a restart.
type InMemoryTokenStore struct {
	mu       sync.RWMutex
	records  map[string]domain.Download
	now      func() time.Time
	newToken func() (string, error)
	logger   *slog.Logger
}

// TokenStoreOption configures an InMemoryTokenStore.
type TokenStoreOption func(*InMemoryTokenStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenStoreOption {
	return func(s *InMemoryTokenStore) {
		s.now = now
	}
}

// WithTokenGenerator overrides token generation.
func WithTokenGenerator(gen func() (string, error)) TokenStoreOption {
	return func(s *InMemoryTokenStore) {
		s.newToken = gen
	}
}

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) TokenStoreOption {
	return func(s *InMemoryTokenStore) {
		s.logger = logger
	}
}

// NewInMemoryTokenStore creates an empty token store.
func NewInMemoryTokenStore(opts ...TokenStoreOption) *InMemoryTokenStore {
	s := &InMemoryTokenStore{
		records:  make(map[string]domain.Download),
		now:      time.Now,
		newToken: domain.NewToken,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// maxIssueAttempts bounds regeneration on token collision.
const maxIssueAttempts = 3

// Issue registers a new record and returns its token.
func (s *InMemoryTokenStore) Issue(ctx context.Context, sessionID domain.SessionID, filePath string, metadata domain.Metadata, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		if _, taken := s.records[token]; taken {
			continue
		}

		s.records[token] = domain.Download{
			Token:     token,
			FilePath:  filePath,
			Metadata:  metadata,
			SessionID: sessionID,
			ExpiresAt: s.now().Add(ttl),
		}
		s.logger.Debug("token issued", "session_id", sessionID, "ttl", ttl)
		return token, nil
	}

	return "", fmt.Errorf("generate token: %d collisions", maxIssueAttempts)
}

// Lookup returns the live record for token.
func (s *InMemoryTokenStore) Lookup(ctx context.Context, token string) (domain.Download, error) {
	return s.get(token, false)
}

// Take returns the live record for token and removes it.
func (s *InMemoryTokenStore) Take(ctx context.Context, token string) (domain.Download, error) {
	return s.get(token, true)
}

func (s *InMemoryTokenStore) get(token string, remove bool) (domain.Download, error) {
	if !domain.ValidToken(token) {
		return domain.Download{}, domain.ErrTokenNotFound
	}

	// Expiry eviction mutates the map, so even plain lookups take the write lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return domain.Download{}, domain.ErrTokenNotFound
	}

	if rec.Expired(s.now()) {
		delete(s.records, token)
		s.logger.Debug("token expired on read", "session_id", rec.SessionID)
		return domain.Download{}, domain.ErrTokenNotFound
	}

	if remove {
		delete(s.records, token)
	}
	return rec, nil
}

// Remove deletes a token. Unknown tokens are ignored.
func (s *InMemoryTokenStore) Remove(ctx context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, token)
}

// SweepExpired removes every expired record and returns the removed records.
func (s *InMemoryTokenStore) SweepExpired(ctx context.Context) []domain.Download {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed []domain.Download
	for token, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, token)
			removed = append(removed, rec)
		}
	}

	if len(removed) > 0 {
		s.logger.Info("swept expired tokens", "count", len(removed), "remaining", len(s.records))
	}
	return removed
}

// Count returns the number of records currently held.
func (s *InMemoryTokenStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}
