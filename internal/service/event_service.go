package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/clipgrab/internal/config"
	"github.com/iconidentify/clipgrab/internal/domain"
)

const (
	defaultEventBuffer = 1000
	defaultQueryLimit  = 50
	maxQueryLimit      = 200
	persistQueueSize   = 256
)

// EventService records download activity in memory, optionally mirrors it
// to sqlite, and fans it out to live subscribers.
type EventService struct {
	logger    *slog.Logger
	retention time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	ring   *eventRing
	closed bool

	store     *eventStore
	persistCh chan domain.Event
	persistWG sync.WaitGroup

	subMu   sync.RWMutex
	subs    map[uint64]chan domain.Event
	nextSub uint64
}

// NewEventService creates the event service. A non-empty SQLitePath enables persistence.
func NewEventService(cfg config.EventsConfig, logger *slog.Logger) (*EventService, error) {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultEventBuffer
	}

	s := &EventService{
		logger:    logger,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		now:       time.Now,
		ring:      newEventRing(size),
		subs:      make(map[uint64]chan domain.Event),
	}

	if cfg.SQLitePath != "" {
		store, err := openEventStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init event store: %w", err)
		}
		s.store = store
		s.persistCh = make(chan domain.Event, persistQueueSize)
		s.persistWG.Add(1)
		go s.persistLoop()
		logger.Info("event persistence enabled", "path", cfg.SQLitePath)
	}

	return s, nil
}

func (s *EventService) persistLoop() {
	defer s.persistWG.Done()
	for e := range s.persistCh {
		if err := s.store.insert(context.Background(), e); err != nil {
			s.logger.Warn("failed to persist event", "event_id", e.ID, "error", err)
		}
	}
}

// Close flushes pending writes and closes the database.
func (s *EventService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	close(s.persistCh)
	s.persistWG.Wait()
	return s.store.close()
}

// Emit records an event. Missing IDs and timestamps are filled in.
func (s *EventService) Emit(event domain.Event) {
	if event.ID == "" {
		event.ID = domain.EventID("evt_" + uuid.NewString())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.ring.push(event)
	if s.persistCh != nil {
		select {
		case s.persistCh <- event:
		default:
			s.logger.Warn("event persist queue full, dropping", "event_id", event.ID)
		}
	}
	s.mu.Unlock()

	s.broadcast(event)

	level := slog.LevelInfo
	switch event.Severity {
	case domain.EventSeverityWarning:
		level = slog.LevelWarn
	case domain.EventSeverityError:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, event.Message,
		"event_id", event.ID,
		"category", event.Category,
		"source", event.Source,
	)
}

func (s *EventService) emit(sev domain.EventSeverity, cat domain.EventCategory, source, msg string, meta domain.EventMetadata) {
	s.Emit(domain.Event{
		Severity: sev,
		Category: cat,
		Source:   source,
		Message:  msg,
		Metadata: meta.ToJSON(),
	})
}

// EmitInfo records an info event.
func (s *EventService) EmitInfo(cat domain.EventCategory, source, msg string, meta domain.EventMetadata) {
	s.emit(domain.EventSeverityInfo, cat, source, msg, meta)
}

// EmitWarning records a warning event.
func (s *EventService) EmitWarning(cat domain.EventCategory, source, msg string, meta domain.EventMetadata) {
	s.emit(domain.EventSeverityWarning, cat, source, msg, meta)
}

// EmitError records an error event.
func (s *EventService) EmitError(cat domain.EventCategory, source, msg string, meta domain.EventMetadata) {
	s.emit(domain.EventSeverityError, cat, source, msg, meta)
}

// EmitSuccess records a success event.
func (s *EventService) EmitSuccess(cat domain.EventCategory, source, msg string, meta domain.EventMetadata) {
	s.emit(domain.EventSeveritySuccess, cat, source, msg, meta)
}

func normalizeQuery(q domain.EventQuery) domain.EventQuery {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Query pages through the in-memory buffer, newest first.
func (s *EventService) Query(ctx context.Context, q domain.EventQuery) (*domain.EventQueryResult, error) {
	q = normalizeQuery(q)

	s.mu.RLock()
	matched := s.ring.newest(0, matchEvent(q.Filter))
	s.mu.RUnlock()

	total := len(matched)
	if q.Offset >= total {
		return &domain.EventQueryResult{Events: []domain.Event{}, Total: total}, nil
	}
	end := min(q.Offset+q.Limit, total)

	return &domain.EventQueryResult{
		Events:  matched[q.Offset:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// QueryHistorical pages through persisted events. Without persistence it
// returns an empty result.
func (s *EventService) QueryHistorical(ctx context.Context, q domain.EventQuery) (*domain.EventQueryResult, error) {
	if s.store == nil {
		return &domain.EventQueryResult{Events: []domain.Event{}}, nil
	}
	return s.store.query(ctx, normalizeQuery(q))
}

// Recent returns up to n of the newest events.
func (s *EventService) Recent(n int) []domain.Event {
	if n <= 0 {
		n = defaultQueryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.newest(n, nil)
}

// Subscribe registers a live listener. Call Unsubscribe with the returned id.
func (s *EventService) Subscribe() (uint64, <-chan domain.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextSub++
	ch := make(chan domain.Event, 100)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *EventService) Unsubscribe(id uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// broadcast never blocks; slow subscribers miss events.
func (s *EventService) broadcast(e domain.Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for id, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.logger.Debug("subscriber lagging, event dropped", "subscriber_id", id, "event_id", e.ID)
		}
	}
}

// EventStats summarizes the service state.
type EventStats struct {
	BufferSize    int            `json:"buffer_size"`
	BufferUsed    int            `json:"buffer_used"`
	Subscribers   int            `json:"subscribers"`
	SQLiteEnabled bool           `json:"sqlite_enabled"`
	BySeverity    map[string]int `json:"by_severity"`
}

// Stats reports buffer usage and severity counts over the buffered events.
func (s *EventService) Stats() EventStats {
	s.mu.RLock()
	stats := EventStats{
		BufferSize:    len(s.ring.buf),
		BufferUsed:    s.ring.count,
		SQLiteEnabled: s.store != nil,
		BySeverity:    make(map[string]int),
	}
	for _, e := range s.ring.newest(0, nil) {
		stats.BySeverity[string(e.Severity)]++
	}
	s.mu.RUnlock()

	s.subMu.RLock()
	stats.Subscribers = len(s.subs)
	s.subMu.RUnlock()

	return stats
}

// Prune deletes persisted events older than the retention window.
func (s *EventService) Prune(ctx context.Context) error {
	if s.store == nil || s.retention <= 0 {
		return nil
	}

	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.deleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("pruned old events", "deleted", deleted, "cutoff", cutoff)
	}
	return nil
}
