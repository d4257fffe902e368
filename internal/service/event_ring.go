package service

import (
	"strings"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// eventRing keeps the most recent events in a fixed-size buffer.
// Callers synchronize access.
type eventRing struct {
	buf   []domain.Event
	head  int
	count int
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]domain.Event, size)}
}

func (r *eventRing) push(e domain.Event) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// newest returns up to limit events matching keep, newest first.
// A limit of zero means no limit.
func (r *eventRing) newest(limit int, keep func(domain.Event) bool) []domain.Event {
	out := make([]domain.Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.buf[(r.head-1-i+len(r.buf))%len(r.buf)]
		if keep != nil && !keep(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func matchEvent(f domain.EventFilter) func(domain.Event) bool {
	search := strings.ToLower(f.SearchText)
	return func(e domain.Event) bool {
		switch {
		case f.Severity != nil && e.Severity != *f.Severity:
			return false
		case f.Category != nil && e.Category != *f.Category:
			return false
		case f.Source != "" && e.Source != f.Source:
			return false
		case f.StartTime != nil && e.Timestamp.Before(*f.StartTime):
			return false
		case f.EndTime != nil && e.Timestamp.After(*f.EndTime):
			return false
		case search != "" && !strings.Contains(strings.ToLower(e.Message), search):
			return false
		}
		return true
	}
}
