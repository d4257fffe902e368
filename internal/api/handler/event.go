package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/service"
)

// EventSource is the read side of the event service.
type EventSource interface {
	Query(ctx context.Context, q domain.EventQuery) (*domain.EventQueryResult, error)
	QueryHistorical(ctx context.Context, q domain.EventQuery) (*domain.EventQueryResult, error)
	Subscribe() (uint64, <-chan domain.Event)
	Unsubscribe(id uint64)
	Stats() service.EventStats
}

// EventHandler exposes the download activity log.
type EventHandler struct {
	events    EventSource
	logger    *slog.Logger
	keepalive time.Duration
}

// NewEventHandler creates a new event handler.
func NewEventHandler(events EventSource, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events:    events,
		logger:    logger,
		keepalive: 30 * time.Second,
	}
}

// EventListResponse contains a page of events.
type EventListResponse struct {
	Events  []domain.Event `json:"events"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// parseEventQuery reads filters and paging from the query string. Invalid
// values are ignored.
func parseEventQuery(r *http.Request) domain.EventQuery {
	v := r.URL.Query()
	q := domain.EventQuery{Limit: 50}

	if n, err := strconv.Atoi(v.Get("limit")); err == nil && n > 0 {
		q.Limit = n
	}
	if n, err := strconv.Atoi(v.Get("offset")); err == nil && n >= 0 {
		q.Offset = n
	}
	if s := v.Get("severity"); s != "" {
		sev := domain.EventSeverity(s)
		q.Filter.Severity = &sev
	}
	if c := v.Get("category"); c != "" {
		cat := domain.EventCategory(c)
		q.Filter.Category = &cat
	}
	q.Filter.Source = v.Get("source")
	q.Filter.SearchText = v.Get("search")
	if t, err := time.Parse(time.RFC3339, v.Get("start_time")); err == nil {
		q.Filter.StartTime = &t
	}
	if t, err := time.Parse(time.RFC3339, v.Get("end_time")); err == nil {
		q.Filter.EndTime = &t
	}
	return q
}

// List handles GET /api/v1/events. With historical=true the persisted log
// is queried instead of the in-memory buffer.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := parseEventQuery(r)

	query := h.events.Query
	if r.URL.Query().Get("historical") == "true" {
		query = h.events.QueryHistorical
	}

	res, err := query(r.Context(), q)
	if err != nil {
		h.logger.Error("failed to query events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	writeJSON(w, http.StatusOK, EventListResponse{
		Events:  res.Events,
		Total:   res.Total,
		Limit:   q.Limit,
		Offset:  q.Offset,
		HasMore: res.HasMore,
	})
}

// Stats handles GET /api/v1/events/stats.
func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.events.Stats())
}

// Stream handles GET /api/v1/events/stream with server-sent events.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := h.events.Subscribe()
	defer h.events.Unsubscribe(id)

	fmt.Fprintf(w, "event: connected\ndata: {\"subscriber_id\":%d}\n\n", id)
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Warn("failed to encode event", "event_id", e.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: event\ndata: %s\n\n", data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
