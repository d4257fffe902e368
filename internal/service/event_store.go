package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// eventStore persists events to sqlite. Timestamps are unix milliseconds.
type eventStore struct {
	db *sql.DB
}

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	ts INTEGER NOT NULL,
	severity TEXT NOT NULL,
	category TEXT NOT NULL,
	message TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
`

func openEventStore(path string) (*eventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(eventSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &eventStore{db: db}, nil
}

func (s *eventStore) insert(ctx context.Context, e domain.Event) error {
	var meta sql.NullString
	if len(e.Metadata) > 0 {
		meta = sql.NullString{String: string(e.Metadata), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (id, ts, severity, category, message, source, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), e.Timestamp.UnixMilli(), string(e.Severity), string(e.Category), e.Message, e.Source, meta,
	)
	return err
}

func (s *eventStore) query(ctx context.Context, q domain.EventQuery) (*domain.EventQueryResult, error) {
	var where []string
	var args []any

	f := q.Filter
	if f.Severity != nil {
		where = append(where, "severity = ?")
		args = append(args, string(*f.Severity))
	}
	if f.Category != nil {
		where = append(where, "category = ?")
		args = append(args, string(*f.Category))
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.StartTime != nil {
		where = append(where, "ts >= ?")
		args = append(args, f.StartTime.UnixMilli())
	}
	if f.EndTime != nil {
		where = append(where, "ts <= ?")
		args = append(args, f.EndTime.UnixMilli())
	}
	if f.SearchText != "" {
		where = append(where, "message LIKE ?")
		args = append(args, "%"+f.SearchText+"%")
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts, severity, category, message, source, metadata FROM events "+clause+" ORDER BY ts DESC LIMIT ? OFFSET ?",
		append(args, q.Limit, q.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, q.Limit)
	for rows.Next() {
		var (
			e    domain.Event
			ts   int64
			meta sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Severity, &e.Category, &e.Message, &e.Source, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		if meta.Valid && meta.String != "" {
			e.Metadata = json.RawMessage(meta.String)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return &domain.EventQueryResult{
		Events:  events,
		Total:   total,
		HasMore: q.Offset+len(events) < total,
	}, nil
}

func (s *eventStore) deleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *eventStore) close() error {
	return s.db.Close()
}
