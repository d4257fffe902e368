// Package usage implements the client-side download quota: a daily limit
// plus a cooldown between downloads. The state lives in storage owned by the
// client; nothing here is enforced by the server.
package usage

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// Storage keys.
const (
	KeyDailyCount = "clipgrab_daily_downloads"
	KeyLastDate   = "clipgrab_last_download_date"
	KeyLastTime   = "clipgrab_last_download_time"
)

const (
	DefaultMaxDaily = 5
	DefaultCooldown = 15 * time.Second

	dateLayout = "2006-01-02"
)

// Status is the derived quota state at one instant.
type Status struct {
	DownloadsRemaining int  `json:"downloads_remaining"`
	CooldownRemaining  int  `json:"cooldown_remaining"` // seconds
	CanDownload        bool `json:"can_download"`
	IsLimitReached     bool `json:"is_limit_reached"`
}

// State is what is persisted between downloads.
type State struct {
	DailyCount     int
	LastDate       string
	LastDownloadMs int64
}

// Limiter reads and records usage against a Storage.
type Limiter struct {
	store    Storage
	maxDaily int
	cooldown time.Duration
	now      func() time.Time
	loc      *time.Location

	// Serializes RecordDownload's read-modify-write.
	mu sync.Mutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxDaily sets the daily quota.
func WithMaxDaily(n int) Option {
	return func(l *Limiter) { l.maxDaily = n }
}

// WithCooldown sets the minimum interval between downloads.
func WithCooldown(d time.Duration) Option {
	return func(l *Limiter) { l.cooldown = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLocation sets the time zone whose midnight starts a new day.
func WithLocation(loc *time.Location) Option {
	return func(l *Limiter) { l.loc = loc }
}

// NewLimiter creates a limiter with 5 downloads a day and a 15s cooldown
// unless overridden.
func NewLimiter(store Storage, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		maxDaily: DefaultMaxDaily,
		cooldown: DefaultCooldown,
		now:      time.Now,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxDaily returns the daily quota.
func (l *Limiter) MaxDaily() int {
	return l.maxDaily
}

// Cooldown returns the cooldown window.
func (l *Limiter) Cooldown() time.Duration {
	return l.cooldown
}

func (l *Limiter) today(now time.Time) string {
	return now.In(l.loc).Format(dateLayout)
}

// Load reads the stored state. Missing or malformed values read as zero.
func (l *Limiter) Load() (State, error) {
	var st State

	date, _, err := l.store.Get(KeyLastDate)
	if err != nil {
		return st, fmt.Errorf("read last date: %w", err)
	}
	st.LastDate = date

	count, _, err := l.store.Get(KeyDailyCount)
	if err != nil {
		return st, fmt.Errorf("read daily count: %w", err)
	}
	if n, err := strconv.Atoi(count); err == nil && n > 0 {
		st.DailyCount = n
	}

	last, _, err := l.store.Get(KeyLastTime)
	if err != nil {
		return st, fmt.Errorf("read last time: %w", err)
	}
	if ms, err := strconv.ParseInt(last, 10, 64); err == nil {
		st.LastDownloadMs = ms
	}
	return st, nil
}

// Status derives the quota state from storage. It writes nothing.
func (l *Limiter) Status() (Status, error) {
	st, err := l.Load()
	if err != nil {
		return Status{}, err
	}
	return l.status(st, l.now()), nil
}

func (l *Limiter) status(st State, now time.Time) Status {
	count := 0
	if st.LastDate == l.today(now) {
		count = st.DailyCount
	}
	remaining := max(0, l.maxDaily-count)
	cooldown := l.cooldownRemaining(st.LastDownloadMs, now)

	return Status{
		DownloadsRemaining: remaining,
		CooldownRemaining:  cooldown,
		CanDownload:        remaining > 0 && cooldown == 0,
		IsLimitReached:     remaining == 0,
	}
}

// cooldownRemaining is max(0, cooldown - whole seconds since lastMs). A last
// download in the future counts as just now.
func (l *Limiter) cooldownRemaining(lastMs int64, now time.Time) int {
	window := int64(l.cooldown / time.Second)
	elapsed := (now.UnixMilli() - lastMs) / 1000
	if elapsed < 0 {
		elapsed = 0
	}
	return int(max(0, window-elapsed))
}

// Check returns domain.ErrLimitReached or domain.ErrCooldownActive when a
// download should not start now.
func (l *Limiter) Check() (Status, error) {
	s, err := l.Status()
	if err != nil {
		return s, err
	}
	switch {
	case s.IsLimitReached:
		return s, domain.ErrLimitReached
	case s.CooldownRemaining > 0:
		return s, fmt.Errorf("%w: %ds left", domain.ErrCooldownActive, s.CooldownRemaining)
	}
	return s, nil
}

// RecordDownload counts one successful download. Call it only after the file
// has actually been received.
func (l *Limiter) RecordDownload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.Load()
	if err != nil {
		return err
	}

	now := l.now()
	today := l.today(now)
	count := 0
	if st.LastDate == today {
		count = st.DailyCount
	}
	count++

	if err := l.store.Set(KeyDailyCount, strconv.Itoa(count)); err != nil {
		return fmt.Errorf("write daily count: %w", err)
	}
	if err := l.store.Set(KeyLastDate, today); err != nil {
		return fmt.Errorf("write last date: %w", err)
	}
	if err := l.store.Set(KeyLastTime, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("write last time: %w", err)
	}
	return nil
}
