package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/clipgrab/internal/service"
)

var startTime = time.Now()

// Readiness is implemented by the download service.
type Readiness interface {
	CheckReady(ctx context.Context) error
	Status(ctx context.Context) service.Status
}

// HealthHandler handles health check and stats endpoints.
type HealthHandler struct {
	svc      Readiness
	tempRoot string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(svc Readiness, tempRoot string) *HealthHandler {
	return &HealthHandler{
		svc:      svc,
		tempRoot: tempRoot,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe. It fails when the temp root
// is not writable or the extraction tool is missing.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.svc.CheckReady(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Error:     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SystemStats contains process, disk and download statistics.
type SystemStats struct {
	Uptime          int64   `json:"uptime_seconds"`
	UptimeHuman     string  `json:"uptime_human"`
	MemAllocMB      int64   `json:"mem_alloc_mb"`
	MemSysMB        int64   `json:"mem_sys_mb"`
	NumGoroutines   int     `json:"num_goroutines"`
	NumCPU          int     `json:"num_cpu"`
	CPUPercent      float64 `json:"cpu_percent"`
	DiskFreeBytes   int64   `json:"disk_free_bytes"`
	DiskTotalBytes  int64   `json:"disk_total_bytes"`
	DiskUsedPct     float64 `json:"disk_used_pct"`
	DiskFreeHuman   string  `json:"disk_free_human"`
	TempPath        string  `json:"temp_path"`
	TempBytes       int64   `json:"temp_bytes"`
	ActiveDownloads int     `json:"active_downloads"`
	Tool            string  `json:"tool"`
}

// Stats handles GET /api/v1/stats.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)
	st := h.svc.Status(r.Context())

	stats := SystemStats{
		Uptime:          int64(uptime.Seconds()),
		UptimeHuman:     formatUptime(uptime),
		MemAllocMB:      int64(m.Alloc / 1024 / 1024),
		MemSysMB:        int64(m.Sys / 1024 / 1024),
		NumGoroutines:   runtime.NumGoroutine(),
		NumCPU:          runtime.NumCPU(),
		CPUPercent:      getCPUUsage(),
		TempPath:        h.tempRoot,
		TempBytes:       st.TempBytes,
		ActiveDownloads: st.ActiveDownloads,
		Tool:            st.Tool,
	}

	total, free, _, usedPct := getDiskStats(h.tempRoot)
	stats.DiskTotalBytes = total
	stats.DiskFreeBytes = free
	stats.DiskUsedPct = usedPct
	stats.DiskFreeHuman = humanize.Bytes(uint64(free))

	writeJSON(w, http.StatusOK, stats)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
