// Package handlers provides the debug/ops HTTP API handlers for
// biliarchive: health, metrics, and a log tail. Narrower than the
// teacher's handlers package by design (spec Non-goals: no management
// API, no GUI), but following the same constructor-holds-dependencies,
// ServeHTTP-per-handler shape.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/biliarchive/biliarchive/internal/scheduler"
)

// HealthHandler reports process liveness and dependency health.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	sched     *scheduler.Scheduler
}

// NewHealthHandler creates a health handler for version.
func NewHealthHandler(version string) *HealthHandler {
	if version == "" {
		version = "dev"
	}
	return &HealthHandler{version: version, startTime: time.Now()}
}

// WithDB attaches a database connection to ping on each health check.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithScheduler attaches the scheduler so its halted state is surfaced.
func (h *HealthHandler) WithScheduler(s *scheduler.Scheduler) *HealthHandler {
	h.sched = s
	return h
}

// HealthResponse is the health check's JSON body.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Database        string `json:"database"`
	SchedulerHalted bool   `json:"scheduler_halted"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Database:      "unconfigured",
	}

	status := http.StatusOK

	if h.db != nil {
		if err := pingDB(r.Context(), h.db); err != nil {
			resp.Database = "unreachable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	if h.sched != nil {
		resp.SchedulerHalted = h.sched.Halted()
		if resp.SchedulerHalted {
			resp.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
