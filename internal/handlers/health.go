package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/lon-trans/bus-density/internal/db"
)

// StatusRepository is the cycle log and snapshot catalogue, read side
type StatusRepository interface {
	Ping(ctx context.Context) error
	LatestSnapshot(ctx context.Context) (*db.Snapshot, error)
	LatestCycle(ctx context.Context) (*db.Cycle, error)
	RecentCycles(ctx context.Context, limit int) ([]db.Cycle, error)
}

// Cycle listing bounds
const (
	defaultCycleLimit = 20
	maxCycleLimit     = 200
)

// StatusHandler handles health and cycle-log requests
type StatusHandler struct {
	repo StatusRepository
	now  func() time.Time
}

// NewStatusHandler creates a new handler with the given repository
func NewStatusHandler(repo StatusRepository) *StatusHandler {
	return &StatusHandler{repo: repo, now: time.Now}
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status               string     `json:"status"`
	Database             string     `json:"database"`
	Timestamp            time.Time  `json:"timestamp"`
	LatestSnapshotID     string     `json:"latestSnapshotId,omitempty"`
	SnapshotAgeSeconds   *float64   `json:"snapshotAgeSeconds,omitempty"`
	LatestCycleStatus    string     `json:"latestCycleStatus,omitempty"`
	LatestCycleStartedAt *time.Time `json:"latestCycleStartedAt,omitempty"`
	LatestCycleError     string     `json:"latestCycleError,omitempty"`
}

// CyclesResponse is the JSON response for GET /api/cycles
type CyclesResponse struct {
	Cycles []db.Cycle `json:"cycles"`
	Count  int        `json:"count"`
}

// GetHealth handles GET /health
// Reports database connectivity, the age of the latest snapshot and the latest cycle outcome
func (h *StatusHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := h.now().UTC()

	if err := h.repo.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "error",
			"database":  "disconnected",
			"timestamp": now,
			"error":     err.Error(),
		})
		return
	}

	resp := HealthResponse{Status: "ok", Database: "connected", Timestamp: now}

	snap, err := h.repo.LatestSnapshot(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get latest snapshot", nil)
		return
	}
	if snap != nil {
		age := now.Sub(snap.CreatedAt).Seconds()
		resp.LatestSnapshotID = snap.ID
		resp.SnapshotAgeSeconds = &age
	}

	cycle, err := h.repo.LatestCycle(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get latest cycle", nil)
		return
	}
	if cycle != nil {
		resp.LatestCycleStatus = cycle.Status
		resp.LatestCycleStartedAt = &cycle.StartedAt
		resp.LatestCycleError = cycle.Error
		if cycle.Status == db.CycleFailed {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetCycles handles GET /api/cycles?limit=N
func (h *StatusHandler) GetCycles(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	limit := defaultCycleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxCycleLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 200", map[string]interface{}{
				"limit": raw,
			})
			return
		}
		limit = n
	}

	cycles, err := h.repo.RecentCycles(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get cycles", nil)
		return
	}

	writeJSON(w, http.StatusOK, CyclesResponse{Cycles: cycles, Count: len(cycles)})
}
