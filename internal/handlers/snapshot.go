package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/metrics"
	"github.com/lon-trans/bus-density/internal/models"
	"github.com/lon-trans/bus-density/internal/snapshot"
)

// SnapshotSource loads the promoted snapshot
type SnapshotSource interface {
	Latest() (*snapshot.Latest, error)
}

// SnapshotHandler serves the latest snapshot and its density aggregation
type SnapshotHandler struct {
	source SnapshotSource
	logger *zap.Logger
}

// NewSnapshotHandler creates a new handler over source
func NewSnapshotHandler(logger *zap.Logger, source SnapshotSource) *SnapshotHandler {
	return &SnapshotHandler{source: source, logger: logger}
}

// LatestSnapshotResponse is the JSON response for GET /api/snapshot/latest
type LatestSnapshotResponse struct {
	Rows       []models.EnrichedArrival `json:"rows"`
	Count      int                      `json:"count"`
	PulledAt   string                   `json:"pulledAtLocalTimestamp"`
	ModifiedAt time.Time                `json:"modifiedAt"`
}

// DensityResponse is the JSON response for GET /api/density
type DensityResponse struct {
	Clusters      []metrics.ClusterDensity `json:"clusters"`
	Count         int                      `json:"count"`
	WindowMinutes int                      `json:"windowMinutes"`
	PulledAt      string                   `json:"pulledAtLocalTimestamp"`
}

// GetLatest handles GET /api/snapshot/latest
func (h *SnapshotHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	latest, ok := h.load(w)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, LatestSnapshotResponse{
		Rows:       latest.Rows,
		Count:      len(latest.Rows),
		PulledAt:   latest.PulledAt,
		ModifiedAt: latest.ModifiedAt.UTC(),
	})
}

// GetDensity handles GET /api/density?window_minutes=N
// Returns approaching-bus counts per cluster within the window (1-20 minutes, default 10)
func (h *SnapshotHandler) GetDensity(w http.ResponseWriter, r *http.Request) {
	window := metrics.DefaultWindowMinutes
	if raw := r.URL.Query().Get("window_minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < metrics.MinWindowMinutes || n > metrics.MaxWindowMinutes {
			writeError(w, http.StatusBadRequest, "window_minutes must be an integer between 1 and 20", map[string]interface{}{
				"window_minutes": raw,
			})
			return
		}
		window = n
	}

	latest, ok := h.load(w)
	if !ok {
		return
	}

	clusters := metrics.DensityByCluster(latest.Rows, window)
	writeJSON(w, http.StatusOK, DensityResponse{
		Clusters:      clusters,
		Count:         len(clusters),
		WindowMinutes: window,
		PulledAt:      latest.PulledAt,
	})
}

func (h *SnapshotHandler) load(w http.ResponseWriter) (*snapshot.Latest, bool) {
	latest, err := h.source.Latest()
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		writeError(w, http.StatusNotFound, "No snapshot has been published yet", nil)
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load snapshot", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load snapshot", nil)
		return nil, false
	}
	return latest, true
}
