package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/db"
	"github.com/lon-trans/bus-density/internal/models"
	"github.com/lon-trans/bus-density/internal/snapshot"
)

type fakeSource struct {
	latest *snapshot.Latest
	err    error
}

func (f *fakeSource) Latest() (*snapshot.Latest, error) {
	return f.latest, f.err
}

type fakeStatus struct {
	pingErr  error
	snapshot *db.Snapshot
	cycles   []db.Cycle
	gotLimit int
}

func (f *fakeStatus) Ping(context.Context) error { return f.pingErr }

func (f *fakeStatus) LatestSnapshot(context.Context) (*db.Snapshot, error) { return f.snapshot, nil }

func (f *fakeStatus) LatestCycle(context.Context) (*db.Cycle, error) {
	if len(f.cycles) == 0 {
		return nil, nil
	}
	return &f.cycles[0], nil
}

func (f *fakeStatus) RecentCycles(_ context.Context, limit int) ([]db.Cycle, error) {
	f.gotLimit = limit
	return f.cycles, nil
}

var now = time.Date(2025, 7, 1, 11, 31, 0, 0, time.UTC)

func sampleLatest() *snapshot.Latest {
	return &snapshot.Latest{
		PulledAt:   "2025-07-01 12:30:15",
		ModifiedAt: now,
		Rows: []models.EnrichedArrival{
			{VehicleID: "V1", StopID: "A", SecondsToStation: 60, Latitude: 51.5, Longitude: -0.1, ClusterLabel: 1},
			{VehicleID: "V2", StopID: "A", SecondsToStation: 120, Latitude: 51.5, Longitude: -0.1, ClusterLabel: 1},
			{VehicleID: "V3", StopID: "B", SecondsToStation: 900, Latitude: 51.6, Longitude: -0.2, ClusterLabel: 2},
		},
	}
}

func newTestRouter(source *fakeSource, status *fakeStatus) http.Handler {
	sh := NewStatusHandler(status)
	sh.now = func() time.Time { return now }
	return NewRouter([]string{"http://localhost:8501"}, NewSnapshotHandler(zap.NewNop(), source), sh)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetLatest(t *testing.T) {
	h := newTestRouter(&fakeSource{latest: sampleLatest()}, &fakeStatus{})

	rec := get(t, h, "/api/snapshot/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp LatestSnapshotResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, "2025-07-01 12:30:15", resp.PulledAt)
}

func TestGetLatestNoSnapshot(t *testing.T) {
	h := newTestRouter(&fakeSource{err: snapshot.ErrNoSnapshot}, &fakeStatus{})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/snapshot/latest").Code)

	h = newTestRouter(&fakeSource{err: errors.New("corrupt")}, &fakeStatus{})
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/snapshot/latest").Code)
}

func TestGetDensity(t *testing.T) {
	h := newTestRouter(&fakeSource{latest: sampleLatest()}, &fakeStatus{})

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantWindow int
		wantCount  int
	}{
		{"default window", "", http.StatusOK, 10, 1},
		{"wide window", "?window_minutes=20", http.StatusOK, 20, 2},
		{"narrow window", "?window_minutes=1", http.StatusOK, 1, 1},
		{"too small", "?window_minutes=0", http.StatusBadRequest, 0, 0},
		{"too large", "?window_minutes=21", http.StatusBadRequest, 0, 0},
		{"not a number", "?window_minutes=ten", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, "/api/density"+tt.query)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				var errResp ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
				assert.NotEmpty(t, errResp.Error)
				return
			}

			var resp DensityResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantWindow, resp.WindowMinutes)
			assert.Equal(t, tt.wantCount, resp.Count)
			assert.Equal(t, models.ClusterLabel(1), resp.Clusters[0].ClusterLabel)
		})
	}
}

func TestGetHealth(t *testing.T) {
	status := &fakeStatus{
		snapshot: &db.Snapshot{ID: "snap-1", CreatedAt: now.Add(-45 * time.Second)},
		cycles:   []db.Cycle{{ID: "c2", Status: db.CycleFailed, StartedAt: now, Error: "feed down"}},
	}
	h := newTestRouter(&fakeSource{}, status)

	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "snap-1", resp.LatestSnapshotID)
	require.NotNil(t, resp.SnapshotAgeSeconds)
	assert.InDelta(t, 45.0, *resp.SnapshotAgeSeconds, 1e-9)
	assert.Equal(t, "feed down", resp.LatestCycleError)
}

func TestGetHealthDatabaseDown(t *testing.T) {
	h := newTestRouter(&fakeSource{}, &fakeStatus{pingErr: errors.New("closed")})
	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetCycles(t *testing.T) {
	status := &fakeStatus{cycles: []db.Cycle{{ID: "c1", Status: db.CycleSucceeded, StartedAt: now}}}
	h := newTestRouter(&fakeSource{}, status)

	rec := get(t, h, "/api/cycles?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, status.gotLimit)

	var resp CyclesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)

	get(t, h, "/api/cycles")
	assert.Equal(t, defaultCycleLimit, status.gotLimit)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/cycles?limit=0").Code)
}
