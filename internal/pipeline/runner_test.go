package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/enrich"
	"github.com/lon-trans/bus-density/internal/models"
	"github.com/lon-trans/bus-density/internal/realtime"
	"github.com/lon-trans/bus-density/internal/signal"
	"github.com/lon-trans/bus-density/internal/snapshot"
)

type fakeFeed struct {
	events []models.ArrivalEvent
	err    error
}

func (f *fakeFeed) Fetch(context.Context) ([]models.ArrivalEvent, error) {
	return f.events, f.err
}

type fakeClusters struct {
	rows []models.ClusterAssignment
	err  error
}

func (f *fakeClusters) ReadAll(context.Context) ([]models.ClusterAssignment, error) {
	return f.rows, f.err
}

type fakeFallback struct {
	stops []models.StopPoint
}

func (f *fakeFallback) ReadByIDs(_ context.Context, ids []string) ([]models.StopPoint, error) {
	var out []models.StopPoint
	for _, s := range f.stops {
		for _, id := range ids {
			if s.StopID == id {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

type fakeSink struct {
	published [][]models.EnrichedArrival
	err       error
}

func (f *fakeSink) Publish(_ context.Context, rows []models.EnrichedArrival) (snapshot.Published, error) {
	if f.err != nil {
		return snapshot.Published{Attempts: 5}, f.err
	}
	f.published = append(f.published, rows)
	return snapshot.Published{Path: "latest.csv", RowCount: len(rows), Attempts: 1}, nil
}

type finishedCycle struct {
	id, status string
	in, out    int
	errMsg     string
}

type fakeStore struct {
	mu        sync.Mutex
	startErr  error
	recordErr error
	started   int
	finished  []finishedCycle
	snapshots []string
	cleanups  int
}

func (f *fakeStore) StartCycle(context.Context, time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started++
	return "cycle-" + string(rune('0'+f.started)), nil
}

func (f *fakeStore) FinishCycle(_ context.Context, id, status string, in, out int, errMsg string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, finishedCycle{id, status, in, out, errMsg})
	return nil
}

func (f *fakeStore) Cleanup(context.Context, time.Duration) error {
	f.cleanups++
	return nil
}

func (f *fakeStore) RecordSnapshot(_ context.Context, cycleID string, _ time.Time, _ int, path string) (string, error) {
	if f.recordErr != nil {
		return "", f.recordErr
	}
	f.snapshots = append(f.snapshots, cycleID+":"+path)
	return "snap-1", nil
}

type fakeSignal struct {
	msgs []signal.Message
	err  error
}

func (f *fakeSignal) Publish(_ context.Context, m signal.Message) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

func (f *fakeSignal) Close() error { return nil }

type harness struct {
	feed     *fakeFeed
	clusters *fakeClusters
	sink     *fakeSink
	store    *fakeStore
	signal   *fakeSignal
	runner   *Runner
}

func newHarness() *harness {
	h := &harness{
		feed: &fakeFeed{events: []models.ArrivalEvent{
			{VehicleID: "V1", StopID: "A", SecondsToStation: 60},
			{VehicleID: "V2", StopID: "F", SecondsToStation: 120},
			{VehicleID: "V3", StopID: models.StopIDUnknown, SecondsToStation: 30},
		}},
		clusters: &fakeClusters{rows: []models.ClusterAssignment{
			{StopID: "A", Latitude: 51.50, Longitude: -0.10, ClusterLabel: 1},
			{StopID: "B", Latitude: 51.60, Longitude: -0.20, ClusterLabel: 2},
		}},
		sink:   &fakeSink{},
		store:  &fakeStore{},
		signal: &fakeSignal{},
	}
	fallback := &fakeFallback{stops: []models.StopPoint{{StopID: "F", Latitude: 51.59, Longitude: -0.19}}}

	h.runner = NewRunner(zap.NewNop(), Deps{
		Feed:      h.feed,
		Clusters:  h.clusters,
		Fallback:  fallback,
		Engine:    enrich.NewEngine(zap.NewNop(), time.UTC),
		Sink:      h.sink,
		Log:       h.store,
		Catalogue: h.store,
		Signal:    h.signal,
	}, Options{JobName: "bus-density-image", Retention: time.Hour})
	return h
}

func TestRunCycleSuccess(t *testing.T) {
	h := newHarness()

	report, err := h.runner.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, signal.StatusSucceeded, report.Status)
	assert.Equal(t, "cycle-1", report.CycleID)
	assert.Equal(t, 3, report.ArrivalsIn)
	assert.Equal(t, 2, report.RowsOut)
	assert.Equal(t, "snap-1", report.SnapshotID)

	require.Len(t, h.sink.published, 1)
	rows := h.sink.published[0]
	require.Len(t, rows, 2)
	assert.Equal(t, models.ClusterLabel(1), rows[0].ClusterLabel)
	assert.Equal(t, models.ClusterLabel(2), rows[1].ClusterLabel, "F is nearest to B")

	assert.Equal(t, []string{"cycle-1:latest.csv"}, h.store.snapshots)
	assert.Equal(t, []finishedCycle{{"cycle-1", "succeeded", 3, 2, ""}}, h.store.finished)
	assert.Equal(t, 1, h.store.cleanups)

	require.Len(t, h.signal.msgs, 1)
	assert.Equal(t, signal.StatusSucceeded, h.signal.msgs[0].Status)
	assert.Equal(t, 2, h.signal.msgs[0].RowCount)
	assert.Equal(t, "bus-density-image", h.signal.msgs[0].Job)
}

func TestRunCycleFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(h *harness)
		check   func(t *testing.T, err error)
		started bool
	}{
		{
			name:   "feed unavailable",
			mutate: func(h *harness) { h.feed.err = &realtime.FeedUnavailableError{StatusCode: 503} },
			check: func(t *testing.T, err error) {
				var upstream *enrich.UpstreamFetchError
				assert.ErrorAs(t, err, &upstream)
				var unavailable *realtime.FeedUnavailableError
				assert.ErrorAs(t, err, &unavailable)
			},
			started: true,
		},
		{
			name:   "empty feed",
			mutate: func(h *harness) { h.feed.events = nil },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, enrich.ErrNoArrivals)
			},
			started: true,
		},
		{
			name:   "empty cluster table",
			mutate: func(h *harness) { h.clusters.rows = nil },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyClusterTable)
			},
			started: true,
		},
		{
			name:   "cluster table read error",
			mutate: func(h *harness) { h.clusters.err = errors.New("disk I/O error") },
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "failed to read cluster table")
			},
			started: true,
		},
		{
			name:   "promote exhausted",
			mutate: func(h *harness) { h.sink.err = errors.New("retry attempts exhausted") },
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "failed to publish snapshot")
			},
			started: true,
		},
		{
			name:   "cycle log unavailable",
			mutate: func(h *harness) { h.store.startErr = errors.New("database is locked") },
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "failed to start cycle")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.mutate(h)

			report, err := h.runner.RunCycle(context.Background())
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, signal.StatusFailed, report.Status)
			assert.Empty(t, h.store.snapshots, "nothing is catalogued")

			require.Len(t, h.signal.msgs, 1, "failures are still signalled")
			assert.Equal(t, signal.StatusFailed, h.signal.msgs[0].Status)
			assert.NotEmpty(t, h.signal.msgs[0].Error)
			assert.Zero(t, h.signal.msgs[0].RowCount)

			if tt.started {
				require.Len(t, h.store.finished, 1)
				assert.Equal(t, "failed", h.store.finished[0].status)
				assert.Equal(t, err.Error(), h.store.finished[0].errMsg)
			} else {
				assert.Empty(t, h.store.finished)
			}
		})
	}
}

func TestRunCycleSignalFailureIsNotACycleFailure(t *testing.T) {
	h := newHarness()
	h.signal.err = errors.New("broker unreachable")

	report, err := h.runner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, signal.StatusSucceeded, report.Status)
	assert.Len(t, h.sink.published, 1)
}

func TestRunCycleCancelledStillRecordsOutcome(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.feed.err = context.Canceled

	_, err := h.runner.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.store.finished, 1)
	require.Len(t, h.signal.msgs, 1)
}

func TestRunCycleIsSerialised(t *testing.T) {
	h := newHarness()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.runner.RunCycle(context.Background())
		}()
	}
	wg.Wait()

	assert.Len(t, h.sink.published, 4)
	assert.Len(t, h.store.finished, 4)
}
