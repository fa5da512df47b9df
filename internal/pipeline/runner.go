// Package pipeline runs one ingest, enrich, publish and signal cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/enrich"
	"github.com/lon-trans/bus-density/internal/models"
	"github.com/lon-trans/bus-density/internal/signal"
	"github.com/lon-trans/bus-density/internal/snapshot"
)

// ErrEmptyClusterTable fails a cycle whose cluster table has no rows.
// Publishing would otherwise replace the latest snapshot with an empty one.
var ErrEmptyClusterTable = errors.New("cluster table is empty")

// bookkeepingTimeout bounds the cycle-log and signal writes after a cycle,
// which still run when the cycle context was cancelled.
const bookkeepingTimeout = 10 * time.Second

// Enricher turns the live feed into snapshot rows
type Enricher interface {
	Run(ctx context.Context, feed enrich.ArrivalFeed, clusters []models.ClusterAssignment, fallback enrich.FallbackCoordinates) (*enrich.Result, error)
}

// Sink publishes snapshot rows
type Sink interface {
	Publish(ctx context.Context, rows []models.EnrichedArrival) (snapshot.Published, error)
}

// CycleLog records the start and outcome of every cycle
type CycleLog interface {
	StartCycle(ctx context.Context, startedAt time.Time) (string, error)
	FinishCycle(ctx context.Context, cycleID, status string, arrivalsIn, rowsOut int, errMsg string, finishedAt time.Time) error
	Cleanup(ctx context.Context, retention time.Duration) error
}

// Catalogue records promoted snapshots
type Catalogue interface {
	RecordSnapshot(ctx context.Context, cycleID string, pulledAt time.Time, rowCount int, path string) (string, error)
}

// Deps are the collaborators of a Runner
type Deps struct {
	Feed      enrich.ArrivalFeed
	Clusters  enrich.ClusterTable
	Fallback  enrich.FallbackCoordinates
	Engine    Enricher
	Sink      Sink
	Log       CycleLog
	Catalogue Catalogue
	Signal    signal.Publisher
}

// Options tune a Runner
type Options struct {
	JobName   string
	Retention time.Duration  // cycle-log retention; zero disables cleanup
	Location  *time.Location // zone of the completion message timestamp
}

// Report summarises one cycle
type Report struct {
	CycleID    string
	Status     signal.Status
	StartedAt  time.Time
	FinishedAt time.Time
	ArrivalsIn int
	RowsOut    int
	Stats      enrich.Stats
	SnapshotID string
	Snapshot   snapshot.Published
	Err        error
}

// Runner executes cycles one at a time
type Runner struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewRunner creates a runner over deps
func NewRunner(logger *zap.Logger, deps Deps, opts Options) *Runner {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Runner{
		deps:   deps,
		opts:   opts,
		logger: logger.With(zap.String("component", "pipeline")),
		now:    time.Now,
	}
}

// RunCycle runs one full cycle. A failure before the promote leaves the
// latest snapshot unchanged; either way a completion message is published. The returned error is the cycle failure, never a signal failure.
func (r *Runner) RunCycle(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := Report{StartedAt: r.now()}

	cycleID, err := r.deps.Log.StartCycle(ctx, report.StartedAt)
	if err != nil {
		err = fmt.Errorf("failed to start cycle: %w", err)
		r.finish(ctx, &report, err)
		return report, err
	}
	report.CycleID = cycleID

	err = r.run(ctx, &report)
	r.finish(ctx, &report, err)
	return report, err
}

func (r *Runner) run(ctx context.Context, report *Report) error {
	clusters, err := r.deps.Clusters.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cluster table: %w", err)
	}
	if len(clusters) == 0 {
		return ErrEmptyClusterTable
	}

	result, err := r.deps.Engine.Run(ctx, r.deps.Feed, clusters, r.deps.Fallback)
	if err != nil {
		return err
	}
	report.Stats = result.Stats
	report.ArrivalsIn = result.Stats.Input
	report.RowsOut = len(result.Rows)

	published, err := r.deps.Sink.Publish(ctx, result.Rows)
	if err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	report.Snapshot = published

	snapshotID, err := r.deps.Catalogue.RecordSnapshot(ctx, report.CycleID, result.PulledAt, published.RowCount, published.Path)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	report.SnapshotID = snapshotID

	return nil
}

func (r *Runner) finish(ctx context.Context, report *Report, cycleErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	report.FinishedAt = r.now()
	report.Err = cycleErr
	report.Status = signal.StatusSucceeded
	if cycleErr != nil {
		report.Status = signal.StatusFailed
	}

	fields := []zap.Field{
		zap.String("cycle_id", report.CycleID),
		zap.Int("arrivals_in", report.ArrivalsIn),
		zap.Int("rows_out", report.RowsOut),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	}
	if cycleErr != nil {
		r.logger.Error("cycle failed", append(fields, zap.Error(cycleErr))...)
	} else {
		r.logger.Info("cycle completed", fields...)
	}

	if report.CycleID != "" {
		errMsg := ""
		if cycleErr != nil {
			errMsg = cycleErr.Error()
		}
		if err := r.deps.Log.FinishCycle(ctx, report.CycleID, string(report.Status), report.ArrivalsIn, report.RowsOut, errMsg, report.FinishedAt); err != nil {
			r.logger.Warn("failed to finish cycle log", zap.String("cycle_id", report.CycleID), zap.Error(err))
		}
	}

	msg := signal.NewMessage(report.CycleID, r.opts.JobName, report.FinishedAt.In(r.opts.Location), report.Snapshot.RowCount, cycleErr)
	if err := r.deps.Signal.Publish(ctx, msg); err != nil {
		r.logger.Warn("failed to publish completion message", zap.String("cycle_id", report.CycleID), zap.Error(err))
	}

	if r.opts.Retention > 0 {
		if err := r.deps.Log.Cleanup(ctx, r.opts.Retention); err != nil {
			r.logger.Warn("cleanup failed", zap.Error(err))
		}
	}
}
