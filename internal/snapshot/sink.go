package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/lon-trans/bus-density/internal/models"
	"github.com/lon-trans/bus-density/internal/retry"
)

// Published describes a successful Publish
type Published struct {
	Path     string
	RowCount int
	Attempts int
}

// FileSink writes snapshots under a root directory. Readers of the latest
// path only ever see a complete file: rows land in the staging path first
// and are then renamed over the latest path.
type FileSink struct {
	logger      *zap.Logger
	stagingPath string
	latestPath  string
	policy      retry.Policy

	rename func(oldpath, newpath string) error
}

// NewFileSink creates a sink writing to dir/stagingName and promoting to dir/latestName
func NewFileSink(logger *zap.Logger, dir, stagingName, latestName string, attempts int, backoff time.Duration) *FileSink {
	logger = logger.With(zap.String("component", "snapshot"))
	return &FileSink{
		logger:      logger,
		stagingPath: filepath.Join(dir, stagingName),
		latestPath:  filepath.Join(dir, latestName),
		policy: retry.Policy{
			MaxAttempts: attempts,
			Backoff:     backoff,
			OnRetry: func(attempt int, err error, wait time.Duration) {
				logger.Warn("snapshot promote failed, retrying",
					zap.Int("attempt", attempt),
					zap.Duration("wait", wait),
					zap.Error(err),
				)
			},
		},
		rename: os.Rename,
	}
}

// LatestPath is where promoted snapshots live
func (s *FileSink) LatestPath() string {
	return s.latestPath
}

// Publish stages rows and promotes them to the latest path. When the promote
// exhausts its attempts the previous latest file is left untouched.
func (s *FileSink) Publish(ctx context.Context, rows []models.EnrichedArrival) (Published, error) {
	if err := s.writeStaging(rows); err != nil {
		return Published{}, err
	}

	if err := os.MkdirAll(filepath.Dir(s.latestPath), 0o755); err != nil {
		return Published{}, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	res := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.rename(s.stagingPath, s.latestPath)
	})
	if !res.OK() {
		return Published{Attempts: res.Attempts}, fmt.Errorf("failed to promote snapshot: %w", res.Err)
	}

	s.logger.Info("snapshot promoted",
		zap.String("path", s.latestPath),
		zap.Int("row_count", len(rows)),
		zap.Int("attempts", res.Attempts),
	)
	return Published{Path: s.latestPath, RowCount: len(rows), Attempts: res.Attempts}, nil
}

func (s *FileSink) writeStaging(rows []models.EnrichedArrival) error {
	if err := os.MkdirAll(filepath.Dir(s.stagingPath), 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	f, err := os.Create(s.stagingPath)
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}

	if err := gocsv.MarshalFile(toRows(rows), f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write staging snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync staging snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close staging snapshot: %w", err)
	}

	s.logger.Debug("staging snapshot written",
		zap.String("path", s.stagingPath),
		zap.Int("row_count", len(rows)),
	)
	return nil
}
