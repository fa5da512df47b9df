package signal

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher only logs the notice, for runs without a broker
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With(zap.String("component", "signal"))}
}

func (p *LogPublisher) Publish(_ context.Context, m Message) error {
	p.logger.Info(m.Message,
		zap.String("cycle_id", m.CycleID),
		zap.String("status", string(m.Status)),
		zap.Int("row_count", m.RowCount),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
