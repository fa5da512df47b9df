// Package signal announces the end of every pipeline cycle so a downstream
// trigger can start the next one.
package signal

import (
	"context"
	"fmt"
	"time"
)

// Status is the outcome of a cycle
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// messageTimeLayout renders completedAt in the human-readable message text
const messageTimeLayout = "2006-01-02 15:04:05 MST"

// Message is the completion notice published after each cycle
type Message struct {
	CycleID     string    `json:"cycleId"`
	Job         string    `json:"job"`
	Status      Status    `json:"status"`
	CompletedAt time.Time `json:"completedAt"`
	RowCount    int       `json:"rowCount"`
	Error       string    `json:"error,omitempty"`
	Message     string    `json:"message"`
}

// NewMessage builds the completion notice. A non-nil cause marks the cycle failed.
func NewMessage(cycleID, job string, completedAt time.Time, rowCount int, cause error) Message {
	m := Message{
		CycleID:     cycleID,
		Job:         job,
		Status:      StatusSucceeded,
		CompletedAt: completedAt,
		RowCount:    rowCount,
	}
	ts := completedAt.Format(messageTimeLayout)

	if cause != nil {
		m.Status = StatusFailed
		m.Error = cause.Error()
		m.Message = fmt.Sprintf("Cloud Run Job '%s' failed to complete at %s. Triggering Pipeline One more time", job, ts)
		return m
	}

	m.Message = fmt.Sprintf("Cloud Run Job '%s' completed successfully at %s. Triggering Pipeline One more time", job, ts)
	return m
}

// Publisher delivers completion notices
type Publisher interface {
	Publish(ctx context.Context, m Message) error
	Close() error
}
