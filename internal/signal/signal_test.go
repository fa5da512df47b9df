package signal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var completedAt = time.Date(2025, 7, 1, 11, 31, 0, 0, time.UTC)

func TestNewMessage(t *testing.T) {
	ok := NewMessage("c1", "bus-density-image", completedAt, 42, nil)
	assert.Equal(t, StatusSucceeded, ok.Status)
	assert.Empty(t, ok.Error)
	assert.Equal(t, "Cloud Run Job 'bus-density-image' completed successfully at 2025-07-01 11:31:00 UTC. Triggering Pipeline One more time", ok.Message)

	failed := NewMessage("c2", "bus-density-image", completedAt, 0, errors.New("feed down"))
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "feed down", failed.Error)
	assert.Equal(t, "Cloud Run Job 'bus-density-image' failed to complete at 2025-07-01 11:31:00 UTC. Triggering Pipeline One more time", failed.Message)
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, logger: zap.NewNop()}

	m := NewMessage("c1", "bus-density-image", completedAt, 42, nil)
	require.NoError(t, p.Publish(context.Background(), m))
	require.Len(t, w.msgs, 1)

	got := w.msgs[0]
	assert.Equal(t, "bus-density-image", string(got.Key))
	assert.Equal(t, completedAt, got.Time)

	var decoded Message
	require.NoError(t, json.Unmarshal(got.Value, &decoded))
	assert.Equal(t, m, decoded)

	var body map[string]any
	require.NoError(t, json.Unmarshal(got.Value, &body))
	assert.Equal(t, "succeeded", body["status"])
	assert.EqualValues(t, 42, body["rowCount"])
	assert.NotContains(t, body, "error")
}

func TestKafkaPublisherWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker unreachable")}, logger: zap.NewNop()}
	err := p.Publish(context.Background(), NewMessage("c1", "job", completedAt, 0, nil))
	assert.ErrorContains(t, err, "broker unreachable")
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	m := NewMessage("c1", "job", completedAt, 3, nil)
	require.NoError(t, p.Publish(context.Background(), m))
	require.Equal(t, 1, logs.Len())

	entry := logs.All()[0]
	assert.Equal(t, m.Message, entry.Message)
	assert.Equal(t, "c1", entry.ContextMap()["cycle_id"])
	assert.NoError(t, p.Close())
}
