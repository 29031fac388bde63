package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinesense/internal/validation"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closeErr error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return w.closeErr }

type fakeReader struct {
	messages []kafka.Message
	stats    kafka.ReaderStats
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) Stats() kafka.ReaderStats { return r.stats }
func (r *fakeReader) Close() error             { return nil }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestBus(t *testing.T, reader *fakeReader) (*MessageBus, *fakeWriter, *fakeWriter) {
	t.Helper()
	validator, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	writer, dlq := &fakeWriter{}, &fakeWriter{}
	if reader == nil {
		reader = &fakeReader{}
	}
	bus := newMessageBus(writer, reader, dlq, "cinesense.retrain", "cinesense.models", validator, testLogger())
	bus.backoff = time.Millisecond
	return bus, writer, dlq
}

func retrainMessage(t *testing.T, reason string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(ModelEvent{
		ID:        uuid.New(),
		Type:      EventRetrainRequested,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Source:    "csv",
	})
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestMessageBus_PublishRetrainRequest(t *testing.T) {
	bus, writer, _ := newTestBus(t, nil)

	id, err := bus.PublishRetrainRequest(context.Background(), "nightly", "postgres")
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "cinesense.retrain", msg.Topic)
	assert.Equal(t, EventRetrainRequested, string(msg.Key))

	headers := make(map[string]string)
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, id.String(), headers["event_id"])
	assert.Equal(t, EventRetrainRequested, headers["event_type"])
	_, err = time.Parse(time.RFC3339, headers["timestamp"])
	assert.NoError(t, err)

	event, err := bus.DecodeEvent(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, id, event.ID)
	assert.Equal(t, "nightly", event.Reason)
	assert.Equal(t, "postgres", event.Source)
}

func TestMessageBus_PublishModelSwapped(t *testing.T) {
	bus, writer, _ := newTestBus(t, nil)
	runID := uuid.New()

	require.NoError(t, bus.PublishModelSwapped(context.Background(), runID))
	require.Len(t, writer.messages, 1)
	assert.Equal(t, "cinesense.models", writer.messages[0].Topic)

	var event ModelEvent
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	assert.Equal(t, EventModelSwapped, event.Type)
	assert.Equal(t, runID.String(), event.RunID)
}

func TestMessageBus_PublishError(t *testing.T) {
	bus, writer, _ := newTestBus(t, nil)
	writer.err = errors.New("broker down")

	_, err := bus.PublishRetrainRequest(context.Background(), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write message to Kafka")
}

func TestMessageBus_DecodeEvent(t *testing.T) {
	bus, _, _ := newTestBus(t, nil)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "valid request",
			payload: `{"id":"8a7f2c0e-8d0e-4a57-9a0e-4d7f3c5b1a2e","type":"retrain_requested","timestamp":"2024-05-01T10:00:00Z"}`,
		},
		{
			name:    "unknown type",
			payload: `{"id":"8a7f2c0e-8d0e-4a57-9a0e-4d7f3c5b1a2e","type":"reindex","timestamp":"2024-05-01T10:00:00Z"}`,
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			payload: `{"id":"8a7f2c0e-8d0e-4a57-9a0e-4d7f3c5b1a2e","type":"retrain_requested"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `retrain please`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bus.DecodeEvent([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMessageBus_ConsumeRetrainRequests(t *testing.T) {
	t.Run("handles valid requests and skips the rest", func(t *testing.T) {
		swapped, err := json.Marshal(ModelEvent{ID: uuid.New(), Type: EventModelSwapped, Timestamp: time.Now().UTC()})
		require.NoError(t, err)

		reader := &fakeReader{messages: []kafka.Message{
			retrainMessage(t, "first"),
			{Value: []byte("garbage")},
			{Value: swapped},
			retrainMessage(t, "second"),
		}}
		bus, _, dlq := newTestBus(t, reader)

		var reasons []string
		err = bus.ConsumeRetrainRequests(context.Background(), func(_ context.Context, e ModelEvent) error {
			reasons = append(reasons, e.Reason)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, reasons)
		assert.Empty(t, dlq.messages)
	})

	t.Run("retries then dead-letters", func(t *testing.T) {
		reader := &fakeReader{messages: []kafka.Message{retrainMessage(t, "doomed")}}
		bus, _, dlq := newTestBus(t, reader)

		attempts := 0
		err := bus.ConsumeRetrainRequests(context.Background(), func(_ context.Context, e ModelEvent) error {
			assert.Equal(t, attempts, e.RetryCount)
			attempts++
			return errors.New("training failed")
		})
		require.NoError(t, err)
		assert.Equal(t, maxRetries+1, attempts)

		require.Len(t, dlq.messages, 1)
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(dlq.messages[0].Value, &payload))
		assert.Contains(t, payload["error"], "training failed")
		assert.Contains(t, payload, "original_message")
	})

	t.Run("recovers after a transient failure", func(t *testing.T) {
		reader := &fakeReader{messages: []kafka.Message{retrainMessage(t, "flaky")}}
		bus, _, dlq := newTestBus(t, reader)

		attempts := 0
		err := bus.ConsumeRetrainRequests(context.Background(), func(context.Context, ModelEvent) error {
			attempts++
			if attempts == 1 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Empty(t, dlq.messages)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		bus, _, _ := newTestBus(t, &fakeReader{messages: []kafka.Message{retrainMessage(t, "x")}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := bus.ConsumeRetrainRequests(ctx, func(context.Context, ModelEvent) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMessageBus_Close(t *testing.T) {
	bus, writer, _ := newTestBus(t, nil)
	writer.closeErr = errors.New("flush failed")

	err := bus.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close producer")
}

func TestMessageBus_GetMetrics(t *testing.T) {
	bus, _, _ := newTestBus(t, &fakeReader{stats: kafka.ReaderStats{Lag: 3, Messages: 50, Bytes: 1024}})

	metrics := bus.GetMetrics()
	assert.Equal(t, int64(3), metrics["consumer_lag"])
	assert.Equal(t, int64(50), metrics["messages_read"])
	assert.Equal(t, int64(1024), metrics["bytes_read"])
}
