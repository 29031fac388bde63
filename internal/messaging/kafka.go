package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/config"
	"github.com/temcen/cinesense/internal/validation"
)

// Event types carried on the model topics.
const (
	EventRetrainRequested = "retrain_requested"
	EventModelSwapped     = "model_swapped"
)

const (
	dlqSuffix      = ".dlq"
	maxRetries     = 3
	defaultBackoff = time.Second
)

// ModelEvent is the payload of both retrain requests and swap notices.
type ModelEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Stats() kafka.ReaderStats
	Close() error
}

// MessageBus publishes retrain requests and model swap events and consumes
// retrain requests. Messages that keep failing go to the retrain topic's DLQ.
type MessageBus struct {
	writer    messageWriter
	reader    messageReader
	dlqWriter messageWriter
	validator *validation.SchemaValidator
	logger    *logrus.Logger

	retrainTopic string
	eventsTopic  string
	backoff      time.Duration
}

// NewMessageBus creates a bus over the configured brokers. validator may be
// nil, in which case incoming payloads are only decoded.
func NewMessageBus(cfg config.KafkaConfig, validator *validation.SchemaValidator, logger *logrus.Logger) *MessageBus {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topics.RetrainRequests,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1e6, // 1MB
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.RetrainRequests + dlqSuffix,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return newMessageBus(writer, reader, dlqWriter, cfg.Topics.RetrainRequests, cfg.Topics.ModelEvents, validator, logger)
}

func newMessageBus(
	writer messageWriter,
	reader messageReader,
	dlqWriter messageWriter,
	retrainTopic, eventsTopic string,
	validator *validation.SchemaValidator,
	logger *logrus.Logger,
) *MessageBus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MessageBus{
		writer:       writer,
		reader:       reader,
		dlqWriter:    dlqWriter,
		validator:    validator,
		logger:       logger,
		retrainTopic: retrainTopic,
		eventsTopic:  eventsTopic,
		backoff:      defaultBackoff,
	}
}

// PublishRetrainRequest asks every consumer of the retrain topic to rebuild
// its models. It returns the request id.
func (mb *MessageBus) PublishRetrainRequest(ctx context.Context, reason, source string) (uuid.UUID, error) {
	event := ModelEvent{
		ID:        uuid.New(),
		Type:      EventRetrainRequested,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Source:    source,
	}
	return event.ID, mb.publish(ctx, mb.retrainTopic, event)
}

// PublishModelSwapped announces that runID is now serving.
func (mb *MessageBus) PublishModelSwapped(ctx context.Context, runID uuid.UUID) error {
	return mb.publish(ctx, mb.eventsTopic, ModelEvent{
		ID:        uuid.New(),
		Type:      EventModelSwapped,
		Timestamp: time.Now().UTC(),
		RunID:     runID.String(),
	})
}

func (mb *MessageBus) publish(ctx context.Context, topic string, event ModelEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.Type),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.writer.WriteMessages(ctx, msg); err != nil {
		mb.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to publish message to Kafka")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"topic":      topic,
	}).Info("Message published to Kafka")
	return nil
}

// DecodeEvent validates data against the retrain request schema and decodes
// it.
func (mb *MessageBus) DecodeEvent(data []byte) (ModelEvent, error) {
	if mb.validator != nil {
		if err := mb.validator.ValidateRetrainRequest(data).Err(); err != nil {
			return ModelEvent{}, fmt.Errorf("invalid event: %w", err)
		}
	}
	var event ModelEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ModelEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}

// ConsumeRetrainRequests reads retrain requests until ctx is done or the
// reader is closed. Malformed messages are logged and skipped; requests the
// handler keeps failing are sent to the DLQ.
func (mb *MessageBus) ConsumeRetrainRequests(ctx context.Context, handler func(context.Context, ModelEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		message, err := mb.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		event, err := mb.DecodeEvent(message.Value)
		if err != nil {
			mb.logger.WithError(err).WithField("offset", message.Offset).Error("Skipping malformed Kafka message")
			continue
		}
		if event.Type != EventRetrainRequested {
			continue
		}

		if err := mb.processWithRetry(ctx, event, handler); err != nil {
			mb.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to process message after retries")
			if errors.Is(err, context.Canceled) {
				return err
			}
			if dlqErr := mb.sendToDLQ(ctx, event, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
		}
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, event ModelEvent, handler func(context.Context, ModelEvent) error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := mb.backoff * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"event_id": event.ID,
				"attempt":  attempt,
				"delay":    delay,
			}).Info("Retrying message processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		event.RetryCount = attempt
		if err := handler(ctx, event); err != nil {
			mb.logger.WithError(err).WithFields(logrus.Fields{
				"event_id": event.ID,
				"attempt":  attempt,
			}).Warn("Message processing failed")

			if attempt == maxRetries {
				return fmt.Errorf("max retries exceeded: %w", err)
			}
			continue
		}

		mb.logger.WithFields(logrus.Fields{
			"event_id": event.ID,
			"attempt":  attempt,
		}).Info("Message processed successfully")
		return nil
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, event ModelEvent, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": event,
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now().UTC(),
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ID.String()),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "original_topic", Value: []byte(mb.retrainTopic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := mb.dlqWriter.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"event_id": event.ID,
		"error":    originalError.Error(),
	}).Warn("Message sent to DLQ")
	return nil
}

// Close closes the writers and the reader.
func (mb *MessageBus) Close() error {
	var errs []error
	if err := mb.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}
	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}
	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}
	return errors.Join(errs...)
}

// GetMetrics returns Kafka consumer metrics for monitoring
func (mb *MessageBus) GetMetrics() map[string]interface{} {
	stats := mb.reader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"bytes_read":      stats.Bytes,
		"rebalances":      stats.Rebalances,
		"timeouts":        stats.Timeouts,
		"errors":          stats.Errors,
	}
}
