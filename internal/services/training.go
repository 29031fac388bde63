package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/dataset"
	"github.com/temcen/cinesense/internal/messaging"
	"github.com/temcen/cinesense/internal/metrics"
	"github.com/temcen/cinesense/internal/ml"
	"github.com/temcen/cinesense/pkg/models"
)

// Training job states.
const (
	JobStatusIdle       = "idle"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ModelTrainer is the registry surface the training service drives.
type ModelTrainer interface {
	ModelProvider
	Train(ctx context.Context, ds models.Dataset) (*ml.ModelSet, error)
	Load(ctx context.Context) (*ml.ModelSet, error)
}

// EventPublisher announces model swaps.
type EventPublisher interface {
	PublishModelSwapped(ctx context.Context, runID uuid.UUID) error
}

// TrainingStatus describes the latest training job.
type TrainingStatus struct {
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	RunID      uuid.UUID `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// TrainingService loads datasets and retrains the registry.
type TrainingService struct {
	loader    dataset.Loader
	registry  ModelTrainer
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *logrus.Logger

	mu     sync.RWMutex
	status TrainingStatus
}

// NewTrainingService creates the service. publisher and m may be nil.
func NewTrainingService(
	loader dataset.Loader,
	registry ModelTrainer,
	publisher EventPublisher,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *TrainingService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TrainingService{
		loader:    loader,
		registry:  registry,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		status:    TrainingStatus{Status: JobStatusIdle},
	}
}

// Bootstrap publishes a model set at startup: the stored snapshot when
// loadSnapshot is set and one is available, otherwise a fresh training run.
func (ts *TrainingService) Bootstrap(ctx context.Context, loadSnapshot bool) (*ml.ModelSet, error) {
	if loadSnapshot {
		set, err := ts.registry.Load(ctx)
		if err == nil {
			ts.metrics.SetModelTrainedAt(set.TrainedAt)
			ts.logger.WithField("run_id", set.RunID).Info("Serving model set from snapshot")
			return set, nil
		}
		ts.logger.WithError(err).Warn("No usable snapshot, training from scratch")
	}
	return ts.Retrain(ctx, "startup")
}

// Retrain loads the dataset and trains a new model set. The previous set
// keeps serving if any step fails.
func (ts *TrainingService) Retrain(ctx context.Context, reason string) (*ml.ModelSet, error) {
	start := time.Now()
	ts.setStatus(TrainingStatus{Status: JobStatusProcessing, Reason: reason, StartedAt: start})

	set, err := ts.retrain(ctx)
	ts.metrics.ObserveTraining(time.Since(start), err)

	status := TrainingStatus{Reason: reason, StartedAt: start, FinishedAt: time.Now()}
	if err != nil {
		status.Status = JobStatusFailed
		status.Error = err.Error()
		ts.setStatus(status)
		ts.logger.WithError(err).WithField("reason", reason).Error("Model retraining failed")
		return nil, err
	}
	status.Status = JobStatusCompleted
	status.RunID = set.RunID
	ts.setStatus(status)
	ts.metrics.SetModelTrainedAt(set.TrainedAt)

	if ts.publisher != nil {
		if err := ts.publisher.PublishModelSwapped(ctx, set.RunID); err != nil {
			ts.logger.WithError(err).WithField("run_id", set.RunID).Warn("Failed to publish model swap event")
		}
	}

	ts.logger.WithFields(logrus.Fields{
		"reason":      reason,
		"run_id":      set.RunID,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Model retraining completed")
	return set, nil
}

func (ts *TrainingService) retrain(ctx context.Context) (*ml.ModelSet, error) {
	ds, err := dataset.LoadAll(ctx, ts.loader)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	set, err := ts.registry.Train(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("failed to train models: %w", err)
	}
	return set, nil
}

// HandleRetrainRequest is the message bus handler for retrain requests.
func (ts *TrainingService) HandleRetrainRequest(ctx context.Context, event messaging.ModelEvent) error {
	reason := event.Reason
	if reason == "" {
		reason = "retrain request " + event.ID.String()
	}
	_, err := ts.Retrain(ctx, reason)
	return err
}

// Status returns the latest training job state.
func (ts *TrainingService) Status() TrainingStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.status
}

func (ts *TrainingService) setStatus(status TrainingStatus) {
	ts.mu.Lock()
	ts.status = status
	ts.mu.Unlock()
}
