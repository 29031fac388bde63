package services

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/database"
	"github.com/temcen/cinesense/internal/metrics"
)

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

const healthCheckTimeout = 5 * time.Second

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Components  map[string]string      `json:"components"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Latency     time.Duration          `json:"latency,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

type healthCheck func(ctx context.Context) error

// ConsumerStats reports counters of the retrain request consumer.
type ConsumerStats interface {
	GetMetrics() map[string]interface{}
}

// HealthService reports whether a model set is serving and whether the
// configured backing stores answer. The model and Postgres are critical;
// Redis only degrades caching and snapshotting.
type HealthService struct {
	models      ModelProvider
	consumer    ConsumerStats
	critical    map[string]healthCheck
	nonCritical map[string]healthCheck
	metrics     *metrics.Metrics
	logger      *logrus.Logger
}

// NewHealthService creates the checks for the configured dependencies. db and
// consumer may be nil.
func NewHealthService(
	models ModelProvider,
	db *database.Database,
	consumer ConsumerStats,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *HealthService {
	hs := &HealthService{
		models:      models,
		consumer:    consumer,
		critical:    make(map[string]healthCheck),
		nonCritical: make(map[string]healthCheck),
		metrics:     m,
		logger:      logger,
	}

	hs.critical["model"] = hs.checkModel
	if db != nil && db.PG != nil {
		hs.critical["postgresql"] = db.PG.Ping
	}
	if db != nil && db.Redis != nil {
		hs.nonCritical["redis"] = redisCheck(db.Redis)
	}
	return hs
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp:  start,
		Components: make(map[string]string),
		Details:    make(map[string]interface{}),
	}

	status.Critical = s.runChecks(ctx, s.critical, status, logrus.ErrorLevel)
	status.NonCritical = s.runChecks(ctx, s.nonCritical, status, logrus.WarnLevel)

	switch {
	case len(status.Critical) > 0:
		status.Status = HealthStatusUnhealthy
	case len(status.NonCritical) > 0:
		status.Status = HealthStatusDegraded
	default:
		status.Status = HealthStatusHealthy
	}

	if set, err := s.models.Current(); err == nil {
		status.Details["run_id"] = set.RunID.String()
		status.Details["trained_at"] = set.TrainedAt
		status.Details["items"] = len(set.Catalog)
		status.Details["users"] = len(set.Users)
		status.Details["ratings"] = len(set.Ratings)
	}
	if s.consumer != nil {
		stats := s.consumer.GetMetrics()
		status.Details["kafka"] = stats
		if lag, ok := stats["consumer_lag"].(int64); ok {
			s.metrics.SetConsumerLag(lag)
		}
	}
	status.Latency = time.Since(start)

	return status
}

// runChecks runs checks in name order and returns the names that failed.
func (s *HealthService) runChecks(ctx context.Context, checks map[string]healthCheck, status *HealthStatus, level logrus.Level) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := checks[name](checkCtx)
		cancel()

		if err != nil {
			status.Components[name] = HealthStatusUnhealthy
			failed = append(failed, name)
			s.logger.WithError(err).WithField("component", name).Log(level, "Health check failed")
		} else {
			status.Components[name] = HealthStatusHealthy
		}
		s.metrics.SetHealth(name, err == nil)
	}
	return failed
}

func (s *HealthService) checkModel(_ context.Context) error {
	_, err := s.models.Current()
	return err
}

func redisCheck(client *redis.Client) healthCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
