package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinesense/internal/database"
	"github.com/temcen/cinesense/internal/metrics"
	"github.com/temcen/cinesense/internal/ml"
)

func TestHealthService_CheckHealth(t *testing.T) {
	ctx := context.Background()

	t.Run("no model is unhealthy", func(t *testing.T) {
		provider := &mockProvider{}
		provider.On("Current").Return(nil, ml.ErrNoModel)

		status := NewHealthService(provider, nil, nil, nil, testLogger()).CheckHealth(ctx)
		assert.Equal(t, HealthStatusUnhealthy, status.Status)
		assert.Equal(t, []string{"model"}, status.Critical)
		assert.Equal(t, HealthStatusUnhealthy, status.Components["model"])
		assert.NotContains(t, status.Details, "run_id")
	})

	t.Run("serving model is healthy", func(t *testing.T) {
		set := trainedSet(t, testDataset())
		provider := &mockProvider{}
		provider.On("Current").Return(set, nil)

		status := NewHealthService(provider, &database.Database{}, nil, nil, testLogger()).CheckHealth(ctx)
		require.Equal(t, HealthStatusHealthy, status.Status)
		assert.Empty(t, status.Critical)
		assert.Equal(t, set.RunID.String(), status.Details["run_id"])
		assert.Equal(t, len(set.Catalog), status.Details["items"])
	})

	t.Run("unreachable redis degrades", func(t *testing.T) {
		set := trainedSet(t, testDataset())
		provider := &mockProvider{}
		provider.On("Current").Return(set, nil)

		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})
		defer client.Close()

		status := NewHealthService(provider, &database.Database{Redis: client}, nil, nil, testLogger()).CheckHealth(ctx)
		assert.Equal(t, HealthStatusDegraded, status.Status)
		assert.Equal(t, []string{"redis"}, status.NonCritical)
		assert.Equal(t, HealthStatusHealthy, status.Components["model"])
	})

	t.Run("consumer stats reported", func(t *testing.T) {
		set := trainedSet(t, testDataset())
		provider := &mockProvider{}
		provider.On("Current").Return(set, nil)

		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg, reg)
		require.NoError(t, err)

		consumer := stubConsumer{"consumer_lag": int64(4), "messages_read": int64(12)}
		status := NewHealthService(provider, nil, consumer, m, testLogger()).CheckHealth(ctx)

		assert.Equal(t, HealthStatusHealthy, status.Status)
		assert.Equal(t, map[string]interface{}(consumer), status.Details["kafka"])

		expected := `
# HELP cinesense_retrain_consumer_lag Retrain request messages not yet consumed
# TYPE cinesense_retrain_consumer_lag gauge
cinesense_retrain_consumer_lag 4
`
		assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "cinesense_retrain_consumer_lag"))
	})
}

type stubConsumer map[string]interface{}

func (s stubConsumer) GetMetrics() map[string]interface{} { return s }
