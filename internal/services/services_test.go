package services

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinesense/internal/config"
	"github.com/temcen/cinesense/internal/database"
	"github.com/temcen/cinesense/internal/dataset"
	"github.com/temcen/cinesense/internal/ml"
)

func TestNewLoader(t *testing.T) {
	loader, err := NewLoader(config.DataConfig{Source: "csv", Dir: t.TempDir()}, nil, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &dataset.CSVLoader{}, loader)

	_, err = NewLoader(config.DataConfig{Source: "postgres"}, nil, testLogger())
	assert.Error(t, err)

	_, err = NewLoader(config.DataConfig{Source: "parquet"}, nil, testLogger())
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	cfg := &config.Config{
		Data:           config.DataConfig{Source: "csv", Dir: t.TempDir()},
		Recommendation: testRecommendationConfig(),
	}
	registry := ml.NewModelRegistry(testRegistryConfig(), nil, nil, testLogger())

	svc, err := New(cfg, testLogger(), nil, registry, nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc.Recommendation)
	assert.NotNil(t, svc.Training)
	assert.NotNil(t, svc.Health)
	assert.Nil(t, svc.MessageBus)
	assert.Nil(t, svc.Recommendation.watched)
}

func TestNew_PostgresWatchedSource(t *testing.T) {
	pool, err := pgxpool.New(context.Background(), "postgres://cinesense@127.0.0.1:1/cinesense")
	require.NoError(t, err)
	defer pool.Close()

	cfg := &config.Config{
		Data:           config.DataConfig{Source: "postgres"},
		Recommendation: testRecommendationConfig(),
	}
	registry := ml.NewModelRegistry(testRegistryConfig(), nil, nil, testLogger())

	svc, err := New(cfg, testLogger(), &database.Database{PG: pool}, registry, nil, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &dataset.PostgresLoader{}, svc.Recommendation.watched)
}
