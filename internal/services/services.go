package services

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/config"
	"github.com/temcen/cinesense/internal/database"
	"github.com/temcen/cinesense/internal/dataset"
	"github.com/temcen/cinesense/internal/messaging"
	"github.com/temcen/cinesense/internal/metrics"
	"github.com/temcen/cinesense/internal/ml"
	"github.com/temcen/cinesense/internal/validation"
)

type Services struct {
	Recommendation *RecommendationService
	Training       *TrainingService
	Health         *HealthService
	MessageBus     *messaging.MessageBus
}

// New wires the services around registry. bus and m may be nil.
func New(
	cfg *config.Config,
	logger *logrus.Logger,
	db *database.Database,
	registry *ml.ModelRegistry,
	schemas *validation.SchemaValidator,
	bus *messaging.MessageBus,
	m *metrics.Metrics,
) (*Services, error) {
	if db == nil {
		db = &database.Database{}
	}
	loader, err := NewLoader(cfg.Data, db, logger)
	if err != nil {
		return nil, err
	}

	var (
		publisher EventPublisher
		consumer  ConsumerStats
	)
	if bus != nil {
		publisher = bus
		consumer = bus
	}

	recommendation := NewRecommendationService(registry, db.Redis, schemas, m, cfg.Recommendation, logger)
	if pg, ok := loader.(*dataset.PostgresLoader); ok {
		recommendation.WithWatchedSource(pg)
	}

	return &Services{
		Recommendation: recommendation,
		Training:       NewTrainingService(loader, registry, publisher, m, logger),
		Health:         NewHealthService(registry, db, consumer, m, logger),
		MessageBus:     bus,
	}, nil
}

// NewLoader selects the dataset loader for the configured source.
func NewLoader(cfg config.DataConfig, db *database.Database, logger *logrus.Logger) (dataset.Loader, error) {
	switch cfg.Source {
	case "csv":
		return dataset.NewCSVLoader(cfg.Dir, logger), nil
	case "postgres":
		if db == nil || db.PG == nil {
			return nil, fmt.Errorf("postgres data source requires a database connection")
		}
		return dataset.NewPostgresLoader(db.PG, logger), nil
	}
	return nil, fmt.Errorf("unknown data source %q", cfg.Source)
}
