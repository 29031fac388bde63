package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/cinesense/internal/config"
	"github.com/temcen/cinesense/internal/database"
	"github.com/temcen/cinesense/internal/dataset"
	"github.com/temcen/cinesense/internal/handlers"
	"github.com/temcen/cinesense/internal/messaging"
	"github.com/temcen/cinesense/internal/metrics"
	"github.com/temcen/cinesense/internal/ml"
	"github.com/temcen/cinesense/internal/services"
	"github.com/temcen/cinesense/internal/storage"
	"github.com/temcen/cinesense/internal/validation"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	registry *ml.ModelRegistry
	services *services.Services
	metrics  *metrics.Metrics
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	// Initialize metrics
	app.metrics, err = metrics.New(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Initialize model registry
	store, err := newSnapshotStore(cfg.Snapshot, db, schemas, app.logger)
	if err != nil {
		return nil, err
	}
	var words *ml.WordVectors
	if cfg.Data.WordVectors != "" {
		if words, err = dataset.LoadWordVectors(cfg.Data.WordVectors); err != nil {
			return nil, fmt.Errorf("failed to load word vectors: %w", err)
		}
		app.logger.WithFields(logrus.Fields{
			"words":     words.Len(),
			"dimension": words.Dimension(),
		}).Info("Word vectors loaded")
	}
	app.registry = ml.NewModelRegistry(cfg.Models.Registry(), words, store, app.logger)

	// Initialize message bus
	var bus *messaging.MessageBus
	if cfg.Kafka.Enabled {
		bus = messaging.NewMessageBus(cfg.Kafka, schemas, app.logger)
	}

	// Initialize services
	app.services, err = services.New(cfg, app.logger, db, app.registry, schemas, bus, app.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return app, nil
}

// newSnapshotStore returns the configured snapshot persistence, or nil when
// neither a directory nor a Redis key is set.
func newSnapshotStore(
	cfg config.SnapshotConfig,
	db *database.Database,
	schemas *validation.SchemaValidator,
	logger *logrus.Logger,
) (ml.SnapshotStore, error) {
	var stores []ml.SnapshotStore
	if cfg.Dir != "" {
		fs, err := storage.NewFileStore(cfg.Dir, cfg.Keep, schemas, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot directory: %w", err)
		}
		stores = append(stores, fs)
	}
	if cfg.RedisKey != "" && db != nil && db.Redis != nil {
		rs, err := storage.NewRedisStore(db.Redis, cfg.RedisKey, cfg.RedisTTL, schemas, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis snapshot store: %w", err)
		}
		stores = append(stores, rs)
	}

	switch len(stores) {
	case 0:
		return nil, nil
	case 1:
		return stores[0], nil
	}
	return storage.NewMultiStore(logger, stores...), nil
}

func (a *App) Services() *services.Services {
	return a.services
}

func (a *App) Registry() *ml.ModelRegistry {
	return a.registry
}

// Run publishes an initial model set, then serves metrics and consumes
// retrain requests until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.services.Training.Bootstrap(ctx, a.config.Snapshot.LoadOnStart); err != nil {
		return fmt.Errorf("failed to bootstrap models: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.config.Monitoring.Enabled {
		mux := http.NewServeMux()
		mux.Handle(a.config.Monitoring.MetricsPath, a.metrics.Handler())
		mux.Handle("/health", handlers.NewHealthHandler(a.logger, a.services.Health))
		server := &http.Server{
			Addr:              ":" + a.config.Monitoring.Port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			a.logger.WithField("port", a.config.Monitoring.Port).Info("Monitoring server started")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("monitoring server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if bus := a.services.MessageBus; bus != nil {
		g.Go(func() error {
			a.logger.Info("Consuming retrain requests")
			err := bus.ConsumeRetrainRequests(ctx, a.services.Training.HandleRetrainRequest)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	<-ctx.Done()
	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	var errs []error
	if a.services != nil && a.services.MessageBus != nil {
		if err := a.services.MessageBus.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing message bus")
			errs = append(errs, err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
