package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/temcen/cinesense/internal/ml"
)

type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Data           DataConfig           `mapstructure:"data"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Snapshot       SnapshotConfig       `mapstructure:"snapshot"`
	Models         ModelConfig          `mapstructure:"models"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
}

type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"oneof=development staging production test"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// DataConfig selects where training data is read from.
type DataConfig struct {
	Source      string `mapstructure:"source" validate:"oneof=csv postgres"`
	Dir         string `mapstructure:"dir" validate:"required_if=Source csv"`
	WordVectors string `mapstructure:"word_vectors"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections" validate:"min=1"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url" validate:"required_if=Enabled true"`
	DB         int           `mapstructure:"db" validate:"min=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0"`
	PoolSize   int           `mapstructure:"pool_size" validate:"min=1"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	GroupID string   `mapstructure:"group_id"`
	Topics  struct {
		RetrainRequests string `mapstructure:"retrain_requests"`
		ModelEvents     string `mapstructure:"model_events"`
	} `mapstructure:"topics"`
}

// SnapshotConfig controls model persistence. Dir empty disables file
// snapshots; RedisKey empty disables Redis snapshots.
type SnapshotConfig struct {
	Dir         string        `mapstructure:"dir"`
	Keep        int           `mapstructure:"keep" validate:"min=1"`
	RedisKey    string        `mapstructure:"redis_key"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl" validate:"min=0"`
	LoadOnStart bool          `mapstructure:"load_on_start"`
}

type ModelConfig struct {
	ALS         ALSConfig         `mapstructure:"als"`
	Demographic DemographicConfig `mapstructure:"demographic"`
	Hybrid      HybridConfig      `mapstructure:"hybrid"`
	TFIDF       TFIDFConfig       `mapstructure:"tfidf"`
}

type ALSConfig struct {
	Factors        int     `mapstructure:"factors" validate:"min=1,max=1024"`
	Regularization float64 `mapstructure:"regularization" validate:"gt=0"`
	Iterations     int     `mapstructure:"iterations" validate:"min=1"`
	Alpha          float64 `mapstructure:"alpha" validate:"gt=0"`
	Seed           int64   `mapstructure:"seed"`
	Workers        int     `mapstructure:"workers" validate:"min=0"`
}

type DemographicConfig struct {
	AgeWeight     float64 `mapstructure:"age_weight" validate:"gte=0,lte=1"`
	GenderWeight  float64 `mapstructure:"gender_weight" validate:"gte=0,lte=1"`
	GenreWeight   float64 `mapstructure:"genre_weight" validate:"gte=0,lte=1"`
	LikeThreshold float64 `mapstructure:"like_threshold" validate:"gt=0,lte=5"`
	Neighbors     int     `mapstructure:"neighbors" validate:"min=1"`
}

type HybridConfig struct {
	Collaborative float64 `mapstructure:"collaborative" validate:"gte=0,lte=1"`
	Content       float64 `mapstructure:"content" validate:"gte=0,lte=1"`
	Demographic   float64 `mapstructure:"demographic" validate:"gte=0,lte=1"`
}

type TFIDFConfig struct {
	MaxFeatures int `mapstructure:"max_features" validate:"min=1"`
}

type RecommendationConfig struct {
	DefaultCount         int           `mapstructure:"default_count" validate:"min=1,max=100"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl" validate:"min=0"`
	PopularityMinRatings int           `mapstructure:"popularity_min_ratings" validate:"min=0"`
	TrendingLimit        int           `mapstructure:"trending_limit" validate:"min=1"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        string `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// Load reads config/app.yaml (or ./app.yaml) with environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads the configuration at path with environment overrides.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Set defaults
	setDefaults(v)

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks field ranges and that the hybrid weights sum to 1.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Models.Registry().Hybrid.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Registry converts the model section into the registry configuration.
func (m ModelConfig) Registry() ml.RegistryConfig {
	return ml.RegistryConfig{
		ALS: ml.ALSConfig{
			Factors:        m.ALS.Factors,
			Regularization: m.ALS.Regularization,
			Iterations:     m.ALS.Iterations,
			Alpha:          m.ALS.Alpha,
			Seed:           m.ALS.Seed,
			Workers:        m.ALS.Workers,
		},
		Demographic: ml.DemographicConfig{
			Weights: ml.DemographicWeights{
				Age:    m.Demographic.AgeWeight,
				Gender: m.Demographic.GenderWeight,
				Genre:  m.Demographic.GenreWeight,
			},
			LikeThreshold: m.Demographic.LikeThreshold,
			Neighbors:     m.Demographic.Neighbors,
		},
		Hybrid: ml.HybridWeights{
			Collaborative: m.Hybrid.Collaborative,
			Content:       m.Hybrid.Content,
			Demographic:   m.Hybrid.Demographic,
		},
		Fusion: ml.FusionConfig{TFIDF: ml.TFIDFConfig{MaxFeatures: m.TFIDF.MaxFeatures}},
	}
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "cinesense")
	v.SetDefault("app.environment", "development")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Data defaults
	v.SetDefault("data.source", "csv")
	v.SetDefault("data.dir", "./data/ml-latest-small")
	v.SetDefault("data.word_vectors", "")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", "5s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "cinesense")
	v.SetDefault("kafka.topics.retrain_requests", "cinesense.retrain")
	v.SetDefault("kafka.topics.model_events", "cinesense.models")

	// Snapshot defaults
	v.SetDefault("snapshot.dir", "./snapshots")
	v.SetDefault("snapshot.keep", 3)
	v.SetDefault("snapshot.redis_key", "")
	v.SetDefault("snapshot.redis_ttl", "0s")
	v.SetDefault("snapshot.load_on_start", true)

	// Model defaults
	v.SetDefault("models.als.factors", 50)
	v.SetDefault("models.als.regularization", 0.1)
	v.SetDefault("models.als.iterations", 20)
	v.SetDefault("models.als.alpha", 1.0)
	v.SetDefault("models.als.seed", 42)
	v.SetDefault("models.als.workers", 4)
	v.SetDefault("models.demographic.age_weight", 0.31)
	v.SetDefault("models.demographic.gender_weight", 0.27)
	v.SetDefault("models.demographic.genre_weight", 0.42)
	v.SetDefault("models.demographic.like_threshold", 4.0)
	v.SetDefault("models.demographic.neighbors", 5)
	v.SetDefault("models.hybrid.collaborative", 0.4)
	v.SetDefault("models.hybrid.content", 0.3)
	v.SetDefault("models.hybrid.demographic", 0.3)
	v.SetDefault("models.tfidf.max_features", 5000)

	// Recommendation defaults
	v.SetDefault("recommendation.default_count", 10)
	v.SetDefault("recommendation.cache_ttl", "15m")
	v.SetDefault("recommendation.popularity_min_ratings", 20)
	v.SetDefault("recommendation.trending_limit", 10)

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.port", "9090")
	v.SetDefault("monitoring.metrics_path", "/metrics")
}
