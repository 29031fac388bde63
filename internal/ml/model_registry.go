package ml

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/pkg/models"
)

// RegistryConfig bundles the configuration of every model in a set.
type RegistryConfig struct {
	ALS         ALSConfig         `json:"als"`
	Demographic DemographicConfig `json:"demographic"`
	Hybrid      HybridWeights     `json:"hybrid"`
	Fusion      FusionConfig      `json:"fusion"`
}

// DefaultRegistryConfig returns defaults for every model.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ALS:         DefaultALSConfig(),
		Demographic: DefaultDemographicConfig(),
		Hybrid:      DefaultHybridWeights(),
		Fusion:      FusionConfig{TFIDF: DefaultTFIDFConfig()},
	}
}

// Hash fingerprints the configuration for snapshot metadata.
func (c RegistryConfig) Hash() string {
	data, _ := json.Marshal(c)
	return fmt.Sprintf("%x", sha256.Sum256(data))[:16]
}

// ModelSet is one immutable training run: every sub-model plus the combiner
// built over them.
type ModelSet struct {
	RunID      uuid.UUID
	TrainedAt  time.Time
	ConfigHash string
	Config     RegistryConfig

	Catalog []models.Item
	Users   []models.User
	Ratings []models.Rating

	ALS         *ALSModel
	Content     *ContentModel
	Demographic *DemographicModel
	Hybrid      *HybridRecommender

	itemRows map[int64]int
	userRows map[string]int
	watched  map[string][]int64
}

// Recommend runs the hybrid combiner.
func (s *ModelSet) Recommend(ctx context.Context, userID string, topN int, seeds []string) []models.ScoredItem {
	return s.Hybrid.Recommend(ctx, userID, topN, seeds)
}

// RecommendSimilar runs the content model.
func (s *ModelSet) RecommendSimilar(ctx context.Context, ref string, topN int) ([]int64, error) {
	return s.Content.RecommendSimilar(ctx, ref, topN)
}

// RecommendByGenre runs the cold-start genre filter over the set's catalog.
func (s *ModelSet) RecommendByGenre(genre string, limit int) []int64 {
	return RecommendByGenre(genre, s.Catalog, limit)
}

// Item returns the catalog row for itemID.
func (s *ModelSet) Item(itemID int64) (models.Item, bool) {
	row, ok := s.itemRows[itemID]
	if !ok {
		return models.Item{}, false
	}
	return s.Catalog[row], true
}

// User returns the demographic row for userID.
func (s *ModelSet) User(userID string) (models.User, bool) {
	row, ok := s.userRows[userID]
	if !ok {
		return models.User{}, false
	}
	return s.Users[row], true
}

// Watched returns the ids of items userID rated, in rating order.
func (s *ModelSet) Watched(userID string) []int64 {
	return s.watched[userID]
}

func (s *ModelSet) index() {
	s.itemRows = make(map[int64]int, len(s.Catalog))
	for i, item := range s.Catalog {
		if _, dup := s.itemRows[item.ID]; !dup {
			s.itemRows[item.ID] = i
		}
	}
	s.userRows = make(map[string]int, len(s.Users))
	for i, u := range s.Users {
		s.userRows[u.ID] = i
	}
	s.watched = make(map[string][]int64)
	for _, r := range s.Ratings {
		s.watched[r.UserID] = append(s.watched[r.UserID], r.ItemID)
	}
}

// Snapshot is the persistent form of a ModelSet.
type Snapshot struct {
	RunID      string         `json:"run_id"`
	TrainedAt  time.Time      `json:"trained_at"`
	ConfigHash string         `json:"config_hash"`
	Config     RegistryConfig `json:"config"`

	UserIDs     []string    `json:"user_ids"`
	ItemIDs     []int64     `json:"item_ids"`
	UserFactors [][]float64 `json:"user_factors"`
	ItemFactors [][]float64 `json:"item_factors"`

	Catalog []models.Item   `json:"catalog"`
	Vectors [][]float64     `json:"vectors"`
	Users   []models.User   `json:"users"`
	Ratings []models.Rating `json:"ratings"`
}

// SnapshotStore persists snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// ModelRegistry owns the current ModelSet. Readers get the published set
// through an atomic pointer; training builds a fresh set off to the side and
// swaps it in whole.
type ModelRegistry struct {
	config RegistryConfig
	words  *WordVectors
	store  SnapshotStore
	logger *logrus.Logger

	current atomic.Pointer[ModelSet]
	trainMu sync.Mutex
}

// NewModelRegistry creates an empty registry. words and store may be nil.
func NewModelRegistry(cfg RegistryConfig, words *WordVectors, store SnapshotStore, logger *logrus.Logger) *ModelRegistry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ModelRegistry{
		config: cfg,
		words:  words,
		store:  store,
		logger: logger,
	}
}

// Current returns the published model set.
func (r *ModelRegistry) Current() (*ModelSet, error) {
	set := r.current.Load()
	if set == nil {
		return nil, ErrNoModel
	}
	return set, nil
}

// Swap publishes set and returns the one it replaced.
func (r *ModelRegistry) Swap(set *ModelSet) *ModelSet {
	prev := r.current.Swap(set)

	fields := logrus.Fields{"run_id": set.RunID}
	if prev != nil {
		fields["previous_run_id"] = prev.RunID
	}
	r.logger.WithFields(fields).Info("Model set swapped")
	return prev
}

// Train builds a model set from ds, publishes it and saves a snapshot when a
// store is configured. A failed save is logged; the new set stays live.
// Concurrent calls are serialized.
func (r *ModelRegistry) Train(ctx context.Context, ds models.Dataset) (*ModelSet, error) {
	r.trainMu.Lock()
	defer r.trainMu.Unlock()

	start := time.Now()
	catalog := ds.Items
	if !hasRatingStats(catalog) {
		catalog = models.WithRatingStats(catalog, ds.Ratings)
	}

	vectors := ds.Vectors
	if len(vectors) != len(catalog) {
		vectors = NewFusedVectorBuilder(r.config.Fusion, r.words, r.logger).Build(catalog)
	}

	als := NewALSModel(r.config.ALS, r.logger)
	if err := als.Train(ctx, ds.Ratings); err != nil {
		return nil, fmt.Errorf("train collaborative model: %w", err)
	}

	set, err := r.assemble(r.config, uuid.New(), time.Now(), als, vectors, catalog, ds.Users, ds.Ratings)
	if err != nil {
		return nil, err
	}

	r.Swap(set)

	r.logger.WithFields(logrus.Fields{
		"run_id":      set.RunID,
		"ratings":     len(ds.Ratings),
		"items":       len(catalog),
		"users":       len(ds.Users),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Model set trained")

	if r.store != nil {
		if err := r.store.Save(ctx, r.snapshotOf(set, vectors)); err != nil {
			r.logger.WithError(err).WithField("run_id", set.RunID).Error("Failed to save model snapshot")
		}
	}
	return set, nil
}

// Load restores the stored snapshot and publishes it.
func (r *ModelRegistry) Load(ctx context.Context) (*ModelSet, error) {
	if r.store == nil {
		return nil, fmt.Errorf("no snapshot store configured")
	}
	snap, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	set, err := r.Restore(snap)
	if err != nil {
		return nil, err
	}
	r.Swap(set)
	return set, nil
}

// Restore rebuilds a model set from snap without publishing it. Every model
// is rebuilt with the configuration stored in the snapshot, not the
// registry's own.
func (r *ModelRegistry) Restore(snap *Snapshot) (*ModelSet, error) {
	if snap == nil {
		return nil, errors.New("nil snapshot")
	}
	runID, err := uuid.Parse(snap.RunID)
	if err != nil {
		return nil, fmt.Errorf("snapshot run id: %w", err)
	}

	cfg := snap.Config
	als, err := NewALSFromFactors(cfg.ALS, snap.UserIDs, snap.ItemIDs, snap.UserFactors, snap.ItemFactors, r.logger)
	if err != nil {
		return nil, fmt.Errorf("restore collaborative model: %w", err)
	}

	set, err := r.assemble(cfg, runID, snap.TrainedAt, als, snap.Vectors, snap.Catalog, snap.Users, snap.Ratings)
	if err != nil {
		return nil, err
	}
	set.ConfigHash = snap.ConfigHash

	r.logger.WithFields(logrus.Fields{
		"run_id":     set.RunID,
		"trained_at": set.TrainedAt,
	}).Info("Model set restored from snapshot")
	return set, nil
}

// Snapshot returns the persistent form of the current set.
func (r *ModelRegistry) Snapshot() (*Snapshot, error) {
	set, err := r.Current()
	if err != nil {
		return nil, err
	}
	return r.snapshotOf(set, set.Content.Vectors()), nil
}

func (r *ModelRegistry) assemble(
	cfg RegistryConfig,
	runID uuid.UUID,
	trainedAt time.Time,
	als *ALSModel,
	vectors [][]float64,
	catalog []models.Item,
	users []models.User,
	ratings []models.Rating,
) (*ModelSet, error) {
	content, err := NewContentModel(vectors, catalog, r.logger)
	if err != nil {
		return nil, fmt.Errorf("build content model: %w", err)
	}

	demo := NewDemographicModel(users, ratings, catalog, cfg.Demographic, r.logger)
	demo.BuildProfiles()

	hybrid, err := NewHybridRecommender(als, content, demo, cfg.Hybrid, r.logger)
	if err != nil {
		return nil, err
	}

	set := &ModelSet{
		RunID:       runID,
		TrainedAt:   trainedAt,
		ConfigHash:  cfg.Hash(),
		Config:      cfg,
		Catalog:     catalog,
		Users:       users,
		Ratings:     ratings,
		ALS:         als,
		Content:     content,
		Demographic: demo,
		Hybrid:      hybrid,
	}
	set.index()
	return set, nil
}

func (r *ModelRegistry) snapshotOf(set *ModelSet, vectors [][]float64) *Snapshot {
	cfg := set.Config
	cfg.ALS = set.ALS.Config()
	return &Snapshot{
		RunID:       set.RunID.String(),
		TrainedAt:   set.TrainedAt.UTC(),
		ConfigHash:  set.ConfigHash,
		Config:      cfg,
		UserIDs:     set.ALS.UserIDs(),
		ItemIDs:     set.ALS.ItemIDs(),
		UserFactors: set.ALS.UserFactors(),
		ItemFactors: set.ALS.ItemFactors(),
		Catalog:     set.Catalog,
		Vectors:     vectors,
		Users:       set.Users,
		Ratings:     set.Ratings,
	}
}

func hasRatingStats(items []models.Item) bool {
	for _, item := range items {
		if item.RatingCount > 0 {
			return true
		}
	}
	return false
}
