package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/internal/config"
	"github.com/temcen/cinesense/internal/metrics"
	"github.com/temcen/cinesense/internal/ml"
	"github.com/temcen/cinesense/internal/validation"
	"github.com/temcen/cinesense/pkg/models"
)

// Strategies reported in RecommendationResponse.Strategy.
const (
	StrategyHybrid          = "hybrid"
	StrategyColdStartGenre  = "cold_start_genre"
	StrategyPopular         = "popular"
	StrategyPopularFallback = "popular_fallback"
)

const (
	trendingMinRatings        = 10
	popularityScoreDiscount   = 0.8
	recommendationCachePrefix = "recommendations"
)

// ModelProvider returns the serving model set.
type ModelProvider interface {
	Current() (*ml.ModelSet, error)
}

// WatchedSource lists the items a user has rated in the live store. Ratings
// recorded after the last training run show up here before they reach a
// model set.
type WatchedSource interface {
	WatchedItems(ctx context.Context, userID string) ([]int64, error)
}

// RecommendationService answers recommendation queries against the serving
// model set. Results are cached in Redis per model run when a client is set.
type RecommendationService struct {
	provider ModelProvider
	watched  WatchedSource
	redis    *redis.Client
	schemas  *validation.SchemaValidator
	validate *validator.Validate
	metrics  *metrics.Metrics
	config   config.RecommendationConfig
	logger   *logrus.Logger
}

// NewRecommendationService creates the service. redis, schemas and m may be nil.
func NewRecommendationService(
	provider ModelProvider,
	redisClient *redis.Client,
	schemas *validation.SchemaValidator,
	m *metrics.Metrics,
	cfg config.RecommendationConfig,
	logger *logrus.Logger,
) *RecommendationService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.DefaultCount <= 0 {
		cfg.DefaultCount = 10
	}
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = 10
	}
	return &RecommendationService{
		provider: provider,
		redis:    redisClient,
		schemas:  schemas,
		validate: validator.New(),
		metrics:  m,
		config:   cfg,
		logger:   logger,
	}
}

// WithWatchedSource makes Recommend merge the live watched list of ws into the
// one captured at training time.
func (s *RecommendationService) WithWatchedSource(ws WatchedSource) *RecommendationService {
	s.watched = ws
	return s
}

// RecommendJSON validates a JSON request document and answers it.
func (s *RecommendationService) RecommendJSON(ctx context.Context, data []byte) (*models.RecommendationResponse, error) {
	if s.schemas != nil {
		if err := s.schemas.ValidateRecommendationRequest(data).Err(); err != nil {
			return nil, fmt.Errorf("invalid recommendation request: %w", err)
		}
	}
	var req models.RecommendationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode recommendation request: %w", err)
	}
	return s.Recommend(ctx, req)
}

// Recommend returns personalized recommendations for req.UserID.
//
// Users with rating history (or liked items in the request) go through the
// hybrid combiner; an empty hybrid result falls back to popular items. Users
// without history get their preferred genre's best-rated items, or popular
// items when no genre is known.
func (s *RecommendationService) Recommend(ctx context.Context, req models.RecommendationRequest) (*models.RecommendationResponse, error) {
	start := time.Now()
	if req.Count == 0 {
		req.Count = s.config.DefaultCount
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid recommendation request: %w", err)
	}

	set, err := s.provider.Current()
	if err != nil {
		return nil, err
	}

	cacheKey := s.buildCacheKey(set, req)
	if cached, err := s.getCachedResponse(ctx, cacheKey); err == nil {
		s.metrics.CacheHit()
		s.metrics.ObserveRecommendation(cached.Strategy, time.Since(start))
		return cached, nil
	} else if s.redis != nil {
		s.metrics.CacheMiss()
	}

	watched := s.watchedItems(ctx, set, req.UserID)
	var (
		scored   []models.ScoredItem
		strategy string
		reason   string
	)

	switch {
	case len(watched) > 0 || len(req.LikedItems) > 0:
		strategy, reason = StrategyHybrid, "Recommended for you"
		scored = s.hybrid(ctx, set, req, watched)
		if len(scored) == 0 {
			strategy, reason = StrategyPopularFallback, "Popular movie"
			scored = s.popular(set, req.Count, excludeSet(req.ExcludeWatched, watched))
		}
	default:
		user, _ := set.User(req.UserID)
		if user.PreferredGenre != "" {
			strategy, reason = StrategyColdStartGenre, "Popular "+user.PreferredGenre+" movie"
			scored = s.coldStart(set, user.PreferredGenre, req.Count)
		}
		if len(scored) == 0 {
			strategy, reason = StrategyPopular, "Popular movie"
			scored = s.popular(set, req.Count, nil)
		}
	}

	resp := &models.RecommendationResponse{
		UserID:          req.UserID,
		Recommendations: s.enrich(set, scored, reason),
		Strategy:        strategy,
		ModelRunID:      set.RunID,
		GeneratedAt:     time.Now().UTC(),
	}

	if err := s.cacheResponse(ctx, cacheKey, resp); err != nil {
		s.logger.WithError(err).WithField("user_id", req.UserID).Warn("Failed to cache recommendations")
	}

	s.metrics.ObserveRecommendation(strategy, time.Since(start))
	s.logger.WithFields(logrus.Fields{
		"user_id":  req.UserID,
		"strategy": strategy,
		"count":    len(resp.Recommendations),
		"run_id":   set.RunID,
	}).Debug("Recommendations generated")

	return resp, nil
}

func (s *RecommendationService) watchedItems(ctx context.Context, set *ml.ModelSet, userID string) []int64 {
	watched := set.Watched(userID)
	if s.watched == nil {
		return watched
	}
	live, err := s.watched.WatchedItems(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to load watched items, using model history")
		return watched
	}
	seen := make(map[int64]bool, len(watched)+len(live))
	merged := make([]int64, 0, len(watched)+len(live))
	for _, id := range append(append([]int64{}, watched...), live...) {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	return merged
}

func (s *RecommendationService) hybrid(ctx context.Context, set *ml.ModelSet, req models.RecommendationRequest, watched []int64) []models.ScoredItem {
	pool := req.Count
	exclude := excludeSet(req.ExcludeWatched, watched)
	pool += len(exclude)

	items, sources := set.Hybrid.RecommendWithSources(ctx, req.UserID, pool, req.LikedItems)
	s.metrics.ObserveSources(sources)

	out := make([]models.ScoredItem, 0, req.Count)
	for _, item := range items {
		if exclude[item.ItemID] {
			continue
		}
		out = append(out, item)
		if len(out) == req.Count {
			break
		}
	}
	return out
}

func (s *RecommendationService) coldStart(set *ml.ModelSet, genre string, limit int) []models.ScoredItem {
	eligible := make([]models.Item, 0)
	for _, item := range set.Catalog {
		if item.RatingCount >= s.config.PopularityMinRatings {
			eligible = append(eligible, item)
		}
	}
	ids := ml.RecommendByGenre(genre, eligible, limit)
	out := make([]models.ScoredItem, 0, len(ids))
	for _, id := range ids {
		item, _ := set.Item(id)
		out = append(out, models.ScoredItem{ItemID: id, Score: item.AvgRating / 5})
	}
	return out
}

// popular ranks items with at least PopularityMinRatings ratings by
// avg_rating * ln(rating_count + 1).
func (s *RecommendationService) popular(set *ml.ModelSet, limit int, exclude map[int64]bool) []models.ScoredItem {
	ranked := rankByPopularity(set.Catalog, func(item models.Item) bool {
		return item.RatingCount >= s.config.PopularityMinRatings && !exclude[item.ID]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]models.ScoredItem, len(ranked))
	for i, item := range ranked {
		out[i] = models.ScoredItem{ItemID: item.ID, Score: item.AvgRating / 5 * popularityScoreDiscount}
	}
	return out
}

// Popular returns the most popular items of the serving catalog.
func (s *RecommendationService) Popular(_ context.Context, limit int) ([]models.Recommendation, error) {
	set, err := s.provider.Current()
	if err != nil {
		return nil, err
	}
	return s.enrich(set, s.popular(set, limit, nil), "Popular movie"), nil
}

// Trending returns items with more than ten ratings ranked by popularity,
// scored avg/5 * (1 + count/1000).
func (s *RecommendationService) Trending(_ context.Context, limit int) ([]models.Recommendation, error) {
	if limit <= 0 {
		limit = s.config.TrendingLimit
	}
	set, err := s.provider.Current()
	if err != nil {
		return nil, err
	}

	ranked := rankByPopularity(set.Catalog, func(item models.Item) bool {
		return item.RatingCount > trendingMinRatings
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]models.Recommendation, len(ranked))
	for i, item := range ranked {
		out[i] = models.Recommendation{
			ItemID:   item.ID,
			Title:    item.Title,
			Genres:   item.Genres,
			Score:    item.AvgRating / 5 * (1 + float64(item.RatingCount)/1000),
			Reason:   "Trending now",
			Position: i + 1,
		}
	}
	return out, nil
}

// Similar returns items whose content is closest to the item referenced by
// ref (title or id).
func (s *RecommendationService) Similar(ctx context.Context, ref string, limit int) ([]models.Recommendation, error) {
	if limit <= 0 {
		limit = s.config.DefaultCount
	}
	set, err := s.provider.Current()
	if err != nil {
		return nil, err
	}

	source, ok := set.Content.Resolve(ref)
	if !ok {
		return []models.Recommendation{}, nil
	}
	scored, err := set.Content.RecommendSimilarByID(ctx, source.ID, limit)
	if err != nil {
		return nil, err
	}
	return s.enrich(set, scored, "Similar to "+source.Title), nil
}

// ByGenre returns the best-rated items tagged with genre.
func (s *RecommendationService) ByGenre(_ context.Context, genre string, limit int) ([]models.Recommendation, error) {
	if limit <= 0 {
		limit = s.config.DefaultCount
	}
	set, err := s.provider.Current()
	if err != nil {
		return nil, err
	}
	ids := set.RecommendByGenre(genre, limit)
	scored := make([]models.ScoredItem, len(ids))
	for i, id := range ids {
		item, _ := set.Item(id)
		scored[i] = models.ScoredItem{ItemID: id, Score: item.AvgRating / 5}
	}
	return s.enrich(set, scored, "Popular "+genre+" movie"), nil
}

func (s *RecommendationService) enrich(set *ml.ModelSet, scored []models.ScoredItem, reason string) []models.Recommendation {
	recs := make([]models.Recommendation, 0, len(scored))
	for _, si := range scored {
		item, ok := set.Item(si.ItemID)
		if !ok {
			continue
		}
		recs = append(recs, models.Recommendation{
			ItemID:   si.ItemID,
			Title:    item.Title,
			Genres:   item.Genres,
			Score:    math.Round(si.Score*1000) / 1000,
			Reason:   reason,
			Position: len(recs) + 1,
		})
	}
	return recs
}

func rankByPopularity(catalog []models.Item, keep func(models.Item) bool) []models.Item {
	ranked := make([]models.Item, 0)
	for _, item := range catalog {
		if keep(item) {
			ranked = append(ranked, item)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return popularity(ranked[i]) > popularity(ranked[j])
	})
	return ranked
}

func popularity(item models.Item) float64 {
	return item.AvgRating * math.Log(float64(item.RatingCount)+1)
}

func excludeSet(enabled bool, watched []int64) map[int64]bool {
	if !enabled || len(watched) == 0 {
		return nil
	}
	out := make(map[int64]bool, len(watched))
	for _, id := range watched {
		out[id] = true
	}
	return out
}

// Cache operations

var errCacheMiss = errors.New("cache miss")

func (s *RecommendationService) getCachedResponse(ctx context.Context, key string) (*models.RecommendationResponse, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("cache not available")
	}

	cached, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read recommendation cache")
		return nil, err
	}

	var resp models.RecommendationResponse
	if err := json.Unmarshal(cached, &resp); err != nil {
		return nil, err
	}
	resp.CacheHit = true
	return &resp, nil
}

func (s *RecommendationService) cacheResponse(ctx context.Context, key string, resp *models.RecommendationResponse) error {
	if s.redis == nil || s.config.CacheTTL <= 0 {
		return nil // No caching available, but not an error
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, s.config.CacheTTL).Err()
}

// buildCacheKey scopes entries to the model run so a swap never serves
// results of the previous set.
func (s *RecommendationService) buildCacheKey(set *ml.ModelSet, req models.RecommendationRequest) string {
	return fmt.Sprintf("%s:%s:%s:%d:%t:%s",
		recommendationCachePrefix,
		set.RunID,
		req.UserID,
		req.Count,
		req.ExcludeWatched,
		strings.Join(req.LikedItems, "|"),
	)
}
