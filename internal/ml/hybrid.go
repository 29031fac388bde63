package ml

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/cinesense/pkg/models"
)

// CollaborativeRecommender produces scored items for a user.
type CollaborativeRecommender interface {
	Recommend(ctx context.Context, userID string, n int) ([]models.ScoredItem, error)
}

// SimilarityRecommender produces items similar to a referenced item.
type SimilarityRecommender interface {
	RecommendSimilar(ctx context.Context, ref string, topN int) ([]int64, error)
}

// NeighborRecommender produces items liked by a user's nearest neighbours.
type NeighborRecommender interface {
	RecommendBySimilarity(ctx context.Context, userID string, topN int) ([]int64, error)
}

// Source names a sub-model feeding the combiner.
type Source string

const (
	SourceCollaborative Source = "collaborative"
	SourceContent       Source = "content"
	SourceDemographic   Source = "demographic"
)

// SourceStatus tags the outcome of one sub-model call.
type SourceStatus string

const (
	StatusOK          SourceStatus = "ok"
	StatusEmpty       SourceStatus = "empty"
	StatusUnavailable SourceStatus = "unavailable"
)

// SourceResult is the contribution of one sub-model. Items of unscored
// sources carry a score of 1.
type SourceResult struct {
	Source  Source              `json:"source"`
	Items   []models.ScoredItem `json:"items"`
	Status  SourceStatus        `json:"status"`
	Err     error               `json:"-"`
	Latency time.Duration       `json:"latency"`
}

// HybridWeights are the per-source blend weights. They must be
// non-negative and sum to 1.
type HybridWeights struct {
	Collaborative float64 `json:"collaborative" mapstructure:"collaborative" validate:"gte=0,lte=1"`
	Content       float64 `json:"content" mapstructure:"content" validate:"gte=0,lte=1"`
	Demographic   float64 `json:"demographic" mapstructure:"demographic" validate:"gte=0,lte=1"`
}

// DefaultHybridWeights returns the 0.4/0.3/0.3 blend.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Collaborative: 0.4, Content: 0.3, Demographic: 0.3}
}

const weightTolerance = 1e-6

// Validate checks the weights are non-negative and sum to 1.
func (w HybridWeights) Validate() error {
	if w.Collaborative < 0 || w.Content < 0 || w.Demographic < 0 {
		return fmt.Errorf("%w: negative weight in %+v", ErrInvalidWeights, w)
	}
	sum := w.Collaborative + w.Content + w.Demographic
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %g", ErrInvalidWeights, sum)
	}
	return nil
}

// seedNeighbours is how many content neighbours each liked item contributes.
const seedNeighbours = 3

// HybridRecommender blends the collaborative, content and demographic models.
// It holds references to the sub-models and keeps no per-request state.
type HybridRecommender struct {
	collaborative CollaborativeRecommender
	content       SimilarityRecommender
	demographic   NeighborRecommender
	weights       HybridWeights
	logger        *logrus.Logger
}

// NewHybridRecommender creates a combiner. Any sub-model may be nil, in which
// case its source is reported unavailable.
func NewHybridRecommender(
	collaborative CollaborativeRecommender,
	content SimilarityRecommender,
	demographic NeighborRecommender,
	weights HybridWeights,
	logger *logrus.Logger,
) (*HybridRecommender, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HybridRecommender{
		collaborative: collaborative,
		content:       content,
		demographic:   demographic,
		weights:       weights,
		logger:        logger,
	}, nil
}

// Weights returns the blend weights.
func (h *HybridRecommender) Weights() HybridWeights { return h.weights }

// Recommend returns at most topN items for userID. likedItems are titles or
// ids the user liked; each seeds the content model.
func (h *HybridRecommender) Recommend(ctx context.Context, userID string, topN int, likedItems []string) []models.ScoredItem {
	items, _ := h.RecommendWithSources(ctx, userID, topN, likedItems)
	return items
}

// RecommendWithSources is Recommend that also returns each source's result.
//
// Collaborative items contribute weight times their score, a pool of 2*topN
// is requested. Content and demographic items contribute their flat weight
// once per list they appear in. A failing source contributes nothing.
func (h *HybridRecommender) RecommendWithSources(
	ctx context.Context,
	userID string,
	topN int,
	likedItems []string,
) ([]models.ScoredItem, []SourceResult) {
	if topN <= 0 {
		return []models.ScoredItem{}, nil
	}

	results := make([]SourceResult, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		results[0] = h.runSource(SourceCollaborative, userID, func() ([]models.ScoredItem, error) {
			if h.collaborative == nil {
				return nil, fmt.Errorf("collaborative model not configured")
			}
			return h.collaborative.Recommend(ctx, userID, 2*topN)
		})
	}()
	go func() {
		defer wg.Done()
		results[1] = h.runSource(SourceContent, userID, func() ([]models.ScoredItem, error) {
			return h.contentCandidates(ctx, likedItems)
		})
	}()
	go func() {
		defer wg.Done()
		results[2] = h.runSource(SourceDemographic, userID, func() ([]models.ScoredItem, error) {
			if h.demographic == nil {
				return nil, fmt.Errorf("demographic model not configured")
			}
			ids, err := h.demographic.RecommendBySimilarity(ctx, userID, topN)
			return unscored(ids), err
		})
	}()
	wg.Wait()

	return h.combine(results, topN), results
}

func (h *HybridRecommender) contentCandidates(ctx context.Context, likedItems []string) ([]models.ScoredItem, error) {
	if len(likedItems) == 0 {
		return nil, nil
	}
	if h.content == nil {
		return nil, fmt.Errorf("content model not configured")
	}
	var out []models.ScoredItem
	for _, ref := range likedItems {
		ids, err := h.content.RecommendSimilar(ctx, ref, seedNeighbours)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", ref, err)
		}
		out = append(out, unscored(ids)...)
	}
	return out, nil
}

// runSource calls fn, converting errors and panics into an unavailable result.
func (h *HybridRecommender) runSource(src Source, userID string, fn func() ([]models.ScoredItem, error)) (res SourceResult) {
	start := time.Now()
	res.Source = src

	defer func() {
		if r := recover(); r != nil {
			res.Items = nil
			res.Err = fmt.Errorf("panic: %v", r)
		}
		res.Latency = time.Since(start)
		switch {
		case res.Err != nil:
			res.Status = StatusUnavailable
			h.logger.WithFields(logrus.Fields{
				"source":  src,
				"user_id": userID,
				"error":   res.Err,
			}).Warn("Recommendation source failed")
		case len(res.Items) == 0:
			res.Status = StatusEmpty
		default:
			res.Status = StatusOK
		}
	}()

	res.Items, res.Err = fn()
	return res
}

func (h *HybridRecommender) weightOf(src Source) float64 {
	switch src {
	case SourceCollaborative:
		return h.weights.Collaborative
	case SourceContent:
		return h.weights.Content
	case SourceDemographic:
		return h.weights.Demographic
	}
	return 0
}

func (h *HybridRecommender) combine(results []SourceResult, topN int) []models.ScoredItem {
	scores := make(map[int64]float64)
	for _, res := range results {
		if res.Status != StatusOK {
			continue
		}
		w := h.weightOf(res.Source)
		for _, item := range res.Items {
			scores[item.ItemID] += w * item.Score
		}
	}

	combined := make([]models.ScoredItem, 0, len(scores))
	for id, score := range scores {
		combined = append(combined, models.ScoredItem{ItemID: id, Score: score})
	}
	sort.Slice(combined, func(i, j int) bool {
		if combined[i].Score != combined[j].Score {
			return combined[i].Score > combined[j].Score
		}
		return combined[i].ItemID < combined[j].ItemID
	})

	if len(combined) > topN {
		combined = combined[:topN]
	}
	return combined
}

func unscored(ids []int64) []models.ScoredItem {
	if len(ids) == 0 {
		return nil
	}
	out := make([]models.ScoredItem, len(ids))
	for i, id := range ids {
		out[i] = models.ScoredItem{ItemID: id, Score: 1}
	}
	return out
}
