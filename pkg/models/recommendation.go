package models

import (
	"time"

	"github.com/google/uuid"
)

// ScoredItem is an item id with a model score.
type ScoredItem struct {
	ItemID int64   `json:"item_id"`
	Score  float64 `json:"score"`
}

// Recommendation is a scored item enriched with catalog data for callers.
type Recommendation struct {
	ItemID   int64    `json:"item_id"`
	Title    string   `json:"title"`
	Genres   []string `json:"genres,omitempty"`
	Score    float64  `json:"score"`
	Reason   string   `json:"reason,omitempty"`
	Position int      `json:"position"`
}

// RecommendationRequest is the input of a personalized query.
type RecommendationRequest struct {
	UserID         string   `json:"user_id" validate:"required"`
	Count          int      `json:"count" validate:"min=1,max=100"`
	LikedItems     []string `json:"liked_items,omitempty"`
	ExcludeWatched bool     `json:"exclude_watched"`
}

// RecommendationResponse is the result of a personalized query.
type RecommendationResponse struct {
	UserID          string           `json:"user_id"`
	Recommendations []Recommendation `json:"recommendations"`
	Strategy        string           `json:"strategy"`
	ModelRunID      uuid.UUID        `json:"model_run_id"`
	GeneratedAt     time.Time        `json:"generated_at"`
	CacheHit        bool             `json:"cache_hit"`
}
