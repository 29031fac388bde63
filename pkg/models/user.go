package models

// DefaultGender is assumed for users without a demographic row.
const DefaultGender = "M"

// User is a demographic row. Age 0 means unknown.
type User struct {
	ID             string `json:"user_id" db:"user_id" validate:"required"`
	Age            int    `json:"age" db:"age" validate:"min=0,max=130"`
	Gender         string `json:"gender" db:"gender"`
	PreferredGenre string `json:"preferred_genre,omitempty" db:"preferred_genre"`
}

// Rating is a single (user, item, value) interaction.
//
// Value follows the app convention 1 = dislike, 5 = like for binary signals.
type Rating struct {
	UserID    string  `json:"user_id" db:"user_id" validate:"required"`
	ItemID    int64   `json:"item_id" db:"movie_id" validate:"required"`
	Value     float64 `json:"rating" db:"rating" validate:"min=0,max=5"`
	Timestamp int64   `json:"timestamp,omitempty" db:"timestamp"`
}

// SimilarUser is a neighbour found by the demographic model.
type SimilarUser struct {
	UserID          string  `json:"user_id"`
	SimilarityScore float64 `json:"similarity_score"`
}
