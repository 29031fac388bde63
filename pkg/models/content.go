package models

import "strings"

// Item is a catalog row. Titles are not unique across the catalog.
type Item struct {
	ID          int64    `json:"id" db:"movie_id" validate:"required"`
	Title       string   `json:"title" db:"title" validate:"required,min=1,max=255"`
	Genres      []string `json:"genres,omitempty" db:"genres"`
	Summary     string   `json:"summary,omitempty" db:"summary"`
	Year        int      `json:"year,omitempty" db:"year"`
	AvgRating   float64  `json:"avg_rating" db:"avg_rating"`
	RatingCount int      `json:"rating_count" db:"rating_count"`
}

// HasGenre reports whether any genre tag contains genre, ignoring case.
func (i Item) HasGenre(genre string) bool {
	genre = strings.ToLower(strings.TrimSpace(genre))
	if genre == "" {
		return false
	}
	for _, g := range i.Genres {
		if strings.Contains(strings.ToLower(g), genre) {
			return true
		}
	}
	return false
}

// Text returns the text the content pipeline embeds for this item.
func (i Item) Text() string {
	if i.Summary != "" {
		return i.Title + " " + i.Summary
	}
	return i.Title
}

// ParseGenres splits a pipe-delimited genre string such as "Action|Comedy".
// The MovieLens placeholder "(no genres listed)" yields no tags.
func ParseGenres(raw string) []string {
	if raw == "" || raw == "(no genres listed)" {
		return nil
	}
	parts := strings.Split(raw, "|")
	genres := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			genres = append(genres, p)
		}
	}
	return genres
}

// JoinGenres is the inverse of ParseGenres.
func JoinGenres(genres []string) string {
	return strings.Join(genres, "|")
}

// WithRatingStats returns a copy of items with AvgRating and RatingCount
// computed from ratings. Items without ratings keep zero stats.
func WithRatingStats(items []Item, ratings []Rating) []Item {
	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for _, r := range ratings {
		sums[r.ItemID] += r.Value
		counts[r.ItemID]++
	}
	out := make([]Item, len(items))
	for i, item := range items {
		if n := counts[item.ID]; n > 0 {
			item.AvgRating = sums[item.ID] / float64(n)
			item.RatingCount = n
		}
		out[i] = item
	}
	return out
}
