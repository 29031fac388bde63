package ml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinesense/pkg/models"
)

func demoCatalog() []models.Item {
	return []models.Item{
		{ID: 1, Title: "Heat", Genres: []string{"Action", "Crime"}},
		{ID: 2, Title: "Airplane!", Genres: []string{"Comedy"}},
		{ID: 3, Title: "Die Hard", Genres: []string{"Action", "Thriller"}},
		{ID: 4, Title: "Amelie", Genres: []string{"Comedy", "Romance"}},
		{ID: 5, Title: "Alien", Genres: []string{"Horror", "Sci-Fi"}},
	}
}

func TestDemographicSimilarity(t *testing.T) {
	m := NewDemographicModel(nil, nil, nil, DefaultDemographicConfig(), testLogger())

	a := &Profile{UserID: "a", Age: 20, Gender: "M", LikedGenres: map[string]int{"Action": 3}}
	b := &Profile{UserID: "b", Age: 22, Gender: "M", LikedGenres: map[string]int{"Action": 1, "Comedy": 2}}

	t.Run("Asymmetric", func(t *testing.T) {
		ab := m.Similarity(a, b)
		ba := m.Similarity(b, a)
		assert.InDelta(t, 0.9876, ab, 1e-9)
		assert.InDelta(t, 0.7776, ba, 1e-9)
		assert.NotEqual(t, ab, ba)
	})

	t.Run("SelfSimilarityIsMaximal", func(t *testing.T) {
		assert.InDelta(t, 1.0, m.Similarity(a, a), 1e-12)
		assert.InDelta(t, 1.0, m.Similarity(b, b), 1e-12)
	})

	t.Run("AgeGapFloorsAtZero", func(t *testing.T) {
		old := &Profile{UserID: "c", Age: 90, Gender: "F", LikedGenres: map[string]int{}}
		assert.InDelta(t, 0.0, m.Similarity(a, old), 1e-12)
	})

	t.Run("NoLikedGenres", func(t *testing.T) {
		empty := &Profile{UserID: "d", Age: 20, Gender: "M", LikedGenres: map[string]int{}}
		assert.InDelta(t, 0.58, m.Similarity(empty, a), 1e-12)
	})
}

func TestDemographicModel(t *testing.T) {
	ctx := context.Background()
	users := []models.User{
		{ID: "alice", Age: 25, Gender: "F"},
		{ID: "bob", Age: 27, Gender: "M"},
		{ID: "carol", Age: 24, Gender: "F"},
		{ID: "dave", Age: 60, Gender: "M"},
	}
	ratings := []models.Rating{
		{UserID: "alice", ItemID: 1, Value: 5},
		{UserID: "alice", ItemID: 2, Value: 2},
		{UserID: "carol", ItemID: 1, Value: 5},
		{UserID: "carol", ItemID: 3, Value: 4},
		{UserID: "carol", ItemID: 4, Value: 4.5},
		{UserID: "bob", ItemID: 3, Value: 4},
		{UserID: "dave", ItemID: 5, Value: 5},
		{UserID: "erin", ItemID: 2, Value: 5},
	}

	m := NewDemographicModel(users, ratings, demoCatalog(), DemographicConfig{}, testLogger())
	m.BuildProfiles()

	t.Run("Profiles", func(t *testing.T) {
		alice, ok := m.Profile("alice")
		require.True(t, ok)
		assert.Equal(t, map[string]int{"Action": 1, "Crime": 1}, alice.LikedGenres)
		assert.Equal(t, []int64{1}, alice.LikedItems())

		erin, ok := m.Profile("erin")
		require.True(t, ok, "users seen only in ratings get a profile")
		assert.Equal(t, 0, erin.Age)
		assert.Equal(t, models.DefaultGender, erin.Gender)
	})

	t.Run("SimilarUsers", func(t *testing.T) {
		similar := m.SimilarUsers("alice", 2)
		require.Len(t, similar, 2)
		assert.Equal(t, "carol", similar[0].UserID)
		assert.GreaterOrEqual(t, similar[0].SimilarityScore, similar[1].SimilarityScore)
	})

	t.Run("RecommendBySimilarity", func(t *testing.T) {
		recs, err := m.RecommendBySimilarity(ctx, "alice", 10)
		require.NoError(t, err)
		assert.NotEmpty(t, recs)
		assert.LessOrEqual(t, len(recs), 10)

		ds := models.Dataset{Items: demoCatalog()}
		catalog := ds.ItemByID()
		for _, id := range recs {
			_, ok := catalog[id]
			assert.True(t, ok)
		}

		// item 3 is liked by carol and bob; the rest tie on one vote
		assert.Equal(t, []int64{3, 1, 2, 4, 5}, recs)
	})

	t.Run("TopNCap", func(t *testing.T) {
		recs, err := m.RecommendBySimilarity(ctx, "alice", 1)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		recs, err := m.RecommendBySimilarity(ctx, "nobody", 5)
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
		assert.Empty(t, m.SimilarUsers("nobody", 5))
	})

	t.Run("Idempotent", func(t *testing.T) {
		first, err := m.RecommendBySimilarity(ctx, "bob", 5)
		require.NoError(t, err)
		second, err := m.RecommendBySimilarity(ctx, "bob", 5)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestRecommendByGenre(t *testing.T) {
	t.Run("CatalogOrderWithoutRatings", func(t *testing.T) {
		assert.Equal(t, []int64{1, 3}, RecommendByGenre("action", demoCatalog(), 10))
	})

	t.Run("SubstringMatch", func(t *testing.T) {
		assert.Equal(t, []int64{5}, RecommendByGenre("sci", demoCatalog(), 10))
	})

	t.Run("OrderedByAverageRating", func(t *testing.T) {
		catalog := models.WithRatingStats(demoCatalog(), []models.Rating{
			{UserID: "a", ItemID: 2, Value: 3},
			{UserID: "a", ItemID: 4, Value: 5},
		})
		assert.Equal(t, []int64{4, 2}, RecommendByGenre("Comedy", catalog, 10))
	})

	t.Run("Limit", func(t *testing.T) {
		assert.Equal(t, []int64{1}, RecommendByGenre("Action", demoCatalog(), 1))
		assert.Empty(t, RecommendByGenre("Action", demoCatalog(), 0))
	})

	t.Run("NoMatch", func(t *testing.T) {
		assert.Empty(t, RecommendByGenre("Western", demoCatalog(), 5))
		assert.Empty(t, RecommendByGenre("", demoCatalog(), 5))
	})
}
