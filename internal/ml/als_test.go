package ml

import (
	"context"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/cinesense/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func clusteredRatings() []models.Rating {
	return []models.Rating{
		{UserID: "u1", ItemID: 1, Value: 5},
		{UserID: "u1", ItemID: 2, Value: 5},
		{UserID: "u1", ItemID: 3, Value: 4},
		{UserID: "u2", ItemID: 1, Value: 4},
		{UserID: "u2", ItemID: 2, Value: 5},
		{UserID: "u2", ItemID: 3, Value: 5},
		{UserID: "u3", ItemID: 4, Value: 5},
		{UserID: "u3", ItemID: 5, Value: 4},
		{UserID: "u3", ItemID: 6, Value: 5},
		{UserID: "u4", ItemID: 4, Value: 5},
		{UserID: "u4", ItemID: 5, Value: 5},
		{UserID: "u4", ItemID: 6, Value: 4},
		{UserID: "u5", ItemID: 1, Value: 5},
		{UserID: "u5", ItemID: 2, Value: 4},
	}
}

func smallALSConfig() ALSConfig {
	return ALSConfig{Factors: 8, Regularization: 0.1, Iterations: 15, Alpha: 1, Seed: 42, Workers: 2}
}

func TestALSModel(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultsApplied", func(t *testing.T) {
		m := NewALSModel(ALSConfig{}, testLogger())
		expected := DefaultALSConfig()
		expected.Seed = 0
		assert.Equal(t, expected, m.Config())

		seeded := NewALSModel(ALSConfig{Seed: 7}, testLogger())
		assert.Equal(t, int64(7), seeded.Config().Seed)
		assert.False(t, m.IsTrained())
	})

	t.Run("NotTrained", func(t *testing.T) {
		m := NewALSModel(smallALSConfig(), testLogger())
		_, err := m.Recommend(ctx, "u1", 3)
		assert.ErrorIs(t, err, ErrNotTrained)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		m := NewALSModel(smallALSConfig(), testLogger())
		require.NoError(t, m.Train(ctx, nil))
		assert.True(t, m.IsTrained())

		recs, err := m.Recommend(ctx, "u1", 5)
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.Nil(t, m.UserFactors())
	})

	t.Run("MalformedRatingsSkipped", func(t *testing.T) {
		ratings := append(clusteredRatings(),
			models.Rating{UserID: "u1", ItemID: 4, Value: -5},
			models.Rating{UserID: "u1", ItemID: 5, Value: math.NaN()},
			models.Rating{UserID: "ghost", ItemID: 99, Value: math.Inf(1)},
		)

		matrix := BuildInteractionMatrix(ratings)
		assert.Equal(t, 3, matrix.Dropped)
		assert.Equal(t, len(clusteredRatings()), matrix.NNZ())
		_, known := matrix.Users.Index("ghost")
		assert.False(t, known)
		assert.Equal(t, 0.0, matrix.At(0, 3))

		m := NewALSModel(smallALSConfig(), testLogger())
		require.NoError(t, m.Train(ctx, ratings))

		recs, err := m.Recommend(ctx, "u3", 3)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		for _, rec := range recs {
			assert.False(t, math.IsNaN(rec.Score))
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		m := NewALSModel(smallALSConfig(), testLogger())
		require.NoError(t, m.Train(ctx, clusteredRatings()))

		recs, err := m.Recommend(ctx, "nobody", 5)
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
		assert.False(t, m.KnowsUser("nobody"))
	})

	t.Run("AtMostNValidItems", func(t *testing.T) {
		m := NewALSModel(smallALSConfig(), testLogger())
		require.NoError(t, m.Train(ctx, clusteredRatings()))

		catalog := map[int64]bool{1: true, 2: true, 3: true, 4: true, 5: true, 6: true}
		for _, n := range []int{1, 3, 6, 50} {
			recs, err := m.Recommend(ctx, "u1", n)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(recs), n)
			for _, r := range recs {
				assert.True(t, catalog[r.ItemID], "unexpected item %d", r.ItemID)
			}
			for i := 1; i < len(recs); i++ {
				assert.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score)
			}
		}
	})

	t.Run("ClusterStructure", func(t *testing.T) {
		m := NewALSModel(smallALSConfig(), testLogger())
		require.NoError(t, m.Train(ctx, clusteredRatings()))

		recs, err := m.Recommend(ctx, "u1", 3)
		require.NoError(t, err)
		ids := make([]int64, len(recs))
		for i, r := range recs {
			ids[i] = r.ItemID
		}
		assert.ElementsMatch(t, []int64{1, 2, 3}, ids)

		in, ok := m.Predict("u5", 3)
		require.True(t, ok)
		out, ok := m.Predict("u5", 4)
		require.True(t, ok)
		assert.Greater(t, in, out)
	})

	t.Run("DeterministicGivenSeed", func(t *testing.T) {
		a := NewALSModel(smallALSConfig(), testLogger())
		b := NewALSModel(smallALSConfig(), testLogger())
		require.NoError(t, a.Train(ctx, clusteredRatings()))
		require.NoError(t, b.Train(ctx, clusteredRatings()))

		fa, fb := a.UserFactors(), b.UserFactors()
		require.Equal(t, len(fa), len(fb))
		for i := range fa {
			assert.InDeltaSlice(t, fa[i], fb[i], 1e-9)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		m := NewALSModel(smallALSConfig(), testLogger())
		require.NoError(t, m.Train(ctx, clusteredRatings()))

		first, err := m.Recommend(ctx, "u3", 4)
		require.NoError(t, err)
		second, err := m.Recommend(ctx, "u3", 4)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		m := NewALSModel(smallALSConfig(), testLogger())
		assert.ErrorIs(t, m.Train(canceled, clusteredRatings()), context.Canceled)
	})

	t.Run("RestoreFromFactors", func(t *testing.T) {
		m := NewALSModel(smallALSConfig(), testLogger())
		require.NoError(t, m.Train(ctx, clusteredRatings()))

		restored, err := NewALSFromFactors(m.Config(), m.UserIDs(), m.ItemIDs(), m.UserFactors(), m.ItemFactors(), testLogger())
		require.NoError(t, err)

		for _, user := range []string{"u1", "u3", "u5"} {
			want, err := m.Recommend(ctx, user, 6)
			require.NoError(t, err)
			got, err := restored.Recommend(ctx, user, 6)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("RestoreRejectsMismatch", func(t *testing.T) {
		_, err := NewALSFromFactors(smallALSConfig(), []string{"u1"}, []int64{1}, nil, [][]float64{make([]float64, 8)}, testLogger())
		assert.Error(t, err)

		_, err = NewALSFromFactors(smallALSConfig(), []string{"u1"}, []int64{1},
			[][]float64{make([]float64, 3)}, [][]float64{make([]float64, 8)}, testLogger())
		assert.Error(t, err)
	})
}

// Two users share i1; u1 also liked i2 and u2 liked i3.
func TestALSScenarioSharedItem(t *testing.T) {
	ratings := []models.Rating{
		{UserID: "u1", ItemID: 1, Value: 5},
		{UserID: "u1", ItemID: 2, Value: 5},
		{UserID: "u2", ItemID: 1, Value: 5},
		{UserID: "u2", ItemID: 3, Value: 4},
	}
	m := NewALSModel(DefaultALSConfig(), testLogger())
	require.NoError(t, m.Train(context.Background(), ratings))

	recs, err := m.Recommend(context.Background(), "u1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.ElementsMatch(t, []int64{1, 2}, []int64{recs[0].ItemID, recs[1].ItemID})
}
