package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestTextProcessor(t *testing.T) {
	tp := NewTextProcessor()

	t.Run("Clean", func(t *testing.T) {
		assert.Equal(t, "hello world it s", tp.Clean("Hello, World!  It's"))
		assert.Equal(t, "", tp.Clean("  ?!  "))
	})

	t.Run("TokenizeDropsStopWordsAndShortTokens", func(t *testing.T) {
		assert.Equal(t, []string{"hello", "world"}, tp.Tokenize("Hello, World!  It's a"))
		assert.Empty(t, tp.Tokenize("the of and"))
	})

	t.Run("Terms", func(t *testing.T) {
		assert.Equal(t,
			[]string{"space", "adventure", "epic", "space adventure", "adventure epic"},
			tp.Terms("A space adventure epic"))
		assert.Nil(t, tp.Terms(""))
	})
}

func TestTFIDFVectorizer(t *testing.T) {
	docs := []string{"space adventure", "space romance", ""}

	t.Run("Vocabulary", func(t *testing.T) {
		v := NewTFIDFVectorizer(TFIDFConfig{}, nil, testLogger())
		v.FitTransform(docs)
		assert.Equal(t,
			[]string{"adventure", "romance", "space", "space adventure", "space romance"},
			v.Vocabulary())
	})

	t.Run("RowsNormalized", func(t *testing.T) {
		v := NewTFIDFVectorizer(TFIDFConfig{}, nil, testLogger())
		rows := v.FitTransform(docs)
		require.Len(t, rows, 3)

		assert.InDelta(t, 1.0, floats.Norm(rows[0], 2), 1e-12)
		assert.InDelta(t, 1.0, floats.Norm(rows[1], 2), 1e-12)
		assert.Equal(t, 0.0, floats.Norm(rows[2], 2))
	})

	t.Run("RareTermsWeighMore", func(t *testing.T) {
		v := NewTFIDFVectorizer(TFIDFConfig{}, nil, testLogger())
		rows := v.FitTransform(docs)

		// columns: adventure=0, space=2
		assert.Greater(t, rows[0][0], rows[0][2])

		n := 3.0
		ratio := (math.Log((1+n)/2) + 1) / (math.Log((1+n)/3) + 1)
		assert.InDelta(t, ratio, rows[0][0]/rows[0][2], 1e-12)
	})

	t.Run("MaxFeaturesKeepsMostFrequent", func(t *testing.T) {
		v := NewTFIDFVectorizer(TFIDFConfig{MaxFeatures: 2}, nil, testLogger())
		rows := v.FitTransform(docs)
		assert.Equal(t, []string{"adventure", "space"}, v.Vocabulary())
		assert.Len(t, rows[0], 2)
	})

	t.Run("Transform", func(t *testing.T) {
		v := NewTFIDFVectorizer(TFIDFConfig{}, nil, testLogger())
		rows := v.FitTransform(docs)
		assert.InDeltaSlice(t, rows[1], v.Transform("Space romance!"), 1e-12)
		assert.Equal(t, 0.0, floats.Norm(v.Transform("unknown words"), 2))
	})
}
