package ml

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/cinesense/pkg/models"
)

// normEpsilon keeps normalization of zero vectors finite.
const normEpsilon = 1e-10

// WordVectors is a pre-trained word embedding table.
type WordVectors struct {
	vectors   map[string][]float64
	dimension int
}

// NewWordVectors wraps table. Every vector must have the same length.
func NewWordVectors(table map[string][]float64) (*WordVectors, error) {
	dim := -1
	for word, vec := range table {
		if dim < 0 {
			dim = len(vec)
			continue
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("word %q has dimension %d, expected %d", word, len(vec), dim)
		}
	}
	return &WordVectors{vectors: table, dimension: max(dim, 0)}, nil
}

// Dimension returns the embedding width.
func (w *WordVectors) Dimension() int {
	if w == nil {
		return 0
	}
	return w.dimension
}

// Len returns the vocabulary size.
func (w *WordVectors) Len() int {
	if w == nil {
		return 0
	}
	return len(w.vectors)
}

// Average returns the mean vector of the in-vocabulary tokens, or a zero
// vector when none are known.
func (w *WordVectors) Average(tokens []string) []float64 {
	out := make([]float64, w.Dimension())
	if w == nil || w.dimension == 0 {
		return out
	}
	known := 0
	for _, tok := range tokens {
		vec, ok := w.vectors[tok]
		if !ok {
			continue
		}
		floats.Add(out, vec)
		known++
	}
	if known > 0 {
		floats.Scale(1/float64(known), out)
	}
	return out
}

// FusionConfig contains configuration for the fused vector builder.
type FusionConfig struct {
	TFIDF TFIDFConfig `json:"tfidf" mapstructure:"tfidf"`
}

// FusedVectorBuilder builds the content vectors: averaged word vectors
// (semantic half) and TF-IDF (lexical half), each L2-normalized and then
// concatenated.
type FusedVectorBuilder struct {
	config    FusionConfig
	processor *TextProcessor
	words     *WordVectors
	logger    *logrus.Logger
}

// NewFusedVectorBuilder creates a builder. words may be nil, in which case the
// semantic half is empty.
func NewFusedVectorBuilder(cfg FusionConfig, words *WordVectors, logger *logrus.Logger) *FusedVectorBuilder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FusedVectorBuilder{
		config:    cfg,
		processor: NewTextProcessor(),
		words:     words,
		logger:    logger,
	}
}

// Build returns one fused vector per catalog item, in catalog order. Items
// without text get a zero vector.
func (b *FusedVectorBuilder) Build(catalog []models.Item) [][]float64 {
	docs := make([]string, len(catalog))
	for i, item := range catalog {
		docs[i] = item.Text()
	}

	tfidf := NewTFIDFVectorizer(b.config.TFIDF, b.processor, b.logger).FitTransform(docs)

	fused := make([][]float64, len(catalog))
	for i, doc := range docs {
		semantic := b.words.Average(b.processor.Tokenize(doc))
		fused[i] = lateFusion(l2Normalize(semantic), l2Normalize(tfidf[i]))
	}

	dims := 0
	if len(fused) > 0 {
		dims = len(fused[0])
	}
	b.logger.WithFields(logrus.Fields{
		"items":         len(catalog),
		"semantic_dims": b.words.Dimension(),
		"fused_dims":    dims,
	}).Info("Fused content vectors built")

	return fused
}

// l2Normalize divides v by its norm plus normEpsilon.
func l2Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	floats.Scale(1/(floats.Norm(v, 2)+normEpsilon), out)
	return out
}

// lateFusion concatenates the normalized halves.
func lateFusion(semantic, lexical []float64) []float64 {
	fused := make([]float64, len(semantic)+len(lexical))
	copy(fused[:len(semantic)], semantic)
	copy(fused[len(semantic):], lexical)
	return fused
}
