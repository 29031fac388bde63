package ml

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/cinesense/pkg/models"
)

// ContentModel ranks catalog items by cosine similarity of their fused
// vectors. Row i of the vector matrix belongs to catalog[i].
type ContentModel struct {
	catalog []models.Item
	vectors *mat.Dense
	norms   []float64
	titles  *TitleIndex
	logger  *logrus.Logger
}

// NewContentModel creates a content model. vectors must hold one row per
// catalog item, all of the same width.
func NewContentModel(vectors [][]float64, catalog []models.Item, logger *logrus.Logger) (*ContentModel, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if len(vectors) != len(catalog) {
		return nil, fmt.Errorf("%w: %d vectors for %d items", ErrVectorMismatch, len(vectors), len(catalog))
	}

	m := &ContentModel{
		catalog: catalog,
		titles:  NewTitleIndex(catalog, DefaultFuzzyCutoff),
		logger:  logger,
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return m, nil
	}

	dense, err := denseFromRows(vectors, len(vectors[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorMismatch, err)
	}
	m.vectors = dense
	m.norms = make([]float64, len(vectors))
	for i, v := range vectors {
		m.norms[i] = floats.Norm(v, 2)
	}

	logger.WithFields(logrus.Fields{
		"items":      len(catalog),
		"dimensions": len(vectors[0]),
	}).Info("Content model built")

	return m, nil
}

// RecommendSimilar returns ids of the topN items most similar to the item
// referenced by ref (title or numeric id). An unresolved reference yields an
// empty list.
func (m *ContentModel) RecommendSimilar(ctx context.Context, ref string, topN int) ([]int64, error) {
	scored, err := m.RecommendSimilarScored(ctx, ref, topN)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(scored))
	for i, s := range scored {
		ids[i] = s.ItemID
	}
	return ids, nil
}

// RecommendSimilarScored is RecommendSimilar with cosine scores attached.
func (m *ContentModel) RecommendSimilarScored(_ context.Context, ref string, topN int) ([]models.ScoredItem, error) {
	row, ok := m.titles.Resolve(ref)
	if !ok {
		m.logger.WithField("ref", ref).Debug("Content reference not resolved")
		return []models.ScoredItem{}, nil
	}
	return m.similarToRow(row, topN), nil
}

// RecommendSimilarByID resolves the query by item id only.
func (m *ContentModel) RecommendSimilarByID(_ context.Context, itemID int64, topN int) ([]models.ScoredItem, error) {
	row, ok := m.titles.Row(itemID)
	if !ok {
		return []models.ScoredItem{}, nil
	}
	return m.similarToRow(row, topN), nil
}

// Resolve returns the catalog item referenced by ref.
func (m *ContentModel) Resolve(ref string) (models.Item, bool) {
	row, ok := m.titles.Resolve(ref)
	if !ok {
		return models.Item{}, false
	}
	return m.catalog[row], true
}

// Vectors returns a copy of the item vectors in catalog order.
func (m *ContentModel) Vectors() [][]float64 {
	if m.vectors == nil {
		return make([][]float64, len(m.catalog))
	}
	return rowsFromDense(m.vectors)
}

// Catalog returns the catalog the model was built over.
func (m *ContentModel) Catalog() []models.Item { return m.catalog }

func (m *ContentModel) similarToRow(row, topN int) []models.ScoredItem {
	if topN <= 0 || m.vectors == nil {
		return []models.ScoredItem{}
	}

	n, _ := m.vectors.Dims()
	dots := mat.NewVecDense(n, nil)
	dots.MulVec(m.vectors, m.vectors.RowView(row))

	qNorm := m.norms[row]
	sims := make([]float64, n)
	for i := 0; i < n; i++ {
		denom := qNorm * m.norms[i]
		if denom == 0 {
			continue
		}
		sims[i] = dots.AtVec(i) / denom
	}

	order := make([]int, 0, n-1)
	for i := 0; i < n; i++ {
		if i != row {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sims[order[a]] > sims[order[b]]
	})

	if len(order) > topN {
		order = order[:topN]
	}
	result := make([]models.ScoredItem, len(order))
	for i, idx := range order {
		result[i] = models.ScoredItem{ItemID: m.catalog[idx].ID, Score: sims[idx]}
	}
	return result
}

// Cosine returns the cosine similarity of a and b. A zero vector or a length
// mismatch yields 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, sim))
}
