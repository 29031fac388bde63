package ml

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/temcen/cinesense/pkg/models"
)

// ALSConfig contains configuration for the collaborative model. It is fixed
// at construction and cannot change mid-training.
type ALSConfig struct {
	// Factors is the dimension of the latent vectors.
	Factors int `json:"factors" validate:"min=1,max=1024"`

	// Regularization is the L2 penalty lambda.
	Regularization float64 `json:"regularization" validate:"gt=0"`

	// Iterations is the fixed iteration budget; there is no early stopping.
	Iterations int `json:"iterations" validate:"min=1"`

	// Alpha scales ratings into confidence: c = 1 + alpha * r.
	Alpha float64 `json:"alpha" validate:"gt=0"`

	// Seed makes factor initialization deterministic.
	Seed int64 `json:"seed"`

	// Workers is the number of goroutines solving rows in parallel.
	Workers int `json:"workers" validate:"min=0"`
}

// DefaultALSConfig returns the default ALS configuration.
func DefaultALSConfig() ALSConfig {
	return ALSConfig{
		Factors:        50,
		Regularization: 0.1,
		Iterations:     20,
		Alpha:          1.0,
		Seed:           42,
		Workers:        4,
	}
}

// ALSModel factorizes the interaction matrix into user factors U and item
// factors V with alternating least squares over the implicit-feedback
// objective (Hu, Koren, Volinsky 2008):
//
//	sum_{u,i} c_ui (p_ui - u·v_i)^2 + lambda (||u||^2 + ||v_i||^2)
//
// where p_ui = 1 for observed pairs and c_ui = 1 + alpha * rating.
//
// Factors are immutable once Train returns. Train must not run concurrently
// with reads; ModelRegistry retrains into a fresh instance and swaps it in.
type ALSModel struct {
	config ALSConfig
	logger *logrus.Logger

	users *IDMap[string]
	items *IDMap[int64]

	// nil when the training set was empty
	userFactors *mat.Dense
	itemFactors *mat.Dense

	trained bool
}

// NewALSModel creates an untrained model. Zero config fields take defaults,
// except Seed: 0 is a valid seed and is kept.
func NewALSModel(cfg ALSConfig, logger *logrus.Logger) *ALSModel {
	def := DefaultALSConfig()
	if cfg.Factors <= 0 {
		cfg.Factors = def.Factors
	}
	if cfg.Regularization <= 0 {
		cfg.Regularization = def.Regularization
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ALSModel{
		config: cfg,
		logger: logger,
		users:  NewIDMap[string](),
		items:  NewIDMap[int64](),
	}
}

// NewALSFromFactors restores a trained model from stored id maps and factor
// rows. userFactors has one row per user id, itemFactors one row per item id.
func NewALSFromFactors(
	cfg ALSConfig,
	userIDs []string,
	itemIDs []int64,
	userFactors, itemFactors [][]float64,
	logger *logrus.Logger,
) (*ALSModel, error) {
	m := NewALSModel(cfg, logger)
	if len(userIDs) != len(userFactors) {
		return nil, fmt.Errorf("user factor rows mismatch: %d ids, %d rows", len(userIDs), len(userFactors))
	}
	if len(itemIDs) != len(itemFactors) {
		return nil, fmt.Errorf("item factor rows mismatch: %d ids, %d rows", len(itemIDs), len(itemFactors))
	}

	m.users = NewIDMapFrom(userIDs)
	m.items = NewIDMapFrom(itemIDs)
	if m.users.Len() != len(userIDs) || m.items.Len() != len(itemIDs) {
		return nil, fmt.Errorf("duplicate ids in factor tables")
	}

	var err error
	if m.userFactors, err = denseFromRows(userFactors, m.config.Factors); err != nil {
		return nil, fmt.Errorf("user factors: %w", err)
	}
	if m.itemFactors, err = denseFromRows(itemFactors, m.config.Factors); err != nil {
		return nil, fmt.Errorf("item factors: %w", err)
	}
	m.trained = true
	return m, nil
}

// Train builds the interaction matrix and runs the fixed iteration budget.
// Empty input trains to a degenerate model whose queries return nothing.
func (m *ALSModel) Train(ctx context.Context, ratings []models.Rating) error {
	start := time.Now()
	matrix := BuildInteractionMatrix(ratings)
	if matrix.Dropped > 0 {
		m.logger.WithField("dropped", matrix.Dropped).Warn("Skipped ratings with negative or non-finite values")
	}

	m.users = matrix.Users
	m.items = matrix.Items
	m.userFactors = nil
	m.itemFactors = nil

	numUsers, numItems, k := matrix.Rows(), matrix.Cols(), m.config.Factors
	if numUsers == 0 || numItems == 0 {
		m.trained = true
		m.logger.Warn("ALS trained on an empty interaction matrix")
		return nil
	}

	rng := rand.New(rand.NewSource(m.config.Seed))
	m.userFactors = randomFactors(rng, numUsers, k)
	m.itemFactors = randomFactors(rng, numItems, k)

	itemUsers, itemVals := matrix.Transpose()

	for iter := 0; iter < m.config.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Solve U holding V fixed.
		err := m.solveRows(m.userFactors, m.itemFactors, numUsers, func(u int) ([]int, []float64) {
			return matrix.Row(u)
		})
		if err != nil {
			return fmt.Errorf("iteration %d user step: %w", iter, err)
		}
		// Solve V holding U fixed.
		err = m.solveRows(m.itemFactors, m.userFactors, numItems, func(i int) ([]int, []float64) {
			return itemUsers[i], itemVals[i]
		})
		if err != nil {
			return fmt.Errorf("iteration %d item step: %w", iter, err)
		}
	}

	m.trained = true

	m.logger.WithFields(logrus.Fields{
		"users":       numUsers,
		"items":       numItems,
		"nnz":         matrix.NNZ(),
		"factors":     k,
		"iterations":  m.config.Iterations,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("ALS training completed")

	return nil
}

// solveRows updates every row of target from the regularized normal equations
//
//	(FᵀF + Fᵀ(C - I)F + lambda I) x = Fᵀ C p
//
// where F is the fixed factor matrix and observed returns the fixed-side
// indices and ratings for a target row.
func (m *ALSModel) solveRows(target, fixed *mat.Dense, n int, observed func(int) ([]int, []float64)) error {
	k := m.config.Factors
	lambda := m.config.Regularization
	alpha := m.config.Alpha

	var gram mat.SymDense
	gram.SymOuterK(1, fixed.T())

	workers := m.config.Workers
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)

	for w := 0; w < workers; w++ {
		start := w * chunk
		end := min(start+chunk, n)
		if start >= end {
			break
		}

		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()

			a := mat.NewSymDense(k, nil)
			b := mat.NewVecDense(k, nil)
			x := mat.NewVecDense(k, nil)
			var chol mat.Cholesky

			for row := start; row < end; row++ {
				a.CopySym(&gram)
				for f := 0; f < k; f++ {
					a.SetSym(f, f, a.At(f, f)+lambda)
				}
				b.Zero()

				idx, vals := observed(row)
				for j, col := range idx {
					conf := 1 + alpha*vals[j]
					y := fixed.RowView(col)
					a.SymRankOne(a, conf-1, y)
					b.AddScaledVec(b, conf, y)
				}

				if ok := chol.Factorize(a); !ok {
					errs[w] = fmt.Errorf("normal equations not positive definite at row %d", row)
					return
				}
				if err := chol.SolveVecTo(x, b); err != nil {
					errs[w] = fmt.Errorf("solve row %d: %w", row, err)
					return
				}
				target.SetRow(row, x.RawVector().Data)
			}
		}(w, start, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Recommend returns the top n items by predicted score U[u]·Vᵀ.
//
// Items the user already rated are NOT filtered out; callers wanting
// novelty-only lists filter externally. An unknown user yields an empty list.
func (m *ALSModel) Recommend(_ context.Context, userID string, n int) ([]models.ScoredItem, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	u, ok := m.users.Index(userID)
	if !ok || n <= 0 || m.userFactors == nil {
		return []models.ScoredItem{}, nil
	}

	numItems := m.items.Len()
	scores := mat.NewVecDense(numItems, nil)
	scores.MulVec(m.itemFactors, m.userFactors.RowView(u))

	order := make([]int, numItems)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores.AtVec(order[a]) > scores.AtVec(order[b])
	})

	if n > numItems {
		n = numItems
	}
	result := make([]models.ScoredItem, 0, n)
	for _, idx := range order[:n] {
		itemID, _ := m.items.ID(idx)
		result = append(result, models.ScoredItem{ItemID: itemID, Score: scores.AtVec(idx)})
	}
	return result, nil
}

// Predict returns the predicted preference of userID for itemID.
func (m *ALSModel) Predict(userID string, itemID int64) (float64, bool) {
	u, ok := m.users.Index(userID)
	if !ok || m.userFactors == nil {
		return 0, false
	}
	i, ok := m.items.Index(itemID)
	if !ok {
		return 0, false
	}
	return mat.Dot(m.userFactors.RowView(u), m.itemFactors.RowView(i)), true
}

// KnowsUser reports whether userID was present in the training set.
func (m *ALSModel) KnowsUser(userID string) bool {
	_, ok := m.users.Index(userID)
	return ok
}

// Config returns the construction config.
func (m *ALSModel) Config() ALSConfig { return m.config }

// IsTrained reports whether Train or a snapshot restore completed.
func (m *ALSModel) IsTrained() bool { return m.trained }

// UserIDs returns user ids in factor row order.
func (m *ALSModel) UserIDs() []string { return m.users.IDs() }

// ItemIDs returns item ids in factor row order.
func (m *ALSModel) ItemIDs() []int64 { return m.items.IDs() }

// UserFactors returns a copy of U as rows.
func (m *ALSModel) UserFactors() [][]float64 { return rowsFromDense(m.userFactors) }

// ItemFactors returns a copy of V as rows.
func (m *ALSModel) ItemFactors() [][]float64 { return rowsFromDense(m.itemFactors) }

func randomFactors(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64() * 0.01
	}
	return mat.NewDense(rows, cols, data)
}

func denseFromRows(rows [][]float64, cols int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

func rowsFromDense(d *mat.Dense) [][]float64 {
	if d == nil {
		return nil
	}
	r, c := d.Dims()
	out := make([][]float64, r)
	for i := 0; i < r; i++ {
		out[i] = make([]float64, c)
		mat.Row(out[i], i, d)
	}
	return out
}
