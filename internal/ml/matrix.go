package ml

import (
	"math"
	"sort"

	"github.com/temcen/cinesense/pkg/models"
)

// InteractionMatrix is a sparse users x items matrix in compressed sparse row
// form. The value at (u, i) is the rating value, not a binarized signal.
type InteractionMatrix struct {
	Users *IDMap[string]
	Items *IDMap[int64]

	// Dropped counts ratings skipped for a negative or non-finite value.
	Dropped int

	rowPtr []int
	colIdx []int
	values []float64
}

// BuildInteractionMatrix converts a ratings table into an interaction matrix.
//
// Duplicate (user, item) pairs are resolved last-write-wins in input order.
// Ratings that are negative, NaN or infinite are skipped and counted in
// Dropped; ids seen only on such ratings get no row or column.
// An empty table yields empty maps and a 0x0 matrix.
func BuildInteractionMatrix(ratings []models.Rating) *InteractionMatrix {
	users := NewIDMap[string]()
	items := NewIDMap[int64]()

	dropped := 0
	rows := make([]map[int]float64, 0)
	for _, r := range ratings {
		if !validRating(r.Value) {
			dropped++
			continue
		}
		u := users.Add(r.UserID)
		i := items.Add(r.ItemID)
		if u == len(rows) {
			rows = append(rows, make(map[int]float64))
		}
		rows[u][i] = r.Value
	}

	m := &InteractionMatrix{
		Users:   users,
		Items:   items,
		Dropped: dropped,
		rowPtr:  make([]int, len(rows)+1),
	}
	for u, row := range rows {
		cols := make([]int, 0, len(row))
		for i := range row {
			cols = append(cols, i)
		}
		sort.Ints(cols)
		for _, i := range cols {
			m.colIdx = append(m.colIdx, i)
			m.values = append(m.values, row[i])
		}
		m.rowPtr[u+1] = len(m.colIdx)
	}
	return m
}

// Rows returns the number of users.
func (m *InteractionMatrix) Rows() int { return m.Users.Len() }

// Cols returns the number of items.
func (m *InteractionMatrix) Cols() int { return m.Items.Len() }

// NNZ returns the number of stored entries.
func (m *InteractionMatrix) NNZ() int { return len(m.values) }

// Row returns the column indices and values stored for user row u.
// The slices alias the matrix and must not be modified.
func (m *InteractionMatrix) Row(u int) ([]int, []float64) {
	if u < 0 || u >= m.Rows() {
		return nil, nil
	}
	start, end := m.rowPtr[u], m.rowPtr[u+1]
	return m.colIdx[start:end], m.values[start:end]
}

// At returns the value at (u, i), or 0 when nothing is stored.
func (m *InteractionMatrix) At(u, i int) float64 {
	cols, vals := m.Row(u)
	k := sort.SearchInts(cols, i)
	if k < len(cols) && cols[k] == i {
		return vals[k]
	}
	return 0
}

// Transpose returns, for each item column, the user rows and values stored in it.
func (m *InteractionMatrix) Transpose() ([][]int, [][]float64) {
	users := make([][]int, m.Cols())
	vals := make([][]float64, m.Cols())
	for u := 0; u < m.Rows(); u++ {
		cols, values := m.Row(u)
		for k, i := range cols {
			users[i] = append(users[i], u)
			vals[i] = append(vals[i], values[k])
		}
	}
	return users, vals
}

func validRating(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
