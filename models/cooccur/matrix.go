// Package cooccur - category co-occurrence statistics and the rescoring that uses them.
package cooccur

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrMissingCategory is returned when a category id has no row or column in the matrix.
var ErrMissingCategory = errors.New("category not in co-occurrence matrix")

// Matrix is a column-normalized co-occurrence matrix over external category ids.
//
// Entry (o, c) of the raw counts is how often category o was seen in an image together with
// category c. Each column is divided by its sum; columns that sum to zero stay zero. The
// per-column maximum of the normalized matrix is kept alongside so Weight can rescale a
// column to [0, 1]. A Matrix is immutable after construction and safe for concurrent reads.
type Matrix struct {
	ids    []int
	index  map[int]int
	norm   *mat.Dense
	colMax []float64
}

// FromCounts builds a normalized matrix from raw counts.
//
// Arguments:
//   - counts: A square matrix of non-negative counts.
//   - ids: The category id of each row/column. Nil means 1..n.
//
// Returns:
//   - *Matrix: The normalized matrix.
//   - error: An error if counts are not square, negative or non-finite, or ids do not match.
func FromCounts(counts mat.Matrix, ids []int) (*Matrix, error) {
	r, c := counts.Dims()
	if r != c || r == 0 {
		return nil, errors.Errorf("co-occurrence counts must be square and non-empty, got %dx%d", r, c)
	}
	if ids == nil {
		ids = make([]int, r)
		for i := range ids {
			ids[i] = i + 1
		}
	}
	if len(ids) != r {
		return nil, errors.Errorf("%d category ids for a %dx%d matrix", len(ids), r, c)
	}

	m := &Matrix{
		ids:    append([]int(nil), ids...),
		index:  make(map[int]int, r),
		norm:   mat.NewDense(r, c, nil),
		colMax: make([]float64, c),
	}
	for i, id := range ids {
		if _, dup := m.index[id]; dup {
			return nil, errors.Errorf("duplicate category id %d", id)
		}
		m.index[id] = i
	}

	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, counts)
		var sum float64
		for i, v := range col {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("invalid count %v at (%d, %d)", v, i, j)
			}
			sum += v
		}
		if sum == 0 {
			continue
		}
		for i, v := range col {
			n := v / sum
			m.norm.Set(i, j, n)
			m.colMax[j] = math.Max(m.colMax[j], n)
		}
	}
	return m, nil
}

// Size returns the number of categories.
func (m *Matrix) Size() int {
	return len(m.ids)
}

// CategoryIDs returns the category ids in row order.
func (m *Matrix) CategoryIDs() []int {
	return append([]int(nil), m.ids...)
}

// Has reports whether the category id is covered.
func (m *Matrix) Has(id int) bool {
	_, ok := m.index[id]
	return ok
}

// Normalized returns the normalized entry for (other, category).
func (m *Matrix) Normalized(other, category int) (float64, error) {
	i, j, err := m.lookup(other, category)
	if err != nil {
		return 0, err
	}
	return m.norm.At(i, j), nil
}

// ColumnMax returns the largest normalized entry of a category's column.
func (m *Matrix) ColumnMax(category int) (float64, error) {
	j, ok := m.index[category]
	if !ok {
		return 0, errors.Wrapf(ErrMissingCategory, "category %d", category)
	}
	return m.colMax[j], nil
}

// Weight is how strongly the presence of other supports category, rescaled by the column
// maximum so the strongest partner of a category has weight 1. A zero column has weight 0.
//
// Arguments:
//   - other: The category that is present in the image.
//   - category: The category being rescored.
//
// Returns:
//   - float64: The weight in [0, 1].
//   - error: ErrMissingCategory if either id is not covered.
func (m *Matrix) Weight(other, category int) (float64, error) {
	i, j, err := m.lookup(other, category)
	if err != nil {
		return 0, err
	}
	if m.colMax[j] == 0 {
		return 0, nil
	}
	return m.norm.At(i, j) / m.colMax[j], nil
}

func (m *Matrix) lookup(other, category int) (int, int, error) {
	i, ok := m.index[other]
	if !ok {
		return 0, 0, errors.Wrapf(ErrMissingCategory, "category %d", other)
	}
	j, ok := m.index[category]
	if !ok {
		return 0, 0, errors.Wrapf(ErrMissingCategory, "category %d", category)
	}
	return i, j, nil
}
