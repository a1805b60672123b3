package cooccur

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-pseudolabel/images"
	"github.com/nvr-ai/go-pseudolabel/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// counts over categories 1, 3 and 5; column 5 is all zero.
var rawCounts = []float64{
	0, 6, 0,
	2, 0, 0,
	2, 2, 0,
}

var ids = []int{1, 3, 5}

type mapper map[int]int

var errUnmapped = errors.New("unmapped")

func (m mapper) CategoryID(class int) (int, error) {
	id, ok := m[class]
	if !ok {
		return 0, errUnmapped
	}
	return id, nil
}

var classes = mapper{1: 1, 2: 3, 3: 5}

func mustMatrix(t *testing.T) *Matrix {
	t.Helper()
	m, err := FromCounts(mat.NewDense(3, 3, rawCounts), ids)
	require.NoError(t, err)
	return m
}

func mustRescorer(t *testing.T) *Rescorer {
	t.Helper()
	r, err := NewRescorer(mustMatrix(t), DefaultRescoreConfig())
	require.NoError(t, err)
	return r
}

func candidate(class int, score float32) postprocess.Result {
	return postprocess.Result{Box: images.Rect{X1: 1, Y1: 1, X2: 10, Y2: 10}, Score: score, Class: class}
}

func TestFromCounts_NormalizesColumns(t *testing.T) {
	m := mustMatrix(t)
	assert.Equal(t, 3, m.Size())
	assert.Equal(t, ids, m.CategoryIDs())

	for _, c := range ids[:2] {
		var sum float64
		for _, o := range ids {
			v, err := m.Normalized(o, c)
			require.NoError(t, err)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "column %d", c)
	}

	v, err := m.Normalized(1, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, v, 1e-9)

	colMax, err := m.ColumnMax(5)
	require.NoError(t, err)
	assert.Zero(t, colMax, "all-zero column stays zero")
}

func TestFromCounts_Invalid(t *testing.T) {
	_, err := FromCounts(mat.NewDense(2, 3, nil), nil)
	assert.Error(t, err)

	_, err = FromCounts(mat.NewDense(2, 2, []float64{1, -1, 0, 0}), nil)
	assert.Error(t, err)

	_, err = FromCounts(mat.NewDense(2, 2, nil), []int{4, 4})
	assert.Error(t, err)

	_, err = FromCounts(mat.NewDense(2, 2, nil), []int{1})
	assert.Error(t, err)
}

func TestMatrix_WeightIsAsymmetric(t *testing.T) {
	m := mustMatrix(t)

	w, err := m.Weight(5, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, w, 1e-9)

	w, err = m.Weight(3, 5)
	require.NoError(t, err)
	assert.Zero(t, w, "zero column maximum gives zero weight")

	w, err = m.Weight(1, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w, 1e-9)

	_, err = m.Weight(2, 3)
	assert.ErrorIs(t, err, ErrMissingCategory)
}

func TestRescorer_Weights(t *testing.T) {
	weights, err := mustRescorer(t).Weights([]int{1, 3, 5})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, weights[1], 1e-9)
	assert.InDelta(t, 1.0, weights[3], 1e-9)
	assert.Zero(t, weights[5])

	weights, err = mustRescorer(t).Weights([]int{3, 5})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, weights[3], 1e-9, "self pairs are excluded")
}

func TestRescorer_Rescore(t *testing.T) {
	dets := postprocess.NewDetections(4)
	dets[1] = []postprocess.Result{candidate(1, 0.95), candidate(1, 0.6)}
	dets[2] = []postprocess.Result{candidate(2, 0.7)}
	dets[3] = []postprocess.Result{candidate(3, 0.55), candidate(3, 0.4)}

	out, summary, err := mustRescorer(t).Rescore(dets, classes)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3, 5}, summary.Present)
	assert.Equal(t, 4, summary.Rescored)
	assert.Equal(t, 2, summary.Dropped)
	assert.Equal(t, []postprocess.Result{candidate(1, 0.95), candidate(1, 0.6)}, out[1])
	assert.Equal(t, []postprocess.Result{candidate(2, 0.7)}, out[2])
	assert.Empty(t, out[3], "category without support is dropped below high confidence")
	assert.Len(t, dets[3], 2, "input is not modified")
}

func TestRescorer_PartialWeightDrops(t *testing.T) {
	dets := postprocess.NewDetections(4)
	dets[2] = []postprocess.Result{candidate(2, 0.95), candidate(2, 0.8)}
	dets[3] = []postprocess.Result{candidate(3, 0.92)}

	out, summary, err := mustRescorer(t).Rescore(dets, classes)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, summary.Present)
	// 0.8 * 1/3 falls below acceptance; the high-confidence candidates are untouched.
	assert.Equal(t, []postprocess.Result{candidate(2, 0.95)}, out[2])
	assert.Equal(t, []postprocess.Result{candidate(3, 0.92)}, out[3])
	assert.Equal(t, 1, summary.Rescored)
	assert.Equal(t, 1, summary.Dropped)
}

func TestRescorer_SinglePresentCategoryIsNoOp(t *testing.T) {
	dets := postprocess.NewDetections(4)
	dets[1] = []postprocess.Result{candidate(1, 0.6), candidate(1, 0.2)}
	dets[3] = []postprocess.Result{candidate(3, 0.45)}

	out, summary, err := mustRescorer(t).Rescore(dets, classes)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, summary.Present)
	assert.Equal(t, dets, out)
	assert.Zero(t, summary.Rescored)
}

func TestRescoreConfig_ValidateReportsFirstInvalidField(t *testing.T) {
	c := RescoreConfig{PresenceThreshold: -1, HighConfidence: 2, Acceptance: 3}
	for i := 0; i < 10; i++ {
		assert.EqualError(t, c.Validate(), "rescore presence_threshold -1 outside [0, 1]")
	}
}

func TestRescorer_Errors(t *testing.T) {
	r := mustRescorer(t)

	dets := postprocess.NewDetections(5)
	dets[4] = []postprocess.Result{candidate(4, 0.9)}
	_, _, err := r.Rescore(dets, mapper{4: 7})
	assert.ErrorIs(t, err, ErrMissingCategory)

	_, _, err = r.Rescore(dets, classes)
	assert.ErrorIs(t, err, errUnmapped)

	_, err = NewRescorer(nil, DefaultRescoreConfig())
	assert.Error(t, err)
	_, err = NewRescorer(mustMatrix(t), RescoreConfig{HighConfidence: 2})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "counts.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"category_ids": [1, 3, 5],
		"counts": [[0, 6, 0], [2, 0, 0], [2, 2, 0]]
	}`), 0o644))

	npyPath := filepath.Join(dir, "counts.npy")
	f, err := os.Create(npyPath)
	require.NoError(t, err)
	require.NoError(t, npyio.Write(f, mat.NewDense(3, 3, rawCounts)))
	require.NoError(t, f.Close())

	for _, path := range []string{jsonPath, npyPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			m, err := Load(path, ids)
			require.NoError(t, err)
			w, err := m.Weight(5, 3)
			require.NoError(t, err)
			assert.InDelta(t, 1.0/3, w, 1e-9)
		})
	}

	_, err = Load(filepath.Join(dir, "counts.csv"), nil)
	assert.Error(t, err)

	ragged := filepath.Join(dir, "ragged.json")
	require.NoError(t, os.WriteFile(ragged, []byte(`{"counts": [[1, 2], [3]]}`), 0o644))
	_, err = Load(ragged, nil)
	assert.Error(t, err)
}
