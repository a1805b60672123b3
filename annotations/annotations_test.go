package annotations

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nvr-ai/go-pseudolabel/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	r, err := NewRecord(7, 42, 18, images.Rect{X1: 10, Y1: 20, X2: 40, Y2: 60})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0, 0, 0}}, r.Segmentation)
	assert.Equal(t, [4]float64{10, 20, 30, 40}, r.BBox)
	assert.InDelta(t, 1200.0, r.Area, 1e-9)
	assert.Equal(t, 0, r.IsCrowd)
	assert.Equal(t, int64(42), r.ImageID)
	assert.Equal(t, 18, r.CategoryID)
	assert.Equal(t, int64(7), r.ID)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"segmentation": [[0, 0, 0, 0]],
		"area": 1200,
		"iscrowd": 0,
		"image_id": 42,
		"bbox": [10, 20, 30, 40],
		"category_id": 18,
		"id": 7
	}`, string(data))
}

func TestNewRecord_Invalid(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name     string
		id       int64
		category int
		box      images.Rect
	}{
		{"zero id", 0, 1, images.Rect{X2: 1, Y2: 1}},
		{"background category", 1, 0, images.Rect{X2: 1, Y2: 1}},
		{"negative width", 1, 1, images.Rect{X1: 5, X2: 1, Y2: 1}},
		{"nan", 1, 1, images.Rect{X1: nan, X2: 1, Y2: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecord(tt.id, 1, tt.category, tt.box)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestAccumulator_IDsAreUniqueAndIncreasing(t *testing.T) {
	acc := NewAccumulator(100)
	box := images.Rect{X1: 0, Y1: 0, X2: 5, Y2: 5}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(image int64) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := acc.Add(image, 1, box)
				assert.NoError(t, err)
			}
		}(int64(w))
	}
	wg.Wait()

	records := acc.Records()
	require.Len(t, records, 400)
	for i, r := range records {
		assert.Equal(t, int64(100+i), r.ID)
	}
	assert.Equal(t, int64(500), acc.NextID())
}

func TestAccumulator_InvalidRecordDoesNotConsumeID(t *testing.T) {
	acc := NewAccumulator(0)
	_, err := acc.Add(1, 0, images.Rect{X2: 1, Y2: 1})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	r, err := acc.Add(1, 3, images.Rect{X2: 1, Y2: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.ID)
	assert.Equal(t, 1, acc.Len())

	records := acc.Records()
	records[0].ID = 99
	assert.Equal(t, int64(1), acc.Records()[0].ID, "Records returns a copy")
}

func TestDataset_RoundTripPreservesFields(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(in, []byte(`{
		"info": {"description": "unlabeled"},
		"images": [{"id": 42, "file_name": "000000000042.jpg"}],
		"categories": [{"id": 1, "name": "person"}],
		"annotations": [{"id": 12, "image_id": 42, "category_id": 1, "bbox": [0, 0, 1, 1]}, {"id": 5}]
	}`), 0o644))

	d, err := LoadDataset(in)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())
	maxID, err := d.MaxAnnotationID()
	require.NoError(t, err)
	assert.Equal(t, int64(12), maxID)

	acc := NewAccumulator(maxID + 1)
	_, err = acc.Add(42, 18, images.Rect{X1: 1, Y1: 2, X2: 3, Y2: 4})
	require.NoError(t, err)
	require.NoError(t, d.Append(acc.Records()...))

	out := filepath.Join(dir, "out.json")
	require.NoError(t, d.Save(out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var got struct {
		Info        json.RawMessage   `json:"info"`
		Images      json.RawMessage   `json:"images"`
		Categories  json.RawMessage   `json:"categories"`
		Annotations []json.RawMessage `json:"annotations"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.JSONEq(t, `{"description": "unlabeled"}`, string(got.Info))
	assert.JSONEq(t, `[{"id": 42, "file_name": "000000000042.jpg"}]`, string(got.Images))
	assert.JSONEq(t, `[{"id": 1, "name": "person"}]`, string(got.Categories))
	require.Len(t, got.Annotations, 3)
	assert.JSONEq(t, `{"id": 5}`, string(got.Annotations[1]))

	var appended Record
	require.NoError(t, json.Unmarshal(got.Annotations[2], &appended))
	assert.Equal(t, int64(13), appended.ID)
	assert.Equal(t, 18, appended.CategoryID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")
}

func TestSaveRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, SaveRecords(path, nil))

	d, err := LoadDataset(path)
	require.NoError(t, err)
	assert.Zero(t, d.Len())

	raw, ok := d.Field("annotations")
	assert.False(t, ok, "annotations are held separately from other fields")
	assert.Nil(t, raw)
}

func TestLoadDataset_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadDataset(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"annotations": {}}`), 0o644))
	_, err = LoadDataset(bad)
	assert.Error(t, err)

	require.Error(t, NewDataset().Save(filepath.Join(dir, "nope", "out.json")))
}
