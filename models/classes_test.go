package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCOCOClasses_CategoryIDs(t *testing.T) {
	coco, err := LookupClassSet(ModelFamilyCOCO)
	require.NoError(t, err)
	require.NoError(t, coco.Validate())
	assert.Equal(t, 81, coco.NumClasses())

	tests := []struct {
		index    int
		name     string
		category int
	}{
		{1, "person", 1},
		{11, "fire hydrant", 11},
		{12, "stop sign", 13},
		{25, "backpack", 27},
		{27, "handbag", 31},
		{62, "toilet", 70},
		{63, "tv", 72},
		{74, "book", 84},
		{80, "toothbrush", 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, coco.Name(tt.index))
			id, err := coco.CategoryID(tt.index)
			require.NoError(t, err)
			assert.Equal(t, tt.category, id)
		})
	}

	ids := coco.CategoryIDs()
	require.Len(t, ids, 80)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1], "ids increase with the class index")
	}
}

func TestOutputClassSet_UnknownClass(t *testing.T) {
	coco, err := LookupClassSet(ModelFamilyCOCO)
	require.NoError(t, err)

	for _, idx := range []int{0, -1, 81, 500} {
		_, err := coco.CategoryID(idx)
		assert.ErrorIs(t, err, ErrUnknownClass, "index %d", idx)
	}
	assert.Empty(t, coco.Name(81))
}

func TestLookupClassSet_ReturnsCopy(t *testing.T) {
	voc, err := LookupClassSet(ModelFamilyVOC)
	require.NoError(t, err)
	voc.Classes[1].CategoryID = 999
	assert.Equal(t, 1, PascalVOCClasses.Classes[1].CategoryID)

	_, err = LookupClassSet("nope")
	assert.Error(t, err)
}

func TestLoadClassSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
classes:
  - {index: 0, name: __background__, category_id: 0}
  - {index: 1, name: forklift, category_id: 7}
  - {index: 2, name: pallet, category_id: 3}
`), 0o644))

	set, err := LoadClassSet(path)
	require.NoError(t, err)
	assert.Equal(t, ModelFamilyCustom, set.Style)
	id, err := set.CategoryID(2)
	require.NoError(t, err)
	assert.Equal(t, 3, id)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
classes:
  - {index: 0, name: __background__, category_id: 0}
  - {index: 1, name: a, category_id: 4}
  - {index: 2, name: b, category_id: 4}
`), 0o644))
	_, err = LoadClassSet(bad)
	assert.Error(t, err)

	_, err = LoadClassSet(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
