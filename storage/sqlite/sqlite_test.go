package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/go-pseudolabel/annotations"
	"github.com/nvr-ai/go-pseudolabel/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "annotations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func records(t *testing.T) []annotations.Record {
	t.Helper()
	acc := annotations.NewAccumulator(1)
	for i, box := range []images.Rect{
		{X1: 0, Y1: 0, X2: 10, Y2: 20},
		{X1: 5, Y1: 5, X2: 6, Y2: 8},
	} {
		_, err := acc.Add(42, i+1, box)
		require.NoError(t, err)
	}
	_, err := acc.Add(7, 3, images.Rect{X2: 1, Y2: 1})
	require.NoError(t, err)
	return acc.Records()
}

func TestInsertBatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	recs := records(t)

	require.NoError(t, db.InsertBatch(ctx, recs))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := db.ByImage(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, recs[:2], got)

	require.NoError(t, db.InsertBatch(ctx, nil))
}

func TestInsertBatch_RollsBackOnDuplicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	recs := records(t)

	require.NoError(t, db.InsertBatch(ctx, recs[:1]))
	assert.Error(t, db.InsertBatch(ctx, recs), "id 1 already exists")

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed batch leaves nothing behind")
}
