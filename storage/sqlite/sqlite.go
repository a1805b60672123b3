// Package sqlite - an SQLite sink for annotation records.
package sqlite

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nvr-ai/go-pseudolabel/annotations"
	"github.com/pkg/errors"
)

// DB wraps the SQLite connection with serialized writes.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
}

// New opens (or creates) the database at dbPath and ensures the schema exists.
//
// Arguments:
//   - dbPath: The database file. ":memory:" works for tests.
//
// Returns:
//   - *DB: The open database.
//   - error: An error if the database cannot be opened or migrated.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS annotations (
		id INTEGER PRIMARY KEY,
		image_id INTEGER NOT NULL,
		category_id INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		width REAL NOT NULL,
		height REAL NOT NULL,
		area REAL NOT NULL,
		iscrowd INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_annotations_image_id ON annotations(image_id);
	CREATE INDEX IF NOT EXISTS idx_annotations_category_id ON annotations(category_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// InsertBatch adds records in a single transaction. Either every record is stored or none.
func (db *DB) InsertBatch(ctx context.Context, records []annotations.Record) error {
	if len(records) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annotations (id, image_id, category_id, x, y, width, height, area, iscrowd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.ImageID, r.CategoryID,
			r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3], r.Area, r.IsCrowd); err != nil {
			return errors.Wrapf(err, "failed to insert annotation %d", r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// Count returns the number of stored annotations.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotations`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count annotations")
	}
	return n, nil
}

// ByImage returns the annotations of one image ordered by id.
func (db *DB) ByImage(ctx context.Context, imageID int64) ([]annotations.Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, image_id, category_id, x, y, width, height, area, iscrowd
		FROM annotations WHERE image_id = ? ORDER BY id
	`, imageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query annotations")
	}
	defer rows.Close()

	var out []annotations.Record
	for rows.Next() {
		r := annotations.Record{Segmentation: [][]float64{{0, 0, 0, 0}}}
		if err := rows.Scan(&r.ID, &r.ImageID, &r.CategoryID,
			&r.BBox[0], &r.BBox[1], &r.BBox[2], &r.BBox[3], &r.Area, &r.IsCrowd); err != nil {
			return nil, errors.Wrap(err, "failed to scan annotation")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate annotations")
}
