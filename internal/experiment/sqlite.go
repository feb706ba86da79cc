package experiment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/registry"
)

// SQLiteStore keeps experiments in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; serialising on the pool avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := []string{`
	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		model_id TEXT NOT NULL,
		minimum_count INTEGER NOT NULL,
		show_training_data INTEGER NOT NULL,
		show_bo_contour INTEGER NOT NULL,
		method_name TEXT NOT NULL,
		target_column TEXT NOT NULL,
		query_budget INTEGER NOT NULL,
		xlim_min REAL NOT NULL,
		xlim_max REAL NOT NULL,
		ylim_min REAL NOT NULL,
		ylim_max REAL NOT NULL,
		resolution REAL NOT NULL,
		next_index INTEGER NOT NULL,
		last_modified INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_experiments_modified ON experiments(last_modified);
	`, `
	CREATE TABLE IF NOT EXISTS registered_values (
		experiment_id TEXT NOT NULL,
		value_id INTEGER NOT NULL,
		seq_id TEXT NOT NULL,
		sequence TEXT NOT NULL,
		coord_x REAL NOT NULL,
		coord_y REAL NOT NULL,
		staged INTEGER NOT NULL,
		PRIMARY KEY (experiment_id, value_id)
	);
	`, `
	CREATE TABLE IF NOT EXISTS target_columns (
		experiment_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		column_name TEXT NOT NULL,
		PRIMARY KEY (experiment_id, position),
		UNIQUE (experiment_id, column_name)
	);
	`, `
	CREATE TABLE IF NOT EXISTS target_values (
		experiment_id TEXT NOT NULL,
		value_id INTEGER NOT NULL,
		column_position INTEGER NOT NULL,
		value REAL,
		PRIMARY KEY (experiment_id, value_id, column_position)
	);
	`, `
	CREATE TABLE IF NOT EXISTS query_data (
		experiment_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		sequence TEXT NOT NULL,
		coord_x REAL NOT NULL,
		coord_y REAL NOT NULL,
		coord_x_original REAL NOT NULL,
		coord_y_original REAL NOT NULL,
		staged INTEGER NOT NULL,
		PRIMARY KEY (experiment_id, position)
	);
	`, `
	CREATE TABLE IF NOT EXISTS acquisition_data (
		experiment_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		coord_x REAL NOT NULL,
		coord_y REAL NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (experiment_id, position)
	);
	`}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// childTables hold per-experiment rows keyed by experiment_id.
var childTables = []string{"registered_values", "target_columns", "target_values", "query_data", "acquisition_data"}

// Save writes snap inside one transaction, replacing any previous version.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	out, err := prepare(snap, s.now())
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteRows(ctx, tx, out.ID); err != nil {
		return nil, err
	}
	if err := insertSnapshot(ctx, tx, out); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit experiment: %w", err)
	}
	return out, nil
}

func deleteRows(ctx context.Context, tx *sql.Tx, id string) error {
	for _, table := range append([]string{"experiments"}, childTables...) {
		col := "experiment_id"
		if table == "experiments" {
			col = "id"
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+col+" = ?", id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	o := snap.Optimization
	_, err := tx.ExecContext(ctx, `INSERT INTO experiments (
		id, version, name, model_id, minimum_count, show_training_data, show_bo_contour,
		method_name, target_column, query_budget, xlim_min, xlim_max, ylim_min, ylim_max,
		resolution, next_index, last_modified
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Version, snap.Name, snap.ModelID,
		snap.Plot.MinimumCount, snap.Plot.ShowTrainingData, snap.Plot.ShowBOContour,
		o.Method, o.TargetColumn, o.Budget,
		o.Bounds.XMin, o.Bounds.XMax, o.Bounds.YMin, o.Bounds.YMax, o.Bounds.Resolution,
		snap.Registry.NextIndex, snap.LastModified.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}

	for pos, name := range snap.Registry.Columns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO target_columns (experiment_id, position, column_name) VALUES (?, ?, ?)`,
			snap.ID, pos, name); err != nil {
			return fmt.Errorf("insert column %q: %w", name, err)
		}
	}

	for _, row := range snap.Registry.Rows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO registered_values
			(experiment_id, value_id, seq_id, sequence, coord_x, coord_y, staged)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, row.Index, row.ID, row.Sequence, row.X, row.Y, row.Staged); err != nil {
			return fmt.Errorf("insert record %d: %w", row.Index, err)
		}
		for pos, v := range row.Values {
			var value sql.NullFloat64
			if v != nil {
				value = sql.NullFloat64{Float64: *v, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO target_values
				(experiment_id, value_id, column_position, value) VALUES (?, ?, ?, ?)`,
				snap.ID, row.Index, pos, value); err != nil {
				return fmt.Errorf("insert value %d/%d: %w", row.Index, pos, err)
			}
		}
	}

	for pos, q := range snap.Pool {
		if _, err := tx.ExecContext(ctx, `INSERT INTO query_data
			(experiment_id, position, sequence, coord_x, coord_y, coord_x_original, coord_y_original, staged)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, pos, q.Sequence, q.X, q.Y, q.OriginalX, q.OriginalY, q.Staged); err != nil {
			return fmt.Errorf("insert query %d: %w", pos, err)
		}
	}

	a := snap.Acquisition
	for pos := range a.Values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO acquisition_data
			(experiment_id, position, coord_x, coord_y, value) VALUES (?, ?, ?, ?, ?)`,
			snap.ID, pos, a.X[pos], a.Y[pos], a.Values[pos]); err != nil {
			return fmt.Errorf("insert acquisition %d: %w", pos, err)
		}
	}
	return nil
}

// Get loads the experiment with the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &Snapshot{ID: id}
	var modified int64
	o := &snap.Optimization
	err = tx.QueryRowContext(ctx, `SELECT version, name, model_id, minimum_count, show_training_data,
		show_bo_contour, method_name, target_column, query_budget, xlim_min, xlim_max, ylim_min,
		ylim_max, resolution, next_index, last_modified FROM experiments WHERE id = ?`, id).Scan(
		&snap.Version, &snap.Name, &snap.ModelID,
		&snap.Plot.MinimumCount, &snap.Plot.ShowTrainingData, &snap.Plot.ShowBOContour,
		&o.Method, &o.TargetColumn, &o.Budget,
		&o.Bounds.XMin, &o.Bounds.XMax, &o.Bounds.YMin, &o.Bounds.YMax, &o.Bounds.Resolution,
		&snap.Registry.NextIndex, &modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query experiment: %w", err)
	}
	snap.LastModified = time.Unix(0, modified).UTC()

	if snap.Registry.Columns, err = loadColumns(ctx, tx, id); err != nil {
		return nil, err
	}
	if snap.Registry.Rows, err = loadRows(ctx, tx, id, len(snap.Registry.Columns)); err != nil {
		return nil, err
	}
	if snap.Pool, err = loadPool(ctx, tx, id); err != nil {
		return nil, err
	}
	if err := loadAcquisition(ctx, tx, id, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func loadColumns(ctx context.Context, tx *sql.Tx, id string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT column_name FROM target_columns WHERE experiment_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	columns := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

func loadRows(ctx context.Context, tx *sql.Tx, id string, width int) ([]registry.Row, error) {
	rows, err := tx.QueryContext(ctx, `SELECT value_id, seq_id, sequence, coord_x, coord_y, staged
		FROM registered_values WHERE experiment_id = ? ORDER BY value_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []registry.Row{}
	pos := make(map[int]int)
	for rows.Next() {
		var r registry.Row
		if err := rows.Scan(&r.Index, &r.ID, &r.Sequence, &r.X, &r.Y, &r.Staged); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Values = make([]*float64, width)
		pos[r.Index] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cells, err := tx.QueryContext(ctx, `SELECT value_id, column_position, value
		FROM target_values WHERE experiment_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer cells.Close()

	for cells.Next() {
		var (
			index, col int
			value      sql.NullFloat64
		)
		if err := cells.Scan(&index, &col, &value); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		i, ok := pos[index]
		if !ok || col < 0 || col >= width {
			return nil, fmt.Errorf("%w: orphan value for record %d column %d", latent.ErrValidation, index, col)
		}
		if value.Valid {
			v := value.Float64
			out[i].Values[col] = &v
		}
	}
	return out, cells.Err()
}

func loadPool(ctx context.Context, tx *sql.Tx, id string) ([]latent.QueryCandidate, error) {
	rows, err := tx.QueryContext(ctx, `SELECT sequence, coord_x, coord_y, coord_x_original,
		coord_y_original, staged FROM query_data WHERE experiment_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query pool: %w", err)
	}
	defer rows.Close()

	pool := []latent.QueryCandidate{}
	for rows.Next() {
		var q latent.QueryCandidate
		if err := rows.Scan(&q.Sequence, &q.X, &q.Y, &q.OriginalX, &q.OriginalY, &q.Staged); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		pool = append(pool, q)
	}
	return pool, rows.Err()
}

func loadAcquisition(ctx context.Context, tx *sql.Tx, id string, snap *Snapshot) error {
	rows, err := tx.QueryContext(ctx, `SELECT coord_x, coord_y, value FROM acquisition_data
		WHERE experiment_id = ? ORDER BY position`, id)
	if err != nil {
		return fmt.Errorf("query acquisition: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var x, y, v float64
		if err := rows.Scan(&x, &y, &v); err != nil {
			return fmt.Errorf("scan acquisition: %w", err)
		}
		snap.Acquisition.X = append(snap.Acquisition.X, x)
		snap.Acquisition.Y = append(snap.Acquisition.Y, y)
		snap.Acquisition.Values = append(snap.Acquisition.Values, v)
	}
	return rows.Err()
}

// List returns every experiment, most recently modified first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, model_id, last_modified FROM experiments ORDER BY last_modified DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query experiments: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum      Summary
			modified int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.ModelID, &modified); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		sum.LastModified = time.Unix(0, modified).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes an experiment and all of its rows.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiments WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query experiment: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := deleteRows(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
