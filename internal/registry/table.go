package registry

import (
	"fmt"
	"slices"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// Row is one record of the rectangular view. Values is aligned with the
// owning Table's Columns; nil entries are null cells.
type Row struct {
	Index    int        `json:"sequence_index"`
	ID       string     `json:"seq_id"`
	Sequence string     `json:"random_region"`
	X        float64    `json:"coord_x"`
	Y        float64    `json:"coord_y"`
	Staged   bool       `json:"staged"`
	Values   []*float64 `json:"values"`
}

// Record returns the fixed fields of the row.
func (row Row) Record() Record {
	return Record{Index: row.Index, ID: row.ID, Sequence: row.Sequence, X: row.X, Y: row.Y, Staged: row.Staged}
}

// Table is the rectangular records × columns view of a registry.
//
// NextIndex carries the index high-water mark so that indices of removed
// records stay retired across a round trip.
type Table struct {
	Columns   []string `json:"columns"`
	NextIndex int      `json:"next_index"`
	Rows      []Row    `json:"rows"`
}

// Value returns the cell of row i in column name.
func (t Table) Value(i int, name string) (*float64, bool) {
	pos := slices.Index(t.Columns, name)
	if pos < 0 || i < 0 || i >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[i].Values[pos], true
}

// Reindexed returns a copy of t with rows renumbered consecutively from start.
func (t Table) Reindexed(start int) Table {
	out := Table{
		Columns:   slices.Clone(t.Columns),
		NextIndex: start + len(t.Rows),
		Rows:      make([]Row, len(t.Rows)),
	}
	for i, row := range t.Rows {
		row.Index = start + i
		row.Values = slices.Clone(row.Values)
		out.Rows[i] = row
	}
	return out
}

// ToRectangular renders the registry as a table. The result shares no memory
// with the registry.
func (r *Registry) ToRectangular() Table {
	t := Table{
		Columns:   slices.Clone(r.columns),
		NextIndex: r.nextIndex,
		Rows:      make([]Row, 0, len(r.order)),
	}
	for _, idx := range r.order {
		rec := r.records[idx]
		values := make([]*float64, len(r.columns))
		for i, col := range r.columns {
			values[i] = copyValue(r.cells[cellKey{idx, col}])
		}
		t.Rows = append(t.Rows, Row{
			Index:    rec.Index,
			ID:       rec.ID,
			Sequence: rec.Sequence,
			X:        rec.X,
			Y:        rec.Y,
			Staged:   rec.Staged,
			Values:   values,
		})
	}
	return t
}

// FromTable builds a registry from a table. FromTable(r.ToRectangular())
// is equal to r.
func FromTable(t Table) (*Registry, error) {
	return New().FromRectangular(t)
}

// FromRectangular bulk-loads rows into the registry.
//
// Columns of t that are not yet declared are appended (existing records get
// null cells). Declared columns missing from t are null on the loaded rows.
// Every row index must be fresh: non-negative, unique within t, and never
// issued by this registry before. The load is all-or-nothing.
func (r *Registry) FromRectangular(t Table) (*Registry, error) {
	seen := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		if err := ValidateColumnName(col); err != nil {
			return nil, err
		}
		if seen[col] {
			return nil, &latent.DuplicateColumnError{Name: col}
		}
		seen[col] = true
	}

	maxIndex := -1
	indices := make(map[int]bool, len(t.Rows))
	for i, row := range t.Rows {
		switch {
		case row.Index < 0:
			return nil, fmt.Errorf("%w: row %d: negative sequence index %d", latent.ErrValidation, i, row.Index)
		case row.Index < r.nextIndex:
			return nil, fmt.Errorf("%w: row %d: sequence index %d already issued", latent.ErrValidation, i, row.Index)
		case indices[row.Index]:
			return nil, fmt.Errorf("%w: row %d: duplicate sequence index %d", latent.ErrValidation, i, row.Index)
		}
		indices[row.Index] = true
		maxIndex = max(maxIndex, row.Index)

		if len(row.Values) != len(t.Columns) {
			return nil, fmt.Errorf("%w: row %d: %d values for %d columns", latent.ErrValidation, i, len(row.Values), len(t.Columns))
		}
		if err := validateRecord(row.Record()); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		for j, v := range row.Values {
			if v != nil && !latent.IsFinite(*v) {
				return nil, fmt.Errorf("%w: row %d: non-finite value in %q", latent.ErrValidation, i, t.Columns[j])
			}
		}
	}

	next := r.clone()
	for _, col := range t.Columns {
		if next.HasColumn(col) {
			continue
		}
		next.columns = append(next.columns, col)
		for _, idx := range next.order {
			next.cells[cellKey{idx, col}] = nil
		}
	}

	pos := make(map[string]int, len(t.Columns))
	for j, col := range t.Columns {
		pos[col] = j
	}
	for _, row := range t.Rows {
		aligned := make([]*float64, len(next.columns))
		for i, col := range next.columns {
			if j, ok := pos[col]; ok {
				aligned[i] = row.Values[j]
			}
		}
		next.insert(row.Record(), aligned)
	}
	next.nextIndex = max(r.nextIndex, t.NextIndex, maxIndex+1)

	return next, nil
}
