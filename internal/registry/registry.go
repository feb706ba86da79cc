// Package registry holds the candidate registry: labelled sequences, their
// latent coordinates and a sparse set of metric cells.
//
// The registry provides:
//   - A declared, ordered set of metric columns shared by every record
//   - One cell per (record, column) pair, null until written
//   - Sequence indices that are issued once and never reused
//   - A rectangular view (Table) that round-trips without loss
//
// A *Registry is an immutable value. Every mutating operation returns a new
// registry and leaves the receiver untouched, so a caller may hold on to an
// old version while a newer one is being built.
package registry

import (
	"fmt"
	"maps"
	"slices"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// Reserved column names. They name the fixed fields of a row in uploaded
// tables and cannot be declared as metric columns.
const (
	ColumnID            = "seq_id"
	ColumnSequence      = "random_region"
	ColumnX             = "coord_x"
	ColumnY             = "coord_y"
	ColumnSequenceIndex = "sequence_index"
)

var reserved = map[string]bool{
	ColumnID:            true,
	ColumnSequence:      true,
	ColumnX:             true,
	ColumnY:             true,
	ColumnSequenceIndex: true,
}

// Record is one registered sequence.
type Record struct {
	Index    int     `json:"sequence_index"`
	ID       string  `json:"seq_id"`
	Sequence string  `json:"random_region"`
	X        float64 `json:"coord_x"`
	Y        float64 `json:"coord_y"`
	Staged   bool    `json:"staged"`
}

// Point returns the record's latent coordinates.
func (r Record) Point() latent.Point { return latent.Point{X: r.X, Y: r.Y} }

type cellKey struct {
	index  int
	column string
}

// Registry is the sparse long-format candidate store.
type Registry struct {
	columns   []string
	order     []int
	records   map[int]Record
	cells     map[cellKey]*float64
	nextIndex int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[int]Record),
		cells:   make(map[cellKey]*float64),
	}
}

func (r *Registry) clone() *Registry {
	return &Registry{
		columns:   slices.Clone(r.columns),
		order:     slices.Clone(r.order),
		records:   maps.Clone(r.records),
		cells:     maps.Clone(r.cells),
		nextIndex: r.nextIndex,
	}
}

// Len returns the number of records.
func (r *Registry) Len() int { return len(r.order) }

// NextIndex returns the index the next appended record will receive.
func (r *Registry) NextIndex() int { return r.nextIndex }

// Columns returns the declared metric columns in order.
func (r *Registry) Columns() []string { return slices.Clone(r.columns) }

// HasColumn reports whether name is a declared column.
func (r *Registry) HasColumn(name string) bool { return slices.Contains(r.columns, name) }

// Record returns the record with the given index.
func (r *Registry) Record(index int) (Record, error) {
	rec, ok := r.records[index]
	if !ok {
		return Record{}, &latent.UnknownRecordError{Index: index}
	}
	return rec, nil
}

// Records returns every record in insertion order.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.order))
	for _, idx := range r.order {
		out = append(out, r.records[idx])
	}
	return out
}

// Indices returns the record indices in insertion order.
func (r *Registry) Indices() []int { return slices.Clone(r.order) }

// ValidateColumnName rejects empty and reserved names.
func ValidateColumnName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty column name", latent.ErrValidation)
	}
	if reserved[name] {
		return fmt.Errorf("%w: column name %q is reserved", latent.ErrValidation, name)
	}
	return nil
}

// AddColumn declares a new metric column and creates a null cell for it on
// every existing record.
func (r *Registry) AddColumn(name string) (*Registry, error) {
	if err := ValidateColumnName(name); err != nil {
		return nil, err
	}
	if r.HasColumn(name) {
		return nil, &latent.DuplicateColumnError{Name: name}
	}

	next := r.clone()
	next.columns = append(next.columns, name)
	for _, idx := range next.order {
		next.cells[cellKey{idx, name}] = nil
	}
	return next, nil
}

// RemoveColumn drops a column together with all of its cells.
func (r *Registry) RemoveColumn(name string) (*Registry, error) {
	pos := slices.Index(r.columns, name)
	if pos < 0 {
		return nil, &latent.UnknownColumnError{Name: name}
	}

	next := r.clone()
	next.columns = slices.Delete(next.columns, pos, pos+1)
	for _, idx := range next.order {
		delete(next.cells, cellKey{idx, name})
	}
	return next, nil
}

// SetCell writes a value (nil for null) into an existing cell.
func (r *Registry) SetCell(index int, column string, value *float64) (*Registry, error) {
	if _, ok := r.records[index]; !ok {
		return nil, &latent.UnknownRecordError{Index: index}
	}
	if !r.HasColumn(column) {
		return nil, &latent.UnknownColumnError{Name: column}
	}
	if value != nil && !latent.IsFinite(*value) {
		return nil, fmt.Errorf("%w: non-finite value %v for %q", latent.ErrValidation, *value, column)
	}

	next := r.clone()
	next.cells[cellKey{index, column}] = copyValue(value)
	return next, nil
}

// Cell returns a copy of the cell value, nil when null.
func (r *Registry) Cell(index int, column string) (*float64, error) {
	if _, ok := r.records[index]; !ok {
		return nil, &latent.UnknownRecordError{Index: index}
	}
	if !r.HasColumn(column) {
		return nil, &latent.UnknownColumnError{Name: column}
	}
	return copyValue(r.cells[cellKey{index, column}]), nil
}

// Values returns the record's cells in column order.
func (r *Registry) Values(index int) ([]*float64, error) {
	if _, ok := r.records[index]; !ok {
		return nil, &latent.UnknownRecordError{Index: index}
	}
	out := make([]*float64, len(r.columns))
	for i, col := range r.columns {
		out[i] = copyValue(r.cells[cellKey{index, col}])
	}
	return out, nil
}

// RemoveRecord deletes a record and its cells. The index is not reissued.
func (r *Registry) RemoveRecord(index int) (*Registry, error) {
	if _, ok := r.records[index]; !ok {
		return nil, &latent.UnknownRecordError{Index: index}
	}

	next := r.clone()
	delete(next.records, index)
	next.order = slices.DeleteFunc(next.order, func(i int) bool { return i == index })
	for _, col := range next.columns {
		delete(next.cells, cellKey{index, col})
	}
	return next, nil
}

// SetStaged sets the staged flag of one record.
func (r *Registry) SetStaged(index int, staged bool) (*Registry, error) {
	return r.update(index, func(rec *Record) error {
		rec.Staged = staged
		return nil
	})
}

// SetAllStaged sets the staged flag of every record.
func (r *Registry) SetAllStaged(staged bool) *Registry {
	next := r.clone()
	for idx, rec := range next.records {
		rec.Staged = staged
		next.records[idx] = rec
	}
	return next
}

// SetID relabels a record.
func (r *Registry) SetID(index int, id string) (*Registry, error) {
	return r.update(index, func(rec *Record) error {
		rec.ID = id
		return nil
	})
}

// WithCoordinates moves a record without touching its sequence.
func (r *Registry) WithCoordinates(index int, x, y float64) (*Registry, error) {
	p := latent.Point{X: x, Y: y}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return r.update(index, func(rec *Record) error {
		rec.X, rec.Y = x, y
		return nil
	})
}

// WithSequence replaces a record's sequence and coordinates together.
func (r *Registry) WithSequence(index int, seq string, x, y float64) (*Registry, error) {
	if err := latent.ValidateSequence(seq); err != nil {
		return nil, err
	}
	p := latent.Point{X: x, Y: y}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return r.update(index, func(rec *Record) error {
		rec.Sequence = seq
		rec.X, rec.Y = x, y
		return nil
	})
}

// Relocate applies new coordinates to several records at once. Either every
// move is applied or none is.
func (r *Registry) Relocate(coords map[int]latent.Point) (*Registry, error) {
	for idx, p := range coords {
		if _, ok := r.records[idx]; !ok {
			return nil, &latent.UnknownRecordError{Index: idx}
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", idx, err)
		}
	}

	next := r.clone()
	for idx, p := range coords {
		rec := next.records[idx]
		rec.X, rec.Y = p.X, p.Y
		next.records[idx] = rec
	}
	return next, nil
}

// Append adds a record under a freshly issued index and returns it as stored.
// Index on the argument is ignored. Every declared column gets a null cell.
func (r *Registry) Append(rec Record) (*Registry, Record, error) {
	next, added, err := r.AppendAll([]Record{rec})
	if err != nil {
		return nil, Record{}, err
	}
	return next, added[0], nil
}

// AppendAll appends several records atomically, issuing consecutive indices.
func (r *Registry) AppendAll(recs []Record) (*Registry, []Record, error) {
	for i, rec := range recs {
		if err := validateRecord(rec); err != nil {
			return nil, nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	next := r.clone()
	added := make([]Record, 0, len(recs))
	for _, rec := range recs {
		rec.Index = next.nextIndex
		next.nextIndex++
		next.insert(rec, nil)
		added = append(added, rec)
	}
	return next, added, nil
}

// Equal reports whether two registries hold the same columns, records, cells
// and index high-water mark.
func (r *Registry) Equal(other *Registry) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.nextIndex != other.nextIndex ||
		!slices.Equal(r.columns, other.columns) ||
		!slices.Equal(r.order, other.order) ||
		!maps.Equal(r.records, other.records) ||
		len(r.cells) != len(other.cells) {
		return false
	}
	for k, v := range r.cells {
		w, ok := other.cells[k]
		if !ok || !sameValue(v, w) {
			return false
		}
	}
	return true
}

func (r *Registry) update(index int, fn func(*Record) error) (*Registry, error) {
	rec, ok := r.records[index]
	if !ok {
		return nil, &latent.UnknownRecordError{Index: index}
	}
	if err := fn(&rec); err != nil {
		return nil, err
	}
	next := r.clone()
	next.records[index] = rec
	return next, nil
}

// insert stores rec and one cell per declared column. values, when non-nil,
// is aligned with r.columns.
func (r *Registry) insert(rec Record, values []*float64) {
	r.records[rec.Index] = rec
	r.order = append(r.order, rec.Index)
	for i, col := range r.columns {
		var v *float64
		if values != nil {
			v = copyValue(values[i])
		}
		r.cells[cellKey{rec.Index, col}] = v
	}
}

func validateRecord(rec Record) error {
	if rec.Sequence != "" {
		if err := latent.ValidateSequence(rec.Sequence); err != nil {
			return err
		}
	}
	return rec.Point().Validate()
}

func copyValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
