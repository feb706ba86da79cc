package registry

import (
	"fmt"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// TrainingSet is the optimiser input: the staged records and their value in
// the target column.
type TrainingSet struct {
	Column  string
	Indices []int
	Points  []latent.Point
	Values  []float64
}

// Len returns the number of observations.
func (ts TrainingSet) Len() int { return len(ts.Indices) }

// TrainingSet collects staged records with their target value. It fails when
// no column is given, nothing is staged, or a staged record has no value.
func (r *Registry) TrainingSet(column string) (TrainingSet, error) {
	if column == "" {
		return TrainingSet{}, fmt.Errorf("%w: no target column selected", latent.ErrValidation)
	}
	if !r.HasColumn(column) {
		return TrainingSet{}, &latent.UnknownColumnError{Name: column}
	}

	ts := TrainingSet{Column: column}
	for _, idx := range r.order {
		rec := r.records[idx]
		if !rec.Staged {
			continue
		}
		v := r.cells[cellKey{idx, column}]
		if v == nil {
			return TrainingSet{}, fmt.Errorf("%w: record %d (%s) has no value for %q", latent.ErrValidation, idx, rec.ID, column)
		}
		ts.Indices = append(ts.Indices, idx)
		ts.Points = append(ts.Points, rec.Point())
		ts.Values = append(ts.Values, *v)
	}
	if ts.Len() == 0 {
		return TrainingSet{}, fmt.Errorf("%w: no staged records", latent.ErrValidation)
	}
	return ts, nil
}
