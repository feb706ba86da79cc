package registry

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

func ptr(v float64) *float64 { return &v }

// assertCompleteGrid checks that exactly one cell exists per (record, column).
func assertCompleteGrid(t *testing.T, r *Registry) {
	t.Helper()
	assert.Len(t, r.cells, len(r.order)*len(r.columns))
	for _, idx := range r.order {
		for _, col := range r.columns {
			_, ok := r.cells[cellKey{idx, col}]
			assert.True(t, ok, "missing cell (%d, %s)", idx, col)
		}
	}
}

func sample(t *testing.T) *Registry {
	t.Helper()
	r, err := FromTable(Table{
		Columns: []string{"affinity", "yield"},
		Rows: []Row{
			{Index: 0, ID: "a", Sequence: "AUGC", X: 0.1, Y: 0.2, Staged: true, Values: []*float64{ptr(1.5), nil}},
			{Index: 1, ID: "b", Sequence: "GGCU", X: -1, Y: 3, Values: []*float64{nil, ptr(7)}},
			{Index: 4, ID: "c", Sequence: "UUAA", X: 2, Y: 2, Staged: true, Values: []*float64{ptr(-2), ptr(0)}},
		},
	})
	require.NoError(t, err)
	return r
}

func TestScenario_SetCellAfterBulkLoad(t *testing.T) {
	r, err := New().AddColumn("affinity")
	require.NoError(t, err)

	r, err = r.FromRectangular(Table{
		Columns: []string{"affinity"},
		Rows:    []Row{{Index: 0, X: 0.1, Y: -0.2, Values: []*float64{nil}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	r, err = r.SetCell(0, "affinity", ptr(3.5))
	require.NoError(t, err)

	want := Table{
		Columns:   []string{"affinity"},
		NextIndex: 1,
		Rows:      []Row{{Index: 0, X: 0.1, Y: -0.2, Values: []*float64{ptr(3.5)}}},
	}
	if diff := cmp.Diff(want, r.ToRectangular()); diff != "" {
		t.Errorf("ToRectangular() mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T) *Registry
	}{
		{"empty", func(t *testing.T) *Registry { return New() }},
		{"columns only", func(t *testing.T) *Registry {
			r, err := New().AddColumn("x1")
			require.NoError(t, err)
			return r
		}},
		{"sample", sample},
		{"after removal", func(t *testing.T) *Registry {
			r, err := sample(t).RemoveRecord(4)
			require.NoError(t, err)
			return r
		}},
		{"after column edits", func(t *testing.T) *Registry {
			r, err := sample(t).AddColumn("score")
			require.NoError(t, err)
			r, err = r.RemoveColumn("affinity")
			require.NoError(t, err)
			r, err = r.SetCell(1, "score", ptr(0.25))
			require.NoError(t, err)
			return r
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.build(t)
			back, err := FromTable(r.ToRectangular())
			require.NoError(t, err)
			assert.True(t, r.Equal(back))
			assertCompleteGrid(t, back)
		})
	}
}

func TestAddColumn_NullForExistingRecords(t *testing.T) {
	r := sample(t)
	r2, err := r.AddColumn("kd")
	require.NoError(t, err)
	assertCompleteGrid(t, r2)

	table := r2.ToRectangular()
	require.Equal(t, []string{"affinity", "yield", "kd"}, table.Columns)
	for _, row := range table.Rows {
		assert.Nil(t, row.Values[2], "record %d", row.Index)
	}

	// Receiver is untouched.
	assert.Equal(t, []string{"affinity", "yield"}, r.Columns())
}

func TestAddColumn_Errors(t *testing.T) {
	r := sample(t)

	_, err := r.AddColumn("affinity")
	var dup *latent.DuplicateColumnError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "affinity", dup.Name)

	for _, name := range []string{"", ColumnID, ColumnSequence, ColumnX, ColumnY, ColumnSequenceIndex} {
		_, err := r.AddColumn(name)
		assert.ErrorIs(t, err, latent.ErrValidation, "name %q", name)
	}
}

func TestRemoveColumn(t *testing.T) {
	r := sample(t)

	r2, err := r.RemoveColumn("affinity")
	require.NoError(t, err)
	assert.Equal(t, []string{"yield"}, r2.Columns())
	assertCompleteGrid(t, r2)

	_, err = r2.Cell(0, "affinity")
	var unknown *latent.UnknownColumnError
	assert.ErrorAs(t, err, &unknown)

	_, err = r.RemoveColumn("nope")
	assert.ErrorIs(t, err, latent.ErrUnknownKey)
}

func TestSetCell(t *testing.T) {
	r := sample(t)

	tests := []struct {
		name    string
		index   int
		column  string
		value   *float64
		wantErr error
	}{
		{"write", 1, "affinity", ptr(9), nil},
		{"clear", 0, "affinity", nil, nil},
		{"unknown record", 99, "affinity", ptr(1), latent.ErrUnknownKey},
		{"unknown column", 0, "nope", ptr(1), latent.ErrUnknownKey},
		{"nan", 0, "affinity", ptr(math.NaN()), latent.ErrValidation},
		{"inf", 0, "affinity", ptr(math.Inf(-1)), latent.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := r.SetCell(tt.index, tt.column, tt.value)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, next)
				return
			}
			require.NoError(t, err)
			got, err := next.Cell(tt.index, tt.column)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}

	// The original is never mutated.
	v, err := r.Cell(0, "affinity")
	require.NoError(t, err)
	assert.Equal(t, ptr(1.5), v)
}

func TestSetCell_ValueIsCopied(t *testing.T) {
	v := 1.0
	r, err := sample(t).SetCell(1, "affinity", &v)
	require.NoError(t, err)
	v = 2

	got, err := r.Cell(1, "affinity")
	require.NoError(t, err)
	assert.Equal(t, 1.0, *got)

	*got = 5
	again, err := r.Cell(1, "affinity")
	require.NoError(t, err)
	assert.Equal(t, 1.0, *again)
}

func TestRemoveRecord_IndicesNotReused(t *testing.T) {
	r := sample(t)
	assert.Equal(t, 5, r.NextIndex())

	r, err := r.RemoveRecord(4)
	require.NoError(t, err)
	assertCompleteGrid(t, r)
	assert.Equal(t, 5, r.NextIndex())

	r, added, err := r.Append(Record{Sequence: "AAAA"})
	require.NoError(t, err)
	assert.Equal(t, 5, added.Index)
	assertCompleteGrid(t, r)

	_, err = r.RemoveRecord(4)
	var unknown *latent.UnknownRecordError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, 4, unknown.Index)
}

func TestRecordMutations(t *testing.T) {
	r := sample(t)

	r2, err := r.SetID(1, "renamed")
	require.NoError(t, err)
	rec, err := r2.Record(1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", rec.ID)

	r2, err = r2.SetStaged(1, true)
	require.NoError(t, err)
	rec, _ = r2.Record(1)
	assert.True(t, rec.Staged)

	r3 := r2.SetAllStaged(false)
	for _, rec := range r3.Records() {
		assert.False(t, rec.Staged)
	}

	r4, err := r3.WithCoordinates(0, 5, 6)
	require.NoError(t, err)
	rec, _ = r4.Record(0)
	assert.Equal(t, "AUGC", rec.Sequence)
	assert.Equal(t, latent.Point{X: 5, Y: 6}, rec.Point())

	_, err = r4.WithCoordinates(0, math.NaN(), 0)
	assert.ErrorIs(t, err, latent.ErrValidation)

	r5, err := r4.WithSequence(0, "CCCC", 1, 1)
	require.NoError(t, err)
	rec, _ = r5.Record(0)
	assert.Equal(t, "CCCC", rec.Sequence)

	_, err = r5.WithSequence(0, "XYZ", 1, 1)
	assert.ErrorIs(t, err, latent.ErrValidation)

	_, err = r5.SetID(42, "x")
	assert.ErrorIs(t, err, latent.ErrUnknownKey)

	// Earlier versions keep their state.
	rec, _ = r.Record(0)
	assert.Equal(t, "AUGC", rec.Sequence)
	assert.Equal(t, 0.1, rec.X)
}

func TestRelocate_AllOrNothing(t *testing.T) {
	r := sample(t)

	moved, err := r.Relocate(map[int]latent.Point{0: {X: 9, Y: 9}, 4: {X: -9, Y: -9}})
	require.NoError(t, err)
	rec, _ := moved.Record(4)
	assert.Equal(t, latent.Point{X: -9, Y: -9}, rec.Point())

	_, err = r.Relocate(map[int]latent.Point{0: {X: 1, Y: 1}, 99: {X: 1, Y: 1}})
	assert.ErrorIs(t, err, latent.ErrUnknownKey)

	_, err = r.Relocate(map[int]latent.Point{0: {X: math.Inf(1), Y: 1}})
	assert.ErrorIs(t, err, latent.ErrValidation)
}

func TestAppendAll(t *testing.T) {
	r := sample(t)

	next, added, err := r.AppendAll([]Record{{Sequence: "AUAU"}, {Sequence: "CGCG", Index: 1}})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, 5, added[0].Index)
	assert.Equal(t, 6, added[1].Index)
	assert.Equal(t, 7, next.NextIndex())
	assertCompleteGrid(t, next)

	values, err := next.Values(6)
	require.NoError(t, err)
	assert.Equal(t, []*float64{nil, nil}, values)

	_, _, err = r.AppendAll([]Record{{Sequence: "AUAU"}, {Sequence: "bad!"}})
	assert.ErrorIs(t, err, latent.ErrValidation)
	assert.Equal(t, 5, r.NextIndex())
}

func TestFromRectangular_Rejects(t *testing.T) {
	r := sample(t)

	tests := []struct {
		name  string
		table Table
	}{
		{"issued index", Table{Columns: []string{"affinity"}, Rows: []Row{{Index: 2, Values: []*float64{nil}}}}},
		{"negative index", Table{Columns: []string{"affinity"}, Rows: []Row{{Index: -1, Values: []*float64{nil}}}}},
		{"duplicate index", Table{Columns: []string{"affinity"}, Rows: []Row{
			{Index: 7, Values: []*float64{nil}},
			{Index: 7, Values: []*float64{nil}},
		}}},
		{"ragged row", Table{Columns: []string{"affinity"}, Rows: []Row{{Index: 8, Values: nil}}}},
		{"bad alphabet", Table{Columns: []string{"affinity"}, Rows: []Row{{Index: 8, Sequence: "AUQ", Values: []*float64{nil}}}}},
		{"non-finite coordinate", Table{Columns: []string{"affinity"}, Rows: []Row{{Index: 8, X: math.NaN(), Values: []*float64{nil}}}}},
		{"non-finite value", Table{Columns: []string{"affinity"}, Rows: []Row{{Index: 8, Values: []*float64{ptr(math.Inf(1))}}}}},
		{"reserved column", Table{Columns: []string{ColumnX}, Rows: nil}},
		{"duplicate column", Table{Columns: []string{"a", "a"}, Rows: nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := r.FromRectangular(tt.table)
			require.Error(t, err)
			assert.ErrorIs(t, err, latent.ErrValidation)
			assert.Nil(t, next)
		})
	}
}

func TestFromRectangular_MergesColumns(t *testing.T) {
	r := sample(t)

	next, err := r.FromRectangular(Table{
		Columns: []string{"kd", "affinity"},
		Rows:    []Row{{Index: 10, Sequence: "GGGG", Values: []*float64{ptr(0.5), ptr(2)}}},
	})
	require.NoError(t, err)
	assertCompleteGrid(t, next)
	assert.Equal(t, []string{"affinity", "yield", "kd"}, next.Columns())
	assert.Equal(t, 11, next.NextIndex())

	values, err := next.Values(10)
	require.NoError(t, err)
	assert.Equal(t, []*float64{ptr(2), nil, ptr(0.5)}, values)

	old, err := next.Cell(0, "kd")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestTableReindexed(t *testing.T) {
	table := sample(t).ToRectangular().Reindexed(20)
	assert.Equal(t, []int{20, 21, 22}, []int{table.Rows[0].Index, table.Rows[1].Index, table.Rows[2].Index})
	assert.Equal(t, 23, table.NextIndex)

	v, ok := table.Value(2, "affinity")
	require.True(t, ok)
	assert.Equal(t, -2.0, *v)

	_, ok = table.Value(0, "nope")
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	a := sample(t)
	b := sample(t)
	assert.True(t, a.Equal(b))

	c, err := b.SetCell(1, "affinity", ptr(1))
	require.NoError(t, err)
	assert.False(t, a.Equal(c))

	assert.False(t, a.Equal(nil))
	assert.True(t, (*Registry)(nil).Equal(nil))
}

func TestErrorClasses(t *testing.T) {
	_, err := New().Record(3)
	assert.True(t, errors.Is(err, latent.ErrUnknownKey))
	assert.False(t, errors.Is(err, latent.ErrValidation))
}
