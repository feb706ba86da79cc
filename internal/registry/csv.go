package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// ParseCSV reads an uploaded dataset.
//
// The header must contain seq_id and random_region and at least one metric
// column. coord_x and coord_y (any case) are dropped since coordinates are
// always derived from the active model. Empty cells are null. Rows are
// numbered from 0 in file order.
func ParseCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, fmt.Errorf("%w: empty file", latent.ErrValidation)
	}
	if err != nil {
		return Table{}, fmt.Errorf("%w: reading header: %v", latent.ErrValidation, err)
	}

	idCol, seqCol := -1, -1
	var metrics []int
	var columns []string
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch {
		case name == ColumnID:
			idCol = i
		case name == ColumnSequence:
			seqCol = i
		case strings.EqualFold(name, ColumnX), strings.EqualFold(name, ColumnY), name == ColumnSequenceIndex:
		default:
			if err := ValidateColumnName(name); err != nil {
				return Table{}, fmt.Errorf("header column %d: %w", i, err)
			}
			metrics = append(metrics, i)
			columns = append(columns, name)
		}
	}
	if idCol < 0 || seqCol < 0 {
		return Table{}, fmt.Errorf("%w: header must contain %q and %q", latent.ErrValidation, ColumnID, ColumnSequence)
	}
	if len(metrics) == 0 {
		return Table{}, fmt.Errorf("%w: no metric columns", latent.ErrValidation)
	}

	t := Table{Columns: columns}
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("%w: line %d: %v", latent.ErrValidation, line, err)
		}

		row := Row{
			Index:    len(t.Rows),
			ID:       strings.TrimSpace(fields[idCol]),
			Sequence: strings.TrimSpace(fields[seqCol]),
			Values:   make([]*float64, len(metrics)),
		}
		for j, col := range metrics {
			raw := strings.TrimSpace(fields[col])
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || !latent.IsFinite(v) {
				return Table{}, fmt.Errorf("%w: line %d: column %q: %q is not a number", latent.ErrValidation, line, columns[j], raw)
			}
			row.Values[j] = &v
		}
		t.Rows = append(t.Rows, row)
	}
	t.NextIndex = len(t.Rows)

	return t, nil
}
