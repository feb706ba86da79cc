package monitor

import (
	"context"
	"net/url"
	"slices"

	"github.com/fyrsmithlabs/latentd/internal/apiclient"
	latenthttp "github.com/fyrsmithlabs/latentd/internal/http"
)

// Snapshot is the dashboard's summary of one experiment.
type Snapshot struct {
	Name       string
	ModelID    string
	Version    uint64
	Dirty      bool
	Records    int
	Staged     int
	Columns    int
	Pool       int
	PoolStaged int
	Method     string
	Target     string
	Budget     int

	// Best is the largest target value over all records, nil when no record
	// has one.
	Best *float64
}

// Summarize reduces an experiment view to a Snapshot.
func Summarize(v latenthttp.ExperimentView) Snapshot {
	s := Snapshot{
		Name:    v.Name,
		ModelID: v.ModelID,
		Version: v.Version,
		Dirty:   v.Dirty,
		Records: len(v.Table.Rows),
		Columns: len(v.Table.Columns),
		Pool:    len(v.Pool),
		Method:  v.Optimization.Method,
		Target:  v.Optimization.TargetColumn,
		Budget:  v.Optimization.Budget,
	}

	for _, row := range v.Table.Rows {
		if row.Staged {
			s.Staged++
		}
	}
	for _, q := range v.Pool {
		if q.Staged {
			s.PoolStaged++
		}
	}

	col := slices.Index(v.Table.Columns, s.Target)
	if col < 0 {
		return s
	}
	for _, row := range v.Table.Rows {
		if val := row.Values[col]; val != nil && (s.Best == nil || *val > *s.Best) {
			best := *val
			s.Best = &best
		}
	}
	return s
}

// Source fetches the current state of the watched experiment.
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
	Describe() string
}

// APISource reads an experiment from a latentd server.
type APISource struct {
	client       *apiclient.Client
	experimentID string
}

// NewAPISource watches experimentID through client.
func NewAPISource(client *apiclient.Client, experimentID string) *APISource {
	return &APISource{client: client, experimentID: experimentID}
}

// Fetch implements Source.
func (s *APISource) Fetch(ctx context.Context) (Snapshot, error) {
	var view latenthttp.ExperimentView
	path := "/api/v1/experiments/" + url.PathEscape(s.experimentID)
	if err := s.client.Get(ctx, "monitor.fetch", path, nil, &view); err != nil {
		return Snapshot{}, err
	}
	return Summarize(view), nil
}

// Describe implements Source.
func (s *APISource) Describe() string {
	return s.client.BaseURL() + "/api/v1/experiments/" + s.experimentID
}
