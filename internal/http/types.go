package http

import (
	"github.com/fyrsmithlabs/latentd/internal/experiment"
	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/optimizer"
	"github.com/fyrsmithlabs/latentd/internal/registry"
	"github.com/fyrsmithlabs/latentd/internal/workspace"
)

// ExperimentView is the response body for GET /api/v1/experiments/:id.
type ExperimentView struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	ModelID      string                  `json:"model_id"`
	Version      uint64                  `json:"version"`
	Dirty        bool                    `json:"dirty"`
	AllStaged    bool                    `json:"all_staged"`
	Plot         experiment.PlotConfig   `json:"plot"`
	Optimization optimizer.Config        `json:"optimization"`
	Table        registry.Table          `json:"table"`
	Pool         []latent.QueryCandidate `json:"pool"`
	Acquisition  optimizer.Acquisition   `json:"acquisition"`
}

func viewOf(st workspace.State) ExperimentView {
	return ExperimentView{
		ID:           st.ID,
		Name:         st.Name,
		ModelID:      st.ModelID,
		Version:      st.Version,
		Dirty:        st.Dirty,
		AllStaged:    st.AllStaged,
		Plot:         st.Plot,
		Optimization: st.Optimization,
		Table:        st.Registry.ToRectangular(),
		Pool:         st.Pool,
		Acquisition:  st.Acquisition,
	}
}

// CreateExperimentRequest is the request body for POST /api/v1/experiments.
// With SnapshotID set the stored experiment is opened instead.
type CreateExperimentRequest struct {
	Name       string `json:"name" validate:"max=200"`
	ModelID    string `json:"model_id"`
	SnapshotID string `json:"snapshot_id" validate:"omitempty,uuid"`
}

// UpdateExperimentRequest is the request body for PATCH /api/v1/experiments/:id.
type UpdateExperimentRequest struct {
	Name         *string                `json:"name" validate:"omitempty,min=1,max=200"`
	Plot         *experiment.PlotConfig `json:"plot"`
	Optimization *optimizer.Config      `json:"optimization"`
}

// VersionResponse reports the state version after a mutation.
type VersionResponse struct {
	Version uint64 `json:"version"`
}

// ColumnRequest is the request body for POST /api/v1/experiments/:id/columns.
type ColumnRequest struct {
	Name string `json:"name" validate:"required"`
}

// CellRequest is the request body for PUT /api/v1/experiments/:id/cells.
// A null value clears the cell.
type CellRequest struct {
	Index  *int     `json:"sequence_index" validate:"required,gte=0"`
	Column string   `json:"column" validate:"required"`
	Value  *float64 `json:"value"`
}

// RecordUpdateRequest is the request body for PATCH .../records/:index.
type RecordUpdateRequest struct {
	ID     *string `json:"seq_id"`
	Staged *bool   `json:"staged"`
}

// StageRequest sets the staged flag. For queries, Positions selects pool
// entries; when empty every candidate is affected.
type StageRequest struct {
	Staged    *bool `json:"staged" validate:"required"`
	Positions []int `json:"positions" validate:"dive,gte=0"`
}

// CoordinatesRequest is the request body for PUT .../records/:index/coordinates.
type CoordinatesRequest struct {
	X *float64 `json:"coord_x" validate:"required"`
	Y *float64 `json:"coord_y" validate:"required"`
}

// RecordResponse wraps one record.
type RecordResponse struct {
	Record registry.Record `json:"record"`
}

// PromoteRequest is the request body for POST .../promote. Without
// positions or all, staged candidates are promoted.
type PromoteRequest struct {
	Positions []int `json:"positions" validate:"dive,gte=0"`
	All       bool  `json:"all"`
}

// PromoteResponse lists the records created by a promotion.
type PromoteResponse struct {
	Records []registry.Record `json:"records"`
	Version uint64            `json:"version"`
}

// LoadTableResponse lists the indices issued to loaded rows.
type LoadTableResponse struct {
	Indices []int  `json:"indices"`
	Version uint64 `json:"version"`
}

// ModelRequest is the request body for PUT .../model.
type ModelRequest struct {
	ModelID string `json:"model_id" validate:"required"`
}

// ModelResponse reports the outcome of a model switch. Committed is false
// when a newer switch overtook this one.
type ModelResponse struct {
	Committed bool   `json:"committed"`
	ModelID   string `json:"model_id"`
	Version   uint64 `json:"version"`
}

// QueriesResponse lists the query pool.
type QueriesResponse struct {
	Queries []latent.QueryCandidate `json:"queries"`
	Version uint64                  `json:"version"`
}

// SeedRequest is the request body for POST .../seed.
type SeedRequest struct {
	JobID       string `json:"job_id" validate:"required"`
	NComponents int    `json:"n_components" validate:"gte=0"`
}

// SeedResponse describes the mixture a registry was seeded from.
type SeedResponse struct {
	JobID      string `json:"job_id"`
	ModelID    string `json:"model_id"`
	Components int    `json:"components"`
	Version    uint64 `json:"version"`
}

// EllipseRequest is the request body for POST /api/v1/ellipse.
type EllipseRequest struct {
	Mean       [2]float64    `json:"mean"`
	Covariance [2][2]float64 `json:"covariance"`
	Step       float64       `json:"step" validate:"gte=0"`
	Closed     *bool         `json:"closed"`
	// Scale multiplies the covariance before the contour is drawn.
	Scale float64 `json:"scale" validate:"gte=0"`
}

// ContourView is one sampled ellipse.
type ContourView struct {
	Weight float64   `json:"weight,omitempty"`
	Width  float64   `json:"width"`
	Height float64   `json:"height"`
	Theta  float64   `json:"theta"`
	X      []float64 `json:"x"`
	Y      []float64 `json:"y"`
}

// ContoursResponse is the response body for the mixture contour endpoint.
type ContoursResponse struct {
	JobID    string        `json:"job_id"`
	ModelID  string        `json:"model_id"`
	Contours []ContourView `json:"contours"`
}
