// Package optimizer runs Bayesian optimisation rounds on the optimisation
// service.
package optimizer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/apiclient"
	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/registry"
)

// Methods the service accepts.
const (
	MethodQEI = "qEI"
)

// Bounds is the rectangle of latent space the optimiser searches, and the
// grid spacing of the returned acquisition mesh.
type Bounds struct {
	XMin       float64 `json:"xlim_min" koanf:"xmin"`
	XMax       float64 `json:"xlim_max" koanf:"xmax"`
	YMin       float64 `json:"ylim_min" koanf:"ymin"`
	YMax       float64 `json:"ylim_max" koanf:"ymax"`
	Resolution float64 `json:"resolution" koanf:"resolution"`
}

// Config is the per-experiment optimisation setting.
type Config struct {
	Method       string `json:"method_name" koanf:"method"`
	TargetColumn string `json:"target_column" koanf:"target_column"`
	Budget       int    `json:"query_budget" koanf:"budget"`
	Bounds       Bounds `json:"bounds" koanf:"bounds"`
}

// DefaultConfig returns the settings a new experiment starts with.
func DefaultConfig() Config {
	return Config{
		Method: MethodQEI,
		Budget: 3,
		Bounds: Bounds{XMin: -3.5, XMax: 3.5, YMin: -3.5, YMax: 3.5, Resolution: 0.1},
	}
}

// Validate checks the settings that do not depend on the registry.
func (c Config) Validate() error {
	if c.Method != MethodQEI {
		return fmt.Errorf("%w: unknown optimisation method %q", latent.ErrValidation, c.Method)
	}
	if c.Budget <= 0 {
		return fmt.Errorf("%w: query budget must be positive, got %d", latent.ErrValidation, c.Budget)
	}
	b := c.Bounds
	for _, v := range []float64{b.XMin, b.XMax, b.YMin, b.YMax, b.Resolution} {
		if !latent.IsFinite(v) {
			return fmt.Errorf("%w: non-finite bounds", latent.ErrValidation)
		}
	}
	if b.XMin >= b.XMax || b.YMin >= b.YMax {
		return fmt.Errorf("%w: empty search rectangle", latent.ErrValidation)
	}
	if b.Resolution <= 0 {
		return fmt.Errorf("%w: resolution must be positive", latent.ErrValidation)
	}
	return nil
}

// Acquisition is the acquisition function sampled on a mesh.
type Acquisition struct {
	X      []float64 `json:"coords_x"`
	Y      []float64 `json:"coords_y"`
	Values []float64 `json:"values"`
}

// Len returns the number of mesh points.
func (a Acquisition) Len() int { return len(a.Values) }

// Result is the outcome of one round.
type Result struct {
	// Queries are the proposed points, as returned by the service.
	Queries     []latent.Point
	Acquisition Acquisition
}

type optimizationArgs struct {
	MethodName  string `json:"method_name"`
	QueryBudget int    `json:"query_budget"`
}

type runRequest struct {
	CoordsX          []float64        `json:"coords_x"`
	CoordsY          []float64        `json:"coords_y"`
	Values           [][]float64      `json:"values"`
	OptimizationArgs optimizationArgs `json:"optimization_args"`
	DistributionArgs Bounds           `json:"distribution_args"`
}

type runResponse struct {
	AcquisitionData Acquisition `json:"acquisition_data"`
	QueryData       struct {
		CoordsX []float64 `json:"coords_x"`
		CoordsY []float64 `json:"coords_y"`
	} `json:"query_data"`
}

// Client calls the optimisation service.
type Client struct {
	api    *apiclient.Client
	logger *zap.Logger
}

// NewClient creates an optimiser client on top of a shared transport.
func NewClient(api *apiclient.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, logger: logger}
}

// Run fits a surrogate on ts and proposes cfg.Budget new points.
func (c *Client) Run(ctx context.Context, ts registry.TrainingSet, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ts.Len() == 0 {
		return nil, fmt.Errorf("%w: empty training set", latent.ErrValidation)
	}

	req := runRequest{
		CoordsX:          make([]float64, ts.Len()),
		CoordsY:          make([]float64, ts.Len()),
		Values:           [][]float64{ts.Values},
		OptimizationArgs: optimizationArgs{MethodName: cfg.Method, QueryBudget: cfg.Budget},
		DistributionArgs: cfg.Bounds,
	}
	for i, p := range ts.Points {
		req.CoordsX[i], req.CoordsY[i] = p.X, p.Y
	}

	var resp runResponse
	if err := c.api.Post(ctx, "optimizer.run", "/bayesopt/run", req, &resp); err != nil {
		return nil, err
	}

	q := resp.QueryData
	if len(q.CoordsX) != len(q.CoordsY) {
		return nil, latent.NewServiceError("optimizer.run", 200, "query coordinate lengths differ", nil)
	}
	a := resp.AcquisitionData
	if len(a.X) != len(a.Values) || len(a.Y) != len(a.Values) {
		return nil, latent.NewServiceError("optimizer.run", 200, "acquisition mesh lengths differ", nil)
	}

	res := &Result{Queries: make([]latent.Point, len(q.CoordsX)), Acquisition: a}
	for i := range q.CoordsX {
		res.Queries[i] = latent.Point{X: q.CoordsX[i], Y: q.CoordsY[i]}
		if !res.Queries[i].Finite() {
			return nil, latent.NewServiceError("optimizer.run", 200, fmt.Sprintf("non-finite query point %d", i), nil)
		}
	}

	c.logger.Info("optimisation round finished",
		zap.String("target_column", ts.Column),
		zap.Int("observations", ts.Len()),
		zap.Int("queries", len(res.Queries)),
	)
	return res, nil
}
