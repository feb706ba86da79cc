// Package mixture fetches fitted Gaussian mixtures from the GMM job service.
package mixture

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/apiclient"
	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// Mixture is one fitted trial of a GMM job.
type Mixture struct {
	JobID             string
	Name              string
	ModelID           string
	Components        []latent.GaussianComponent
	CurrentComponents int
	OptimalComponents int
}

type jobResponse struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Target string `json:"target"`
	GMM    *struct {
		CurrentNComponents int           `json:"current_n_components"`
		OptimalNComponents int           `json:"optimal_n_components"`
		Weights            []float64     `json:"weights"`
		Means              [][]float64   `json:"means"`
		Covs               [][][]float64 `json:"covs"`
	} `json:"gmm"`
}

// Client reads GMM jobs.
type Client struct {
	api    *apiclient.Client
	logger *zap.Logger
}

// NewClient creates a mixture client on top of a shared transport.
func NewClient(api *apiclient.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, logger: logger}
}

// Fetch returns the mixture of job jobID with nComponents components, or
// the BIC-optimal trial when nComponents is zero.
func (c *Client) Fetch(ctx context.Context, jobID string, nComponents int) (*Mixture, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id required", latent.ErrValidation)
	}
	if nComponents < 0 {
		return nil, fmt.Errorf("%w: negative component count", latent.ErrValidation)
	}

	query := url.Values{}
	if nComponents > 0 {
		query.Set("n_components", strconv.Itoa(nComponents))
	}

	var resp jobResponse
	if err := c.api.Get(ctx, "mixture.fetch", "/gmm/jobs/items/"+url.PathEscape(jobID), query, &resp); err != nil {
		return nil, err
	}
	if resp.GMM == nil {
		return nil, fmt.Errorf("%w: job %s has no fitted mixture (status %q)", latent.ErrUnknownKey, jobID, resp.Status)
	}

	components, err := Components(resp.GMM.Weights, resp.GMM.Means, resp.GMM.Covs)
	if err != nil {
		return nil, latent.NewServiceError("mixture.fetch", 200, err.Error(), nil)
	}

	c.logger.Debug("fetched mixture",
		zap.String("job_id", jobID),
		zap.Int("components", len(components)),
	)

	return &Mixture{
		JobID:             resp.UUID,
		Name:              resp.Name,
		ModelID:           resp.Target,
		Components:        components,
		CurrentComponents: resp.GMM.CurrentNComponents,
		OptimalComponents: resp.GMM.OptimalNComponents,
	}, nil
}

// Components assembles components from the service's parallel arrays.
func Components(weights []float64, means [][]float64, covs [][][]float64) ([]latent.GaussianComponent, error) {
	if len(means) != len(weights) || len(covs) != len(weights) {
		return nil, fmt.Errorf("%w: %d weights, %d means, %d covariances", latent.ErrValidation, len(weights), len(means), len(covs))
	}

	out := make([]latent.GaussianComponent, len(weights))
	for i := range weights {
		if len(means[i]) != 2 {
			return nil, fmt.Errorf("%w: component %d: mean has %d dimensions", latent.ErrValidation, i, len(means[i]))
		}
		if len(covs[i]) != 2 || len(covs[i][0]) != 2 || len(covs[i][1]) != 2 {
			return nil, fmt.Errorf("%w: component %d: covariance is not 2×2", latent.ErrValidation, i)
		}
		out[i] = latent.GaussianComponent{
			Mean:       [2]float64{means[i][0], means[i][1]},
			Covariance: [2][2]float64{{covs[i][0][0], covs[i][0][1]}, {covs[i][1][0], covs[i][1][1]}},
			Weight:     weights[i],
		}
	}
	return out, nil
}

// Means returns the component means as latent points.
func Means(components []latent.GaussianComponent) []latent.Point {
	out := make([]latent.Point, len(components))
	for i, c := range components {
		out[i] = latent.Point{X: c.Mean[0], Y: c.Mean[1]}
	}
	return out
}
