package embeddings

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/apiclient"
	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// Backend paths.
const (
	pathSessionStart = "/session/start"
	pathSessionEnd   = "/session/end"
	pathEncode       = "/session/encode"
	pathDecode       = "/session/decode"
	pathModels       = "/data/VAE-model-names"
)

// Model is a trained embedding model the service can load.
type Model struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Client talks to the embedding service.
type Client struct {
	api     *apiclient.Client
	logger  *zap.Logger
	metrics *callMetrics
}

// NewClient creates an embedding client on top of a shared transport.
func NewClient(api *apiclient.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:     api,
		logger:  logger,
		metrics: defaultCallMetrics(logger),
	}
}

type sessionResponse struct {
	UUID string `json:"uuid"`
}

// StartSession loads modelID and returns the new session id.
func (c *Client) StartSession(ctx context.Context, modelID string) (id string, err error) {
	done := c.metrics.track(ctx, opSessionStart, 0)
	defer func() { done(err) }()

	if modelID == "" {
		return "", fmt.Errorf("%w: model id required", latent.ErrValidation)
	}

	var resp sessionResponse
	if err := c.api.Get(ctx, "embeddings.session_start", pathSessionStart, url.Values{"vae_uuid": {modelID}}, &resp); err != nil {
		return "", err
	}
	if resp.UUID == "" {
		return "", latent.NewServiceError("embeddings.session_start", 200, "empty session id", nil)
	}

	c.logger.Debug("embedding session started", zap.String("model_id", modelID), zap.String("session_id", resp.UUID))
	return resp.UUID, nil
}

// EndSession releases the model held by sessionID.
func (c *Client) EndSession(ctx context.Context, sessionID string) (err error) {
	done := c.metrics.track(ctx, opSessionEnd, 0)
	defer func() { done(err) }()

	if sessionID == "" {
		return fmt.Errorf("%w: no session", latent.ErrStaleSession)
	}
	return c.api.Get(ctx, "embeddings.session_end", pathSessionEnd, url.Values{"session_uuid": {sessionID}}, nil)
}

type encodeRequest struct {
	SessionUUID string   `json:"session_uuid"`
	Sequences   []string `json:"sequences"`
}

type coordsResponse struct {
	CoordsX []float64 `json:"coords_x"`
	CoordsY []float64 `json:"coords_y"`
}

// Encode maps sequences to latent points, one per input in order.
func (c *Client) Encode(ctx context.Context, sessionID string, seqs []string) (pts []latent.Point, err error) {
	done := c.metrics.track(ctx, opEncode, len(seqs))
	defer func() { done(err) }()

	if sessionID == "" {
		return nil, fmt.Errorf("%w: no session", latent.ErrStaleSession)
	}
	if err := latent.ValidateSequences(seqs); err != nil {
		return nil, err
	}

	var resp coordsResponse
	if err := c.api.Post(ctx, "embeddings.encode", pathEncode, encodeRequest{SessionUUID: sessionID, Sequences: seqs}, &resp); err != nil {
		return nil, err
	}
	if len(resp.CoordsX) != len(seqs) || len(resp.CoordsY) != len(seqs) {
		return nil, latent.NewServiceError("embeddings.encode", 200,
			fmt.Sprintf("got %d/%d coordinates for %d sequences", len(resp.CoordsX), len(resp.CoordsY), len(seqs)), nil)
	}

	pts = make([]latent.Point, len(seqs))
	for i := range pts {
		pts[i] = latent.Point{X: resp.CoordsX[i], Y: resp.CoordsY[i]}
		if !pts[i].Finite() {
			return nil, latent.NewServiceError("embeddings.encode", 200, fmt.Sprintf("non-finite coordinate for sequence %d", i), nil)
		}
	}
	return pts, nil
}

type decodeRequest struct {
	SessionUUID string    `json:"session_uuid"`
	CoordsX     []float64 `json:"coords_x"`
	CoordsY     []float64 `json:"coords_y"`
}

type decodeResponse struct {
	Sequences []string `json:"sequences"`
}

// Decode maps latent points to sequences, one per input in order. The
// returned sequences are raw decoder output; see latent.CleanDecoded.
func (c *Client) Decode(ctx context.Context, sessionID string, pts []latent.Point) (seqs []string, err error) {
	done := c.metrics.track(ctx, opDecode, len(pts))
	defer func() { done(err) }()

	if sessionID == "" {
		return nil, fmt.Errorf("%w: no session", latent.ErrStaleSession)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: empty coordinate list", latent.ErrValidation)
	}

	req := decodeRequest{
		SessionUUID: sessionID,
		CoordsX:     make([]float64, len(pts)),
		CoordsY:     make([]float64, len(pts)),
	}
	for i, p := range pts {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		req.CoordsX[i], req.CoordsY[i] = p.X, p.Y
	}

	var resp decodeResponse
	if err := c.api.Post(ctx, "embeddings.decode", pathDecode, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Sequences) != len(pts) {
		return nil, latent.NewServiceError("embeddings.decode", 200,
			fmt.Sprintf("got %d sequences for %d points", len(resp.Sequences), len(pts)), nil)
	}
	return resp.Sequences, nil
}

type modelsResponse struct {
	Entries []Model `json:"entries"`
}

// ListModels returns the models available for StartSession.
func (c *Client) ListModels(ctx context.Context) (models []Model, err error) {
	done := c.metrics.track(ctx, opListModels, 0)
	defer func() { done(err) }()

	var resp modelsResponse
	if err := c.api.Get(ctx, "embeddings.list_models", pathModels, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
