package optimizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/latentd/internal/apiclient"
	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/registry"
)

func trainingSet() registry.TrainingSet {
	return registry.TrainingSet{
		Column:  "affinity",
		Indices: []int{0, 1},
		Points:  []latent.Point{{X: 0.5, Y: -0.5}, {X: 1, Y: 1}},
		Values:  []float64{2, 3},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"unknown method", func(c *Config) { c.Method = "UCB" }, true},
		{"zero budget", func(c *Config) { c.Budget = 0 }, true},
		{"inverted x", func(c *Config) { c.Bounds.XMin, c.Bounds.XMax = 1, -1 }, true},
		{"zero resolution", func(c *Config) { c.Bounds.Resolution = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, latent.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bayesopt/run", r.URL.Path)

		var req runRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []float64{0.5, 1}, req.CoordsX)
		assert.Equal(t, []float64{-0.5, 1}, req.CoordsY)
		assert.Equal(t, [][]float64{{2, 3}}, req.Values)
		assert.Equal(t, "qEI", req.OptimizationArgs.MethodName)
		assert.Equal(t, 3, req.OptimizationArgs.QueryBudget)
		assert.Equal(t, -3.5, req.DistributionArgs.XMin)

		_, _ = w.Write([]byte(`{
			"acquisition_data": {"coords_x": [0, 1], "coords_y": [0, 0], "values": [0.1, 0.2]},
			"query_data": {"coords_x": [0.25, -1], "coords_y": [0.75, 2]}
		}`))
	}))
	defer srv.Close()

	api, err := apiclient.New(apiclient.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := NewClient(api, nil).Run(context.Background(), trainingSet(), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, []latent.Point{{X: 0.25, Y: 0.75}, {X: -1, Y: 2}}, res.Queries)
	assert.Equal(t, 2, res.Acquisition.Len())
}

func TestRun_Errors(t *testing.T) {
	t.Run("service rejects", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		api, err := apiclient.New(apiclient.Config{BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = NewClient(api, nil).Run(context.Background(), trainingSet(), DefaultConfig())
		assert.ErrorIs(t, err, latent.ErrService)
	})

	t.Run("ragged mesh", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"acquisition_data":{"coords_x":[0],"coords_y":[],"values":[1]},"query_data":{"coords_x":[],"coords_y":[]}}`))
		}))
		defer srv.Close()
		api, err := apiclient.New(apiclient.Config{BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = NewClient(api, nil).Run(context.Background(), trainingSet(), DefaultConfig())
		assert.ErrorIs(t, err, latent.ErrService)
	})

	t.Run("local validation", func(t *testing.T) {
		api, err := apiclient.New(apiclient.Config{BaseURL: "http://127.0.0.1:1"})
		require.NoError(t, err)
		c := NewClient(api, nil)

		_, err = c.Run(context.Background(), registry.TrainingSet{}, DefaultConfig())
		assert.ErrorIs(t, err, latent.ErrValidation)

		cfg := DefaultConfig()
		cfg.Budget = -1
		_, err = c.Run(context.Background(), trainingSet(), cfg)
		assert.ErrorIs(t, err, latent.ErrValidation)
	})
}
