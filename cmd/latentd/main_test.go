package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/latentd/internal/config"
	"github.com/fyrsmithlabs/latentd/internal/embeddings/embeddingstest"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// setupEnv points latentd at a fake model service and a temporary data dir.
func setupEnv(t *testing.T) string {
	t.Helper()
	backend := embeddingstest.NewServer(embeddingstest.NewFake("vae-a", "vae-b"))
	t.Cleanup(backend.Close)

	port := freePort(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LATENTD_SERVER_HTTP_HOST", "127.0.0.1")
	t.Setenv("LATENTD_SERVER_HTTP_PORT", strconv.Itoa(port))
	t.Setenv("LATENTD_BACKEND_BASE_URL", backend.URL)
	t.Setenv("LATENTD_STORAGE_PATH", t.TempDir())
	t.Setenv("LATENTD_OBSERVABILITY_LOG_LEVEL", "error")
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func startRun(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, "")
	}()
	return cancel, errCh
}

func waitStopped(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	base := setupEnv(t)
	cancel, errCh := startRun(t)
	defer cancel()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	t.Run("models", func(t *testing.T) {
		resp, err := http.Get(base + "/api/v1/models")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("create experiment", func(t *testing.T) {
		resp, err := http.Post(base+"/api/v1/experiments", "application/json",
			strings.NewReader(`{"name":"gfp","model_id":"vae-a"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var view struct {
			ID      string `json:"id"`
			ModelID string `json:"model_id"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
		assert.NotEmpty(t, view.ID)
		assert.Equal(t, "vae-a", view.ModelID)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "latentd_open_experiments 1")
	})

	cancel()
	waitStopped(t, errCh)
}

func TestRun_InvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("LATENTD_STORAGE_DRIVER", "postgres")

	err := run(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
}

func TestRun_ConfigOutsideAllowedDir(t *testing.T) {
	setupEnv(t)

	err := run(context.Background(), "/tmp/latentd.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestOptimizationDefaults(t *testing.T) {
	got := optimizationDefaults(config.OptimizationConfig{
		Method: "qEI",
		Budget: 4,
		Bound:  2,
		Step:   0.25,
	})

	assert.Equal(t, "qEI", got.Method)
	assert.Equal(t, 4, got.Budget)
	assert.Equal(t, -2.0, got.Bounds.XMin)
	assert.Equal(t, 2.0, got.Bounds.XMax)
	assert.Equal(t, -2.0, got.Bounds.YMin)
	assert.Equal(t, 2.0, got.Bounds.YMax)
	assert.Equal(t, 0.25, got.Bounds.Resolution)
}
