package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/telemetry"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{BaseURL: "http://localhost:8000"}, false},
		{"valid with rate", Config{BaseURL: "http://localhost:8000", Rate: 10, Burst: 5}, false},
		{"empty base URL", Config{}, true},
		{"relative base URL", Config{BaseURL: "/api"}, true},
		{"negative timeout", Config{BaseURL: "http://x", Timeout: -time.Second}, true},
		{"negative rate", Config{BaseURL: "http://x", Rate: -1}, true},
		{"rate without burst", Config{BaseURL: "http://x", Rate: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_Post(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/echo", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.Post(context.Background(), "echo", "/api/echo", map[string]int{"value": 1}, &out))
	assert.Equal(t, 42, out.Value)
}

func TestClient_GetQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.Get(context.Background(), "get", "/x", url.Values{"id": {"abc"}}, nil))
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"session error", http.StatusBadRequest, `{"error":"session error"}`, latent.ErrStaleSession},
		{"input error", http.StatusBadRequest, `{"error":"input error"}`, latent.ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, `{"message":"bad coords"}`, latent.ErrValidation},
		{"plain text session", http.StatusBadRequest, `Session expired`, latent.ErrStaleSession},
		{"not found", http.StatusNotFound, `{"error":"no such model"}`, latent.ErrUnknownKey},
		{"server error", http.StatusInternalServerError, `boom`, latent.ErrService},
		{"unavailable", http.StatusServiceUnavailable, ``, latent.ErrService},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := New(Config{BaseURL: srv.URL})
			require.NoError(t, err)

			err = c.Get(context.Background(), "op", "/", nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_ServiceErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	err = c.Get(context.Background(), "fetch", "/", nil, nil)
	var se *latent.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Equal(t, "fetch", se.Op)
	assert.Equal(t, "overloaded", se.Body)
}

func TestClient_BadJSONIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	var out map[string]any
	err = c.Get(context.Background(), "op", "/", nil, &out)
	assert.ErrorIs(t, err, latent.ErrService)
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Rate: 0.001, Burst: 1})
	require.NoError(t, err)

	// First call consumes the only token.
	require.NoError(t, c.Get(context.Background(), "op", "/", nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Get(ctx, "op", "/", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, latent.ErrService)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Get(context.Background(), "op", "/", nil, nil), latent.ErrService)
}

func TestClient_Methods(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"version": 7}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	var out struct {
		Version int `json:"version"`
	}
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "put", "/items/1", map[string]string{"a": "b"}, &out))
	assert.Equal(t, 7, out.Version)
	require.NoError(t, c.Patch(ctx, "patch", "/items/1", map[string]bool{"staged": true}, nil))
	require.NoError(t, c.Delete(ctx, "delete", "/items/1", nil))

	assert.Equal(t, []string{"PUT /items/1", "PATCH /items/1", "DELETE /items/1"}, seen)
}

func TestClient_Spans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	tt.Install(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, `{"error":"no such model"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Get(ctx, "models.list", "/models", nil, nil))
	tt.AssertSpan(t, "models.list",
		attribute.String("http.method", http.MethodGet),
		attribute.String("http.path", "/models"),
		attribute.Int("http.status_code", http.StatusOK),
	)

	require.Error(t, c.Get(ctx, "models.get", "/missing", nil, nil))
	span := tt.SpanByName("models.get")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Status().Description, "no such model")
}
