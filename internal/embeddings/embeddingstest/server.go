package embeddingstest

import (
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// NewServer serves f over HTTP using the embedding service's wire format.
// The caller closes the returned server.
func NewServer(f *Fake) *httptest.Server {
	e := echo.New()
	e.HideBanner = true

	e.GET("/session/start", func(c echo.Context) error {
		id, err := f.StartSession(c.Request().Context(), c.QueryParam("vae_uuid"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"uuid": id})
	})

	e.GET("/session/end", func(c echo.Context) error {
		if err := f.EndSession(c.Request().Context(), c.QueryParam("session_uuid")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{})
	})

	e.POST("/session/encode", func(c echo.Context) error {
		var req struct {
			SessionUUID string   `json:"session_uuid"`
			Sequences   []string `json:"sequences"`
		}
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "input error"})
		}
		pts, err := f.Encode(c.Request().Context(), req.SessionUUID, req.Sequences)
		if err != nil {
			return writeError(c, err)
		}
		resp := struct {
			CoordsX []float64 `json:"coords_x"`
			CoordsY []float64 `json:"coords_y"`
		}{make([]float64, len(pts)), make([]float64, len(pts))}
		for i, p := range pts {
			resp.CoordsX[i], resp.CoordsY[i] = p.X, p.Y
		}
		return c.JSON(http.StatusOK, resp)
	})

	e.POST("/session/decode", func(c echo.Context) error {
		var req struct {
			SessionUUID string    `json:"session_uuid"`
			CoordsX     []float64 `json:"coords_x"`
			CoordsY     []float64 `json:"coords_y"`
		}
		if err := c.Bind(&req); err != nil || len(req.CoordsX) != len(req.CoordsY) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "input error"})
		}
		pts := make([]latent.Point, len(req.CoordsX))
		for i := range pts {
			pts[i] = latent.Point{X: req.CoordsX[i], Y: req.CoordsY[i]}
		}
		seqs, err := f.Decode(c.Request().Context(), req.SessionUUID, pts)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, map[string][]string{"sequences": seqs})
	})

	e.GET("/data/VAE-model-names", func(c echo.Context) error {
		type entry struct {
			UUID string `json:"uuid"`
			Name string `json:"name"`
		}
		var entries []entry
		for id, name := range f.Models() {
			entries = append(entries, entry{UUID: id, Name: name})
		}
		return c.JSON(http.StatusOK, map[string]any{"entries": entries})
	})

	return httptest.NewServer(e)
}

func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, latent.ErrStaleSession):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session error"})
	case errors.Is(err, latent.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "input error"})
	case errors.Is(err, latent.ErrUnknownKey):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
