package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/latentd/internal/ellipse"
	"github.com/fyrsmithlabs/latentd/internal/registry"
	"github.com/fyrsmithlabs/latentd/internal/staging"
	"github.com/fyrsmithlabs/latentd/internal/workspace"
)

// maxUploadBytes bounds CSV and table uploads.
const maxUploadBytes = 16 << 20

func (s *Server) workspace(c echo.Context) (*workspace.Workspace, error) {
	return s.manager.Get(c.Request().Context(), c.Param("id"))
}

func indexParam(c echo.Context) (int, error) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid sequence index")
	}
	return idx, nil
}

// respondVersion writes the workspace version after a successful mutation.
func respondVersion(c echo.Context, w *workspace.Workspace, err error) error {
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, VersionResponse{Version: w.State().Version})
}

func (s *Server) handleListModels(c echo.Context) error {
	if s.models == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "embedding service not configured")
	}
	models, err := s.models.ListModels(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models)
}

func (s *Server) handleListExperiments(c echo.Context) error {
	list, err := s.manager.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateExperiment(c echo.Context) error {
	var req CreateExperimentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if req.SnapshotID != "" {
		w, err := s.manager.Get(ctx, req.SnapshotID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, viewOf(w.State()))
	}
	w, err := s.manager.Create(ctx, req.Name, req.ModelID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewOf(w.State()))
}

func (s *Server) handleGetExperiment(c echo.Context) error {
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewOf(w.State()))
}

func (s *Server) handleUpdateExperiment(c echo.Context) error {
	var req UpdateExperimentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if req.Name != nil {
		if err := w.Rename(ctx, *req.Name); err != nil {
			return err
		}
	}
	if req.Plot != nil {
		if err := w.SetPlot(ctx, *req.Plot); err != nil {
			return err
		}
	}
	if req.Optimization != nil {
		if err := w.SetOptimization(ctx, *req.Optimization); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusOK, viewOf(w.State()))
}

func (s *Server) handleDeleteExperiment(c echo.Context) error {
	if err := s.manager.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSaveExperiment(c echo.Context) error {
	saved, err := s.manager.Save(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved.Summary())
}

func (s *Server) handleCloseExperiment(c echo.Context) error {
	if err := s.manager.Close(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetTable(c echo.Context) error {
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w.State().Registry.ToRectangular())
}

// handleLoadTable accepts either a JSON table or a CSV upload (text/csv).
func (s *Server) handleLoadTable(c echo.Context) error {
	w, err := s.workspace(c)
	if err != nil {
		return err
	}

	var t registry.Table
	req := c.Request()
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), "text/csv") {
		t, err = registry.ParseCSV(http.MaxBytesReader(c.Response(), req.Body, maxUploadBytes))
		if err != nil {
			return err
		}
	} else if err := bind(c, &t); err != nil {
		return err
	}

	indices, err := w.LoadTable(req.Context(), t)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, LoadTableResponse{Indices: indices, Version: w.State().Version})
}

func (s *Server) handleAddColumn(c echo.Context) error {
	var req ColumnRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	return respondVersion(c, w, w.AddColumn(c.Request().Context(), req.Name))
}

func (s *Server) handleRemoveColumn(c echo.Context) error {
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	return respondVersion(c, w, w.RemoveColumn(c.Request().Context(), c.Param("name")))
}

func (s *Server) handleSetCell(c echo.Context) error {
	var req CellRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	return respondVersion(c, w, w.SetCell(c.Request().Context(), *req.Index, req.Column, req.Value))
}

func (s *Server) handleStageAllRecords(c echo.Context) error {
	var req StageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	return respondVersion(c, w, w.SetAllStaged(c.Request().Context(), *req.Staged))
}

func (s *Server) handleUpdateRecord(c echo.Context) error {
	idx, err := indexParam(c)
	if err != nil {
		return err
	}
	var req RecordUpdateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if req.ID != nil {
		if err := w.SetID(ctx, idx, *req.ID); err != nil {
			return err
		}
	}
	if req.Staged != nil {
		if err := w.SetStaged(ctx, idx, *req.Staged); err != nil {
			return err
		}
	}
	rec, err := w.State().Registry.Record(idx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RecordResponse{Record: rec})
}

func (s *Server) handleRemoveRecord(c echo.Context) error {
	idx, err := indexParam(c)
	if err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	return respondVersion(c, w, w.RemoveRecord(c.Request().Context(), idx))
}

func (s *Server) handleEditCoordinates(c echo.Context) error {
	idx, err := indexParam(c)
	if err != nil {
		return err
	}
	var req CoordinatesRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	rec, err := w.EditCoordinates(c.Request().Context(), idx, *req.X, *req.Y)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RecordResponse{Record: rec})
}

func (s *Server) handleListQueries(c echo.Context) error {
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	st := w.State()
	return c.JSON(http.StatusOK, QueriesResponse{Queries: st.Pool, Version: st.Version})
}

func selector(positions []int, all bool) staging.Selector {
	switch {
	case len(positions) > 0:
		return staging.Indices(positions...)
	case all:
		return staging.All()
	default:
		return staging.Staged()
	}
}

func (s *Server) handleStageQueries(c echo.Context) error {
	var req StageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	return respondVersion(c, w, w.StageQueries(c.Request().Context(), selector(req.Positions, true), *req.Staged))
}

func (s *Server) handlePromote(c echo.Context) error {
	var req PromoteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	delta, err := w.Promote(c.Request().Context(), selector(req.Positions, req.All))
	if err != nil {
		return err
	}
	if delta == nil {
		delta = []registry.Record{}
	}
	return c.JSON(http.StatusOK, PromoteResponse{Records: delta, Version: w.State().Version})
}

func (s *Server) handleSwitchModel(c echo.Context) error {
	var req ModelRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	committed, err := w.SwitchModel(c.Request().Context(), req.ModelID)
	if err != nil {
		return err
	}
	st := w.State()
	status := http.StatusOK
	if !committed {
		status = http.StatusAccepted
	}
	return c.JSON(status, ModelResponse{Committed: committed, ModelID: st.ModelID, Version: st.Version})
}

func (s *Server) handleOptimize(c echo.Context) error {
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	pool, err := w.RunOptimization(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, QueriesResponse{Queries: pool, Version: w.State().Version})
}

func (s *Server) handleSeed(c echo.Context) error {
	var req SeedRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w, err := s.workspace(c)
	if err != nil {
		return err
	}
	mix, err := w.SeedFromMixture(c.Request().Context(), req.JobID, req.NComponents)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SeedResponse{
		JobID:      mix.JobID,
		ModelID:    mix.ModelID,
		Components: len(mix.Components),
		Version:    w.State().Version,
	})
}

func contourView(seq *ellipse.Sequence, weight float64) ContourView {
	v := ContourView{
		Weight: weight,
		Width:  seq.Width(),
		Height: seq.Height(),
		Theta:  seq.Theta(),
		X:      make([]float64, 0, seq.Len()),
		Y:      make([]float64, 0, seq.Len()),
	}
	for _, p := range seq.All() {
		v.X = append(v.X, p.X)
		v.Y = append(v.Y, p.Y)
	}
	return v
}

func ellipseOptions(step float64, closed *bool) []ellipse.Option {
	var opts []ellipse.Option
	if step > 0 {
		opts = append(opts, ellipse.WithStep(step))
	}
	if closed != nil {
		opts = append(opts, ellipse.WithClosed(*closed))
	}
	return opts
}

func (s *Server) handleEllipse(c echo.Context) error {
	var req EllipseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cov := req.Covariance
	if req.Scale > 0 {
		cov = ellipse.ScaleCovariance(cov, req.Scale)
	}
	seq, err := ellipse.Contour(req.Mean, cov, ellipseOptions(req.Step, req.Closed)...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, contourView(seq, 0))
}

func (s *Server) handleMixtureContours(c echo.Context) error {
	if s.mixtures == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "mixture service not configured")
	}
	var (
		n    int
		step float64
		err  error
	)
	if v := c.QueryParam("n_components"); v != "" {
		if n, err = strconv.Atoi(v); err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid n_components")
		}
	}
	if v := c.QueryParam("step"); v != "" {
		if step, err = strconv.ParseFloat(v, 64); err != nil || step <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid step")
		}
	}

	mix, err := s.mixtures.Fetch(c.Request().Context(), c.Param("id"), n)
	if err != nil {
		return err
	}
	contours, err := ellipse.Overlay(mix.Components, ellipseOptions(step, nil)...)
	if err != nil {
		return fmt.Errorf("mixture %s: %w", mix.JobID, err)
	}

	resp := ContoursResponse{JobID: mix.JobID, ModelID: mix.ModelID, Contours: make([]ContourView, len(contours))}
	for i, cc := range contours {
		resp.Contours[i] = contourView(cc.Contour, cc.Weight)
	}
	return c.JSON(http.StatusOK, resp)
}
