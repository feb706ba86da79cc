package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/workspace"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusOf maps an error class to an HTTP status.
func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, latent.ErrStaleSession), errors.Is(err, workspace.ErrModelChanged):
		return http.StatusConflict
	case errors.Is(err, latent.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, latent.ErrUnknownKey):
		return http.StatusNotFound
	case errors.Is(err, latent.ErrConcurrencyStale):
		return http.StatusAccepted
	case errors.Is(err, workspace.ErrClosed):
		return http.StatusGone
	case errors.Is(err, latent.ErrService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", status),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			msg = http.StatusText(status)
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn("failed to write error response", zap.Error(err))
	}
}
