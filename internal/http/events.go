package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/notify"
)

// handleEvents streams change notifications of one experiment as
// Server-Sent Events.
//
//	GET /api/v1/experiments/{id}/events
//
//	event: registry
//	data: {"kind":"registry","experiment_id":"...","version":4,"at":"..."}
//
// The stream ends when the client disconnects or the experiment is closed.
func (s *Server) handleEvents(c echo.Context) error {
	w, err := s.workspace(c)
	if err != nil {
		return err
	}

	events, cancel := s.broker.Subscribe(w.ID(), notify.DefaultBuffer)
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	// Announce the current version so clients can detect missed events.
	st := w.State()
	if err := writeEvent(resp, notify.Event{Kind: notify.KindRegistry, ExperimentID: st.ID, Version: st.Version, At: time.Now().UTC()}); err != nil {
		return nil
	}

	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	ctx := c.Request().Context()
	defer s.metrics.streamOpened(ctx)()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(resp, ev); err != nil {
				s.logger.Debug("sse client gone", zap.Error(err))
				return nil
			}
			s.metrics.eventSent(ctx, ev.Kind)
			if ev.Kind == notify.KindClosed {
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(resp, ": heartbeat\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func writeEvent(resp *echo.Response, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}
