package experiment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/latentd/internal/experiment"

// ErrClosed is returned by a closed Service.
var ErrClosed = errors.New("experiment service is closed")

// Service wraps a Store with tracing, metrics and logging.
type Service struct {
	store  Store
	logger *zap.Logger

	tracer       trace.Tracer
	meter        metric.Meter
	saveCounter  metric.Int64Counter
	loadCounter  metric.Int64Counter
	errorCounter metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

var _ Store = (*Service)(nil)

// NewService creates a new experiment service over store.
func NewService(store Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("experiment store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.saveCounter, err = s.meter.Int64Counter(
		"latentd.experiment.saves_total",
		metric.WithDescription("Total number of experiments saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}

	s.loadCounter, err = s.meter.Int64Counter(
		"latentd.experiment.loads_total",
		metric.WithDescription("Total number of experiments loaded"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		s.logger.Warn("failed to create load counter", zap.Error(err))
	}

	s.errorCounter, err = s.meter.Int64Counter(
		"latentd.experiment.errors_total",
		metric.WithDescription("Total number of failed store operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		s.logger.Warn("failed to create error counter", zap.Error(err))
	}
}

func (s *Service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if s.errorCounter != nil {
		s.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
}

// Save persists snap.
func (s *Service) Save(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "experiment.save")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if snap != nil {
		span.SetAttributes(
			attribute.String("experiment_id", snap.ID),
			attribute.Int("records", len(snap.Registry.Rows)),
			attribute.Int("queries", len(snap.Pool)),
		)
	}

	out, err := s.store.Save(ctx, snap)
	if err != nil {
		s.fail(ctx, span, "save", err)
		return nil, fmt.Errorf("save experiment: %w", err)
	}
	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1)
	}
	s.logger.Info("experiment saved",
		zap.String("experiment_id", out.ID),
		zap.String("name", out.Name),
		zap.String("model_id", out.ModelID),
		zap.Int("records", len(out.Registry.Rows)),
	)
	return out, nil
}

// Get loads an experiment.
func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "experiment.get")
	defer span.End()
	span.SetAttributes(attribute.String("experiment_id", id))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	snap, err := s.store.Get(ctx, id)
	if err != nil {
		s.fail(ctx, span, "get", err)
		return nil, err
	}
	if s.loadCounter != nil {
		s.loadCounter.Add(ctx, 1)
	}
	return snap, nil
}

// List returns experiment summaries.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	ctx, span := s.tracer.Start(ctx, "experiment.list")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out, err := s.store.List(ctx)
	if err != nil {
		s.fail(ctx, span, "list", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("count", len(out)))
	return out, nil
}

// Delete removes an experiment.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "experiment.delete")
	defer span.End()
	span.SetAttributes(attribute.String("experiment_id", id))

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.fail(ctx, span, "delete", err)
		return err
	}
	s.logger.Info("experiment deleted", zap.String("experiment_id", id))
	return nil
}

// Close closes the underlying store. Further calls return ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.store.Close()
}
