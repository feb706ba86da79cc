package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/registry"
)

const instrumentationName = "github.com/fyrsmithlabs/latentd/internal/reconcile"

// Codec is the encode/decode collaborator.
type Codec interface {
	Encode(ctx context.Context, sessionID string, seqs []string) ([]latent.Point, error)
	Decode(ctx context.Context, sessionID string, pts []latent.Point) ([]string, error)
}

// Config tunes request fan-out.
type Config struct {
	// BatchSize is the number of sequences or points per collaborator call.
	BatchSize int `koanf:"batch_size"`

	// Concurrency bounds the number of calls in flight.
	Concurrency int `koanf:"concurrency"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 256, Concurrency: 4}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}

// Result is a complete reconciliation.
type Result struct {
	Registry *registry.Registry
	Pool     []latent.QueryCandidate

	// Coordinates maps every re-encoded sequence to its new point.
	Coordinates map[string]latent.Point
	// Candidates maps every candidate's original point to its re-embedded form.
	Candidates map[latent.Point]latent.QueryCandidate
}

// Reconciler performs encode/decode round-trips.
type Reconciler struct {
	codec  Codec
	config Config
	logger *zap.Logger

	tracer   trace.Tracer
	meter    metric.Meter
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a reconciler.
func New(codec Codec, cfg Config, logger *zap.Logger) (*Reconciler, error) {
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reconciler{
		codec:  codec,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	r.initMetrics()
	return r, nil
}

func (r *Reconciler) initMetrics() {
	var err error

	r.runs, err = r.meter.Int64Counter(
		"latentd.reconcile.runs_total",
		metric.WithDescription("Total reconciliations by trigger and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		r.logger.Warn("failed to create runs counter", zap.Error(err))
	}

	r.duration, err = r.meter.Float64Histogram(
		"latentd.reconcile.duration_seconds",
		metric.WithDescription("Duration of reconciliations in seconds by trigger"),
		metric.WithUnit("s"),
	)
	if err != nil {
		r.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

func (r *Reconciler) record(ctx context.Context, trigger string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if r.runs != nil {
		r.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.String("outcome", outcome),
		))
	}
	if r.duration != nil {
		r.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Reconcile re-derives every coordinate under the model of sessionID.
//
// Records without a sequence keep their coordinates. Candidates whose
// decoded sequence is empty after cleaning keep their original point as
// working coordinates and get an empty sequence.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, reg *registry.Registry, pool []latent.QueryCandidate) (res Result, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "reconcile.model_switch")
	defer span.End()
	defer func() { r.record(ctx, "model_switch", start, err) }()

	records := reg.Records()
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int("candidates", len(pool)),
	)

	var seqs []string
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.Sequence != "" && !seen[rec.Sequence] {
			seen[rec.Sequence] = true
			seqs = append(seqs, rec.Sequence)
		}
	}
	originals := make([]latent.Point, len(pool))
	for i, c := range pool {
		originals[i] = c.Original()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	encoded := make([]latent.Point, len(seqs))
	r.encodeInto(gctx, g, sessionID, seqs, encoded)

	embedded := make([]latent.QueryCandidate, len(pool))
	r.embedInto(gctx, g, sessionID, originals, embedded)

	if err := g.Wait(); err != nil {
		return Result{}, fail(span, fmt.Errorf("reconcile: %w", err))
	}

	res.Coordinates = make(map[string]latent.Point, len(seqs))
	for i, s := range seqs {
		res.Coordinates[s] = encoded[i]
	}
	res.Candidates = make(map[latent.Point]latent.QueryCandidate, len(pool))
	for _, c := range embedded {
		res.Candidates[c.Original()] = c
	}

	moves := make(map[int]latent.Point, len(records))
	for _, rec := range records {
		if p, ok := res.Coordinates[rec.Sequence]; ok {
			moves[rec.Index] = p
		}
	}
	res.Registry, err = reg.Relocate(moves)
	if err != nil {
		return Result{}, fail(span, fmt.Errorf("reconcile: %w", err))
	}

	res.Pool = make([]latent.QueryCandidate, len(pool))
	for i, c := range pool {
		e := embedded[i]
		c.Sequence, c.X, c.Y = e.Sequence, e.X, e.Y
		res.Pool[i] = c
	}

	r.logger.Debug("reconciled",
		zap.Int("records", len(records)),
		zap.Int("sequences", len(seqs)),
		zap.Int("candidates", len(pool)),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// EditCoordinates moves record index to (x, y) and replaces its sequence
// with the cleaned decode of that point.
func (r *Reconciler) EditCoordinates(ctx context.Context, sessionID string, reg *registry.Registry, index int, x, y float64) (_ *registry.Registry, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "reconcile.edit")
	defer span.End()
	defer func() { r.record(ctx, "edit", start, err) }()
	span.SetAttributes(attribute.Int("sequence_index", index))

	p := latent.Point{X: x, Y: y}
	if err := p.Validate(); err != nil {
		return nil, fail(span, err)
	}
	if _, err := reg.Record(index); err != nil {
		return nil, fail(span, err)
	}

	decoded, err := r.codec.Decode(ctx, sessionID, []latent.Point{p})
	if err != nil {
		return nil, fail(span, fmt.Errorf("decoding edited point: %w", err))
	}
	if len(decoded) != 1 {
		return nil, fail(span, latent.NewServiceError("decode", 0, fmt.Sprintf("got %d sequences for 1 point", len(decoded)), nil))
	}
	seq := latent.CleanDecoded(decoded[0])
	if seq == "" {
		return nil, fail(span, fmt.Errorf("%w: point (%v, %v) decodes to an empty sequence", latent.ErrValidation, x, y))
	}

	next, err := reg.WithSequence(index, seq, x, y)
	if err != nil {
		return nil, fail(span, err)
	}
	return next, nil
}

// EmbedProposals turns raw optimiser output into query candidates: each
// point is decoded, cleaned and re-encoded. The points become the
// candidates' original coordinates.
func (r *Reconciler) EmbedProposals(ctx context.Context, sessionID string, pts []latent.Point, staged bool) (_ []latent.QueryCandidate, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "reconcile.proposals")
	defer span.End()
	defer func() { r.record(ctx, "proposals", start, err) }()
	span.SetAttributes(attribute.Int("candidates", len(pts)))

	for i, p := range pts {
		if err := p.Validate(); err != nil {
			return nil, fail(span, fmt.Errorf("proposal %d: %w", i, err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	out := make([]latent.QueryCandidate, len(pts))
	r.embedInto(gctx, g, sessionID, pts, out)
	if err := g.Wait(); err != nil {
		return nil, fail(span, fmt.Errorf("embedding proposals: %w", err))
	}

	for i := range out {
		out[i].Staged = staged
	}
	return out, nil
}

// SeedColumn is the metric column of a registry seeded from a mixture.
const SeedColumn = "value"

// SeedFromMixture builds an initial registry from mixture component means.
// Each mean is decoded, cleaned and re-encoded; records are labelled
// "MoG No.<i>" and carry one null cell in SeedColumn.
func (r *Reconciler) SeedFromMixture(ctx context.Context, sessionID string, components []latent.GaussianComponent) (_ *registry.Registry, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "reconcile.seed")
	defer span.End()
	defer func() { r.record(ctx, "seed", start, err) }()

	if len(components) == 0 {
		return nil, fail(span, fmt.Errorf("%w: mixture has no components", latent.ErrValidation))
	}

	means := make([]latent.Point, len(components))
	for i, c := range components {
		means[i] = latent.Point{X: c.Mean[0], Y: c.Mean[1]}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)
	embedded := make([]latent.QueryCandidate, len(means))
	r.embedInto(gctx, g, sessionID, means, embedded)
	if err := g.Wait(); err != nil {
		return nil, fail(span, fmt.Errorf("seeding from mixture: %w", err))
	}

	recs := make([]registry.Record, len(embedded))
	for i, c := range embedded {
		recs[i] = registry.Record{
			ID:       fmt.Sprintf("MoG No.%d", i),
			Sequence: c.Sequence,
			X:        c.X,
			Y:        c.Y,
		}
	}

	reg, err := registry.New().AddColumn(SeedColumn)
	if err != nil {
		return nil, fail(span, err)
	}
	reg, _, err = reg.AppendAll(recs)
	if err != nil {
		return nil, fail(span, err)
	}
	return reg, nil
}

// encodeInto schedules batched Encode calls writing into out.
func (r *Reconciler) encodeInto(ctx context.Context, g *errgroup.Group, sessionID string, seqs []string, out []latent.Point) {
	for lo, hi := range batches(len(seqs), r.config.BatchSize) {
		g.Go(func() error {
			pts, err := r.codec.Encode(ctx, sessionID, seqs[lo:hi])
			if err != nil {
				return fmt.Errorf("encoding sequences %d-%d: %w", lo, hi-1, err)
			}
			if len(pts) != hi-lo {
				return latent.NewServiceError("encode", 0, fmt.Sprintf("got %d points for %d sequences", len(pts), hi-lo), nil)
			}
			copy(out[lo:hi], pts)
			return nil
		})
	}
}

// embedInto schedules batched decode→clean→encode round-trips for originals,
// writing candidates into out.
func (r *Reconciler) embedInto(ctx context.Context, g *errgroup.Group, sessionID string, originals []latent.Point, out []latent.QueryCandidate) {
	for lo, hi := range batches(len(originals), r.config.BatchSize) {
		g.Go(func() error {
			batch := originals[lo:hi]
			decoded, err := r.codec.Decode(ctx, sessionID, batch)
			if err != nil {
				return fmt.Errorf("decoding points %d-%d: %w", lo, hi-1, err)
			}
			if len(decoded) != len(batch) {
				return latent.NewServiceError("decode", 0, fmt.Sprintf("got %d sequences for %d points", len(decoded), len(batch)), nil)
			}

			var (
				seqs []string
				pos  []int
			)
			for i, d := range decoded {
				p := batch[i]
				out[lo+i] = latent.QueryCandidate{X: p.X, Y: p.Y, OriginalX: p.X, OriginalY: p.Y}
				if s := latent.CleanDecoded(d); s != "" {
					out[lo+i].Sequence = s
					seqs = append(seqs, s)
					pos = append(pos, lo+i)
				}
			}
			if len(seqs) == 0 {
				return nil
			}

			pts, err := r.codec.Encode(ctx, sessionID, seqs)
			if err != nil {
				return fmt.Errorf("re-encoding decoded points %d-%d: %w", lo, hi-1, err)
			}
			if len(pts) != len(seqs) {
				return latent.NewServiceError("encode", 0, fmt.Sprintf("got %d points for %d sequences", len(pts), len(seqs)), nil)
			}
			for j, p := range pts {
				out[pos[j]].X, out[pos[j]].Y = p.X, p.Y
			}
			return nil
		})
	}
}
