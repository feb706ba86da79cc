package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/experiment"
	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/logging"
	"github.com/fyrsmithlabs/latentd/internal/mixture"
	"github.com/fyrsmithlabs/latentd/internal/notify"
	"github.com/fyrsmithlabs/latentd/internal/optimizer"
	"github.com/fyrsmithlabs/latentd/internal/reconcile"
	"github.com/fyrsmithlabs/latentd/internal/registry"
	"github.com/fyrsmithlabs/latentd/internal/staging"
)

const instrumentationName = "github.com/fyrsmithlabs/latentd/internal/workspace"

// maxRebaseAttempts bounds how often a model switch re-reconciles records
// and candidates that appeared while it was in flight.
const maxRebaseAttempts = 3

// ErrClosed is returned by operations on a closed workspace.
var ErrClosed = errors.New("workspace is closed")

// ErrModelChanged is returned when the embedding model kept changing under
// an operation until it gave up re-encoding its result.
var ErrModelChanged = errors.New("embedding model changed during operation")

// Embedder is the embedding service as seen by a workspace.
type Embedder interface {
	reconcile.Codec
	StartSession(ctx context.Context, modelID string) (string, error)
	EndSession(ctx context.Context, sessionID string) error
}

// Optimizer runs Bayesian optimisation.
type Optimizer interface {
	Run(ctx context.Context, ts registry.TrainingSet, cfg optimizer.Config) (*optimizer.Result, error)
}

// Mixtures fetches fitted Gaussian mixtures.
type Mixtures interface {
	Fetch(ctx context.Context, jobID string, nComponents int) (*mixture.Mixture, error)
}

// Deps are the collaborators shared by every workspace.
type Deps struct {
	Embedder   Embedder
	Optimizer  Optimizer
	Mixtures   Mixtures
	Reconciler *reconcile.Reconciler
	Publisher  notify.Publisher
	Logger     *zap.Logger

	// Optimization seeds new workspaces; the zero value means
	// optimizer.DefaultConfig().
	Optimization optimizer.Config
}

func (d Deps) validate() error {
	if d.Embedder == nil {
		return errors.New("embedder is required")
	}
	if d.Reconciler == nil {
		return errors.New("reconciler is required")
	}
	return nil
}

// State is a consistent view of a workspace. Registry values are immutable;
// Pool is a copy owned by the caller.
type State struct {
	ID           string
	Name         string
	Registry     *registry.Registry
	Pool         []latent.QueryCandidate
	ModelID      string
	SessionID    string
	Plot         experiment.PlotConfig
	Optimization optimizer.Config
	Acquisition  optimizer.Acquisition
	Version      uint64
	Dirty        bool

	// AllStaged is the last value given to SetAllStaged. Promoted records
	// start with this staged flag. It is not persisted.
	AllStaged bool
}

func (s State) clone() State {
	s.Pool = latent.CopyPool(s.Pool)
	return s
}

// Workspace is the live state of one experiment.
type Workspace struct {
	id     string
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
	gens   reconcile.Generations

	// mu guards state and closed. Lock order: mu, then gens.
	mu     sync.Mutex
	state  State
	closed bool
}

// New creates an empty workspace for experiment id.
func New(id string, deps Deps) (*Workspace, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Optimization.Method == "" {
		deps.Optimization = optimizer.DefaultConfig()
	}
	return &Workspace{
		id:     id,
		deps:   deps,
		logger: deps.Logger.With(zap.String("experiment_id", id)),
		tracer: otel.Tracer(instrumentationName),
		state: State{
			ID:           id,
			Name:         experiment.DefaultName,
			Registry:     registry.New(),
			Pool:         []latent.QueryCandidate{},
			Plot:         experiment.DefaultPlotConfig(),
			Optimization: deps.Optimization,
		},
	}, nil
}

// ID returns the experiment id.
func (w *Workspace) ID() string { return w.id }

// State returns a copy of the current state.
func (w *Workspace) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.clone()
}

// commitLocked bumps the version and returns one event per kind, to be
// published once the lock is released. Callers hold mu.
func (w *Workspace) commitLocked(kinds ...notify.Kind) []notify.Event {
	w.state.Version++
	w.state.Dirty = true
	now := time.Now().UTC()
	events := make([]notify.Event, len(kinds))
	for i, k := range kinds {
		events[i] = notify.Event{Kind: k, ExperimentID: w.id, Version: w.state.Version, At: now}
	}
	return events
}

func (w *Workspace) publish(ctx context.Context, events []notify.Event) {
	for _, ev := range events {
		if err := w.deps.Publisher.Publish(ctx, ev); err != nil {
			w.logger.Warn("failed to publish event",
				zap.String("kind", string(ev.Kind)),
				zap.Uint64("version", ev.Version),
				zap.Error(err))
		}
	}
}

// mutate applies fn to a copy of the state under the lock. On error nothing
// changes; on success the copy is committed and an event per kind is published.
func (w *Workspace) mutate(ctx context.Context, fn func(s *State) error, kinds ...notify.Kind) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	next := w.state.clone()
	if err := fn(&next); err != nil {
		w.mu.Unlock()
		return err
	}
	w.state = next
	events := w.commitLocked(kinds...)
	w.mu.Unlock()

	w.publish(ctx, events)
	return nil
}

// Rename sets the experiment name.
func (w *Workspace) Rename(ctx context.Context, name string) error {
	return w.mutate(ctx, func(s *State) error {
		if name == "" {
			return fmt.Errorf("%w: empty experiment name", latent.ErrValidation)
		}
		s.Name = name
		return nil
	}, notify.KindRegistry)
}

// SetPlot replaces the viewer settings.
func (w *Workspace) SetPlot(ctx context.Context, plot experiment.PlotConfig) error {
	return w.mutate(ctx, func(s *State) error {
		if plot.MinimumCount < 0 {
			return fmt.Errorf("%w: negative minimum count", latent.ErrValidation)
		}
		s.Plot = plot
		return nil
	}, notify.KindRegistry)
}

// SetOptimization replaces the optimisation settings.
func (w *Workspace) SetOptimization(ctx context.Context, cfg optimizer.Config) error {
	return w.mutate(ctx, func(s *State) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		s.Optimization = cfg
		return nil
	}, notify.KindAcquisition)
}

// AddColumn declares a metric column.
func (w *Workspace) AddColumn(ctx context.Context, name string) error {
	return w.registryOp(ctx, func(r *registry.Registry) (*registry.Registry, error) {
		return r.AddColumn(name)
	})
}

// RemoveColumn drops a metric column and its cells.
func (w *Workspace) RemoveColumn(ctx context.Context, name string) error {
	return w.registryOp(ctx, func(r *registry.Registry) (*registry.Registry, error) {
		return r.RemoveColumn(name)
	})
}

// SetCell sets one metric value; nil clears it.
func (w *Workspace) SetCell(ctx context.Context, index int, column string, value *float64) error {
	return w.registryOp(ctx, func(r *registry.Registry) (*registry.Registry, error) {
		return r.SetCell(index, column, value)
	})
}

// SetID relabels a record.
func (w *Workspace) SetID(ctx context.Context, index int, id string) error {
	return w.registryOp(ctx, func(r *registry.Registry) (*registry.Registry, error) {
		return r.SetID(index, id)
	})
}

// SetStaged marks a record for the training set.
func (w *Workspace) SetStaged(ctx context.Context, index int, staged bool) error {
	return w.registryOp(ctx, func(r *registry.Registry) (*registry.Registry, error) {
		return r.SetStaged(index, staged)
	})
}

// SetAllStaged marks every record, including those promoted later.
func (w *Workspace) SetAllStaged(ctx context.Context, staged bool) error {
	return w.mutate(ctx, func(s *State) error {
		s.Registry = s.Registry.SetAllStaged(staged)
		s.AllStaged = staged
		return nil
	}, notify.KindRegistry)
}

// RemoveRecord deletes a record. Its index is never reissued.
func (w *Workspace) RemoveRecord(ctx context.Context, index int) error {
	return w.registryOp(ctx, func(r *registry.Registry) (*registry.Registry, error) {
		return r.RemoveRecord(index)
	})
}

func (w *Workspace) registryOp(ctx context.Context, fn func(*registry.Registry) (*registry.Registry, error)) error {
	return w.mutate(ctx, func(s *State) error {
		next, err := fn(s.Registry)
		if err != nil {
			return err
		}
		s.Registry = next
		return nil
	}, notify.KindRegistry)
}

// StageQueries sets the staged flag of the selected query candidates.
func (w *Workspace) StageQueries(ctx context.Context, sel staging.Selector, staged bool) error {
	if sel == nil {
		return fmt.Errorf("%w: nil selector", latent.ErrValidation)
	}
	return w.mutate(ctx, func(s *State) error {
		s.Pool = staging.StageQueries(s.Pool, sel, staged)
		return nil
	}, notify.KindPool)
}

// Promote moves the selected query candidates into the registry and returns
// the records created for them. They are staged when every record was last
// staged through SetAllStaged.
func (w *Workspace) Promote(ctx context.Context, sel staging.Selector) ([]registry.Record, error) {
	var delta []registry.Record
	err := w.mutate(ctx, func(s *State) error {
		res, err := staging.Promote(s.Registry, s.Pool, sel, s.AllStaged)
		if err != nil {
			return err
		}
		s.Registry, s.Pool, delta = res.Registry, res.Remaining, res.Delta
		return nil
	}, notify.KindRegistry, notify.KindPool)
	if err != nil {
		return nil, err
	}
	return delta, nil
}

// LoadTable appends the rows of t as new records. Row indices are reissued
// from the registry's high-water mark. When a model is active the loaded
// sequences are encoded under it; otherwise the table's coordinates are kept.
func (w *Workspace) LoadTable(ctx context.Context, t registry.Table) ([]int, error) {
	ctx, span := w.tracer.Start(ctx, "workspace.load_table")
	defer span.End()
	span.SetAttributes(attribute.Int("rows", len(t.Rows)))

	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("%w: table has no rows", latent.ErrValidation)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	sid := w.state.SessionID
	w.mu.Unlock()

	base, err := registry.FromTable(t.Reindexed(0))
	if err != nil {
		return nil, err
	}

	// Rows encoded under a session that has since been replaced are
	// encoded again under the new one.
	for attempt := 1; ; attempt++ {
		loaded := base
		if sid != "" {
			res, err := w.deps.Reconciler.Reconcile(ctx, sid, base, nil)
			if err != nil {
				return nil, err
			}
			loaded = res.Registry
		}

		var indices []int
		err = w.mutate(ctx, func(s *State) error {
			if s.SessionID != sid {
				if attempt >= maxRebaseAttempts {
					return fmt.Errorf("%w: table not loaded after %d attempts", ErrModelChanged, attempt)
				}
				sid = s.SessionID
				return errRetry
			}
			start := s.Registry.NextIndex()
			merged, err := s.Registry.FromRectangular(loaded.ToRectangular().Reindexed(start))
			if err != nil {
				return err
			}
			s.Registry = merged
			indices = make([]int, len(t.Rows))
			for i := range indices {
				indices[i] = start + i
			}
			return nil
		}, notify.KindRegistry)
		if errors.Is(err, errRetry) {
			w.logger.Debug("model changed while loading table, encoding again", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		return indices, nil
	}
}

// SwitchModel starts a session under modelID, re-derives every coordinate
// under it and ends the previous session.
//
// It reports whether the result was committed. A switch overtaken by a newer
// one is discarded without error; its session is ended.
func (w *Workspace) SwitchModel(ctx context.Context, modelID string) (bool, error) {
	ctx, span := w.tracer.Start(ctx, "workspace.switch_model")
	defer span.End()
	span.SetAttributes(attribute.String("model_id", modelID))

	if modelID == "" {
		return false, fmt.Errorf("%w: empty model id", latent.ErrValidation)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false, ErrClosed
	}
	gen := w.gens.Begin()
	reg, pool, version := w.state.Registry, latent.CopyPool(w.state.Pool), w.state.Version
	w.mu.Unlock()

	sid, err := w.deps.Embedder.StartSession(ctx, modelID)
	if err != nil {
		return false, fmt.Errorf("start session: %w", err)
	}
	ctx = logging.WithSessionID(ctx, sid)

	for attempt := 1; ; attempt++ {
		res, err := w.deps.Reconciler.Reconcile(ctx, sid, reg, pool)
		if err != nil {
			w.endSession(ctx, sid)
			return false, err
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			w.endSession(ctx, sid)
			return false, ErrClosed
		}
		nextReg, nextPool := res.Registry, res.Pool
		if w.state.Version != version && w.gens.Current() == gen {
			var missing int
			nextReg, nextPool, missing, err = res.Rebase(w.state.Registry, w.state.Pool)
			if err != nil {
				w.mu.Unlock()
				w.endSession(ctx, sid)
				return false, err
			}
			if missing > 0 && attempt < maxRebaseAttempts {
				reg, pool, version = w.state.Registry, latent.CopyPool(w.state.Pool), w.state.Version
				w.mu.Unlock()
				w.logger.Debug("state changed during model switch, reconciling again",
					zap.Int("missing", missing), zap.Int("attempt", attempt))
				continue
			}
			if missing > 0 {
				w.logger.Warn("committing model switch with stale coordinates", zap.Int("missing", missing))
			}
		}

		var (
			oldSID string
			events []notify.Event
		)
		err = w.gens.Commit(gen, func() {
			oldSID = w.state.SessionID
			w.state.Registry, w.state.Pool = nextReg, nextPool
			w.state.ModelID, w.state.SessionID = modelID, sid
			events = w.commitLocked(notify.KindModel, notify.KindRegistry, notify.KindPool)
		})
		w.mu.Unlock()

		if errors.Is(err, latent.ErrConcurrencyStale) {
			w.logger.Debug("discarding stale model switch", zap.String("model_id", modelID), zap.Error(err))
			w.endSession(ctx, sid)
			return false, nil
		}
		if oldSID != "" {
			w.endSession(ctx, oldSID)
		}
		w.publish(ctx, events)
		w.logger.Info("model switched", zap.String("model_id", modelID), zap.Uint64("version", events[0].Version))
		return true, nil
	}
}

func (w *Workspace) endSession(ctx context.Context, sid string) {
	// The caller's context may already be cancelled; ending must still go out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.deps.Embedder.EndSession(ctx, sid); err != nil {
		w.logger.Warn("failed to end session", zap.String("session_id", sid), zap.Error(err))
	}
}

// EditCoordinates moves a record to (x, y) and replaces its sequence with
// the decode of that point. The edit holds the workspace lock throughout.
func (w *Workspace) EditCoordinates(ctx context.Context, index int, x, y float64) (registry.Record, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return registry.Record{}, ErrClosed
	}
	if w.state.SessionID == "" {
		w.mu.Unlock()
		return registry.Record{}, errNoModel
	}
	next, err := w.deps.Reconciler.EditCoordinates(ctx, w.state.SessionID, w.state.Registry, index, x, y)
	if err != nil {
		w.mu.Unlock()
		return registry.Record{}, err
	}
	w.state.Registry = next
	events := w.commitLocked(notify.KindRegistry)
	w.mu.Unlock()

	w.publish(ctx, events)
	rec, _ := next.Record(index)
	return rec, nil
}

var errNoModel = fmt.Errorf("%w: no embedding model selected", latent.ErrValidation)

// RunOptimization trains on the staged records, asks the optimiser for new
// queries and replaces the pool with their embeddings.
func (w *Workspace) RunOptimization(ctx context.Context) ([]latent.QueryCandidate, error) {
	ctx, span := w.tracer.Start(ctx, "workspace.run_optimization")
	defer span.End()

	if w.deps.Optimizer == nil {
		return nil, errors.New("optimizer is not configured")
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	st := w.state.clone()
	w.mu.Unlock()

	if st.SessionID == "" {
		return nil, errNoModel
	}
	if err := st.Optimization.Validate(); err != nil {
		return nil, err
	}
	ts, err := st.Registry.TrainingSet(st.Optimization.TargetColumn)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("training_points", ts.Len()))

	res, err := w.deps.Optimizer.Run(ctx, ts, st.Optimization)
	if err != nil {
		return nil, err
	}

	sid := st.SessionID
	for attempt := 1; ; attempt++ {
		pool, err := w.deps.Reconciler.EmbedProposals(ctx, sid, res.Queries, true)
		if err != nil {
			return nil, err
		}

		// Proposals embedded under a session that has since been replaced
		// are embedded again under the new one.
		err = w.mutate(ctx, func(s *State) error {
			if s.SessionID != sid {
				if s.SessionID == "" {
					return fmt.Errorf("%w: model cleared during optimization", ErrModelChanged)
				}
				if attempt >= maxRebaseAttempts {
					return fmt.Errorf("%w: pool not replaced after %d attempts", ErrModelChanged, attempt)
				}
				sid = s.SessionID
				return errRetry
			}
			s.Pool = pool
			s.Acquisition = res.Acquisition
			return nil
		}, notify.KindPool, notify.KindAcquisition)
		if errors.Is(err, errRetry) {
			continue
		}
		if err != nil {
			return nil, err
		}
		w.logger.Info("optimization completed",
			zap.Int("training_points", ts.Len()),
			zap.Int("queries", len(pool)))
		return latent.CopyPool(pool), nil
	}
}

var errRetry = errors.New("retry")

// SeedFromMixture fills an empty registry with records at the component
// means of mixture job jobID. When the workspace has no model yet it
// switches to the mixture's model first.
func (w *Workspace) SeedFromMixture(ctx context.Context, jobID string, nComponents int) (*mixture.Mixture, error) {
	if w.deps.Mixtures == nil {
		return nil, errors.New("mixture client is not configured")
	}
	mix, err := w.deps.Mixtures.Fetch(ctx, jobID, nComponents)
	if err != nil {
		return nil, err
	}

	st := w.State()
	if st.ModelID == "" && mix.ModelID != "" {
		if _, err := w.SwitchModel(ctx, mix.ModelID); err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	reg, err := w.seedLocked(ctx, jobID, mix)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.state.Registry = reg
	events := w.commitLocked(notify.KindRegistry)
	w.mu.Unlock()

	w.publish(ctx, events)
	return mix, nil
}

func (w *Workspace) seedLocked(ctx context.Context, jobID string, mix *mixture.Mixture) (*registry.Registry, error) {
	if w.closed {
		return nil, ErrClosed
	}
	if w.state.SessionID == "" {
		return nil, errNoModel
	}
	if mix.ModelID != "" && mix.ModelID != w.state.ModelID {
		return nil, fmt.Errorf("%w: mixture %s was fitted under model %s, workspace uses %s",
			latent.ErrValidation, jobID, mix.ModelID, w.state.ModelID)
	}
	if w.state.Registry.Len() > 0 {
		return nil, fmt.Errorf("%w: registry is not empty", latent.ErrValidation)
	}
	return w.deps.Reconciler.SeedFromMixture(ctx, w.state.SessionID, mix.Components)
}

// Snapshot returns the persistable form of the current state.
func (w *Workspace) Snapshot() *experiment.Snapshot {
	st := w.State()
	return &experiment.Snapshot{
		ID:           st.ID,
		Name:         st.Name,
		ModelID:      st.ModelID,
		Plot:         st.Plot,
		Optimization: st.Optimization,
		Registry:     st.Registry.ToRectangular(),
		Pool:         st.Pool,
		Acquisition:  st.Acquisition,
	}
}

// MarkSaved clears the dirty flag if nothing changed since version.
func (w *Workspace) MarkSaved(ctx context.Context, version uint64) {
	w.mu.Lock()
	if w.state.Version != version {
		w.mu.Unlock()
		return
	}
	w.state.Dirty = false
	ev := notify.Event{Kind: notify.KindSaved, ExperimentID: w.id, Version: version, At: time.Now().UTC()}
	w.mu.Unlock()
	w.publish(ctx, []notify.Event{ev})
}

// Restore replaces the state with snap. When snap names a model a session is
// started and every coordinate is re-derived under it.
func (w *Workspace) Restore(ctx context.Context, snap *experiment.Snapshot) error {
	ctx, span := w.tracer.Start(ctx, "workspace.restore")
	defer span.End()

	if err := snap.Validate(); err != nil {
		return err
	}
	reg, err := registry.FromTable(snap.Registry)
	if err != nil {
		return err
	}
	pool := latent.CopyPool(snap.Pool)

	var sid string
	if snap.ModelID != "" {
		sid, err = w.deps.Embedder.StartSession(ctx, snap.ModelID)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		ctx = logging.WithSessionID(ctx, sid)
		res, err := w.deps.Reconciler.Reconcile(ctx, sid, reg, pool)
		if err != nil {
			w.endSession(ctx, sid)
			return err
		}
		reg, pool = res.Registry, res.Pool
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		if sid != "" {
			w.endSession(ctx, sid)
		}
		return ErrClosed
	}
	// Invalidate any model switch still in flight.
	w.gens.Begin()
	oldSID := w.state.SessionID
	name := snap.Name
	if name == "" {
		name = experiment.DefaultName
	}
	w.state = State{
		ID:           w.id,
		Name:         name,
		Registry:     reg,
		Pool:         pool,
		ModelID:      snap.ModelID,
		SessionID:    sid,
		Plot:         snap.Plot,
		Optimization: snap.Optimization,
		Acquisition:  snap.Acquisition,
		Version:      w.state.Version,
	}
	events := w.commitLocked(notify.KindModel, notify.KindRegistry, notify.KindPool, notify.KindAcquisition)
	w.state.Dirty = false
	w.mu.Unlock()

	if oldSID != "" {
		w.endSession(ctx, oldSID)
	}
	w.publish(ctx, events)
	return nil
}

// Close ends the embedding session. Further operations return ErrClosed.
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.gens.Begin()
	sid := w.state.SessionID
	w.state.SessionID = ""
	events := w.commitLocked(notify.KindClosed)
	w.mu.Unlock()

	if sid != "" {
		w.endSession(ctx, sid)
	}
	w.publish(ctx, events)
	return nil
}
