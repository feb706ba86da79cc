package workspace

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/latentd/internal/experiment"
	"github.com/fyrsmithlabs/latentd/internal/notify"
)

// Manager owns the open workspaces and persists them through a store.
type Manager struct {
	deps   Deps
	store  experiment.Store
	logger *zap.Logger

	mu     sync.Mutex
	open   map[string]*Workspace
	closed bool
}

// NewManager creates a manager over store.
func NewManager(store experiment.Store, deps Deps) (*Manager, error) {
	if store == nil {
		return nil, errors.New("experiment store is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.Nop{}
	}
	return &Manager{
		deps:   deps,
		store:  store,
		logger: deps.Logger,
		open:   make(map[string]*Workspace),
	}, nil
}

// Create opens a new, unsaved workspace. When modelID is set the workspace
// switches to it before being returned.
func (m *Manager) Create(ctx context.Context, name, modelID string) (*Workspace, error) {
	w, err := New(uuid.NewString(), m.deps)
	if err != nil {
		return nil, err
	}
	if name != "" {
		if err := w.Rename(ctx, name); err != nil {
			return nil, err
		}
	}
	if modelID != "" {
		if _, err := w.SwitchModel(ctx, modelID); err != nil {
			_ = w.Close(ctx)
			return nil, err
		}
	}
	if err := m.add(w); err != nil {
		_ = w.Close(ctx)
		return nil, err
	}
	m.logger.Info("workspace created", zap.String("experiment_id", w.ID()), zap.String("model_id", modelID))
	return w, nil
}

func (m *Manager) add(w *Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.open[w.ID()] = w
	return nil
}

// Get returns an open workspace, loading it from the store when needed.
func (m *Manager) Get(ctx context.Context, id string) (*Workspace, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	w, ok := m.open[id]
	m.mu.Unlock()
	if ok {
		return w, nil
	}

	snap, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w, err = New(id, m.deps)
	if err != nil {
		return nil, err
	}
	if err := w.Restore(ctx, snap); err != nil {
		_ = w.Close(ctx)
		return nil, fmt.Errorf("restore experiment %s: %w", id, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = w.Close(ctx)
		return nil, ErrClosed
	}
	// Another caller may have restored the same experiment concurrently.
	if existing, ok := m.open[id]; ok {
		m.mu.Unlock()
		_ = w.Close(ctx)
		return existing, nil
	}
	m.open[id] = w
	m.mu.Unlock()
	return w, nil
}

// Save persists the workspace and clears its dirty flag.
func (m *Manager) Save(ctx context.Context, id string) (*experiment.Snapshot, error) {
	w, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	version := w.State().Version
	saved, err := m.store.Save(ctx, w.Snapshot())
	if err != nil {
		return nil, err
	}
	w.MarkSaved(ctx, version)
	return saved, nil
}

// List returns the stored experiments.
func (m *Manager) List(ctx context.Context) ([]experiment.Summary, error) {
	return m.store.List(ctx)
}

// Open returns the ids of the open workspaces.
func (m *Manager) Open() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.open))
}

// Close closes an open workspace without saving it.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	w, ok := m.open[id]
	delete(m.open, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s is not open", experiment.ErrNotFound, id)
	}
	return w.Close(ctx)
}

// Delete closes the workspace if open and removes it from the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	w, ok := m.open[id]
	delete(m.open, id)
	m.mu.Unlock()
	if ok {
		_ = w.Close(ctx)
	}
	err := m.store.Delete(ctx, id)
	if ok && errors.Is(err, experiment.ErrNotFound) {
		// Never saved.
		return nil
	}
	return err
}

// Shutdown closes every open workspace. Unsaved changes are lost.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	open := m.open
	m.open = make(map[string]*Workspace)
	m.mu.Unlock()

	var errs []error
	for id, w := range open {
		if w.State().Dirty {
			m.logger.Warn("closing workspace with unsaved changes", zap.String("experiment_id", id))
		}
		errs = append(errs, w.Close(ctx))
	}
	return errors.Join(errs...)
}
