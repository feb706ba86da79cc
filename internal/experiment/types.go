package experiment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/optimizer"
	"github.com/fyrsmithlabs/latentd/internal/registry"
)

// SchemaVersion is the snapshot format version written by this package.
const SchemaVersion = 1

// DefaultName is used when an experiment is saved without a name.
const DefaultName = "untitled"

// ErrNotFound indicates an unknown experiment id.
var ErrNotFound = fmt.Errorf("experiment not found: %w", latent.ErrUnknownKey)

// PlotConfig holds the viewer settings saved with an experiment.
type PlotConfig struct {
	MinimumCount     int  `json:"minimum_count"`
	ShowTrainingData bool `json:"show_training_data"`
	ShowBOContour    bool `json:"show_bo_contour"`
}

// DefaultPlotConfig returns the settings a new experiment starts with.
func DefaultPlotConfig() PlotConfig {
	return PlotConfig{MinimumCount: 2, ShowTrainingData: true, ShowBOContour: true}
}

// Snapshot is the serialisable state of one experiment.
type Snapshot struct {
	// Version is the snapshot format version.
	Version int `json:"version"`

	// ID is the experiment uuid, assigned on first save.
	ID string `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// ModelID is the embedding model the coordinates were derived under.
	ModelID string `json:"model_id"`

	// LastModified is stamped on every save.
	LastModified time.Time `json:"last_modified"`

	Plot         PlotConfig              `json:"plot"`
	Optimization optimizer.Config        `json:"optimization"`
	Registry     registry.Table          `json:"registry"`
	Pool         []latent.QueryCandidate `json:"pool"`
	Acquisition  optimizer.Acquisition   `json:"acquisition"`
}

// Summary is the list view of an experiment.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModelID      string    `json:"model_id"`
	LastModified time.Time `json:"last_modified"`
}

// Summary returns the list view of s.
func (s *Snapshot) Summary() Summary {
	return Summary{ID: s.ID, Name: s.Name, ModelID: s.ModelID, LastModified: s.LastModified}
}

// Validate checks that the snapshot can be restored.
func (s *Snapshot) Validate() error {
	if s.ID != "" {
		if _, err := uuid.Parse(s.ID); err != nil {
			return fmt.Errorf("%w: experiment id %q is not a uuid", latent.ErrValidation, s.ID)
		}
	}
	if _, err := registry.FromTable(s.Registry); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	for i, c := range s.Pool {
		if !c.Point().Finite() || !c.Original().Finite() {
			return fmt.Errorf("%w: query %d has non-finite coordinates", latent.ErrValidation, i)
		}
	}
	a := s.Acquisition
	if len(a.X) != len(a.Values) || len(a.Y) != len(a.Values) {
		return fmt.Errorf("%w: acquisition mesh lengths differ", latent.ErrValidation)
	}
	return nil
}

// Store persists snapshots.
type Store interface {
	// Save inserts or replaces a snapshot and returns it as stored: with an
	// id, a default name and a fresh LastModified.
	Save(ctx context.Context, snap *Snapshot) (*Snapshot, error)

	// Get retrieves a snapshot by id.
	Get(ctx context.Context, id string) (*Snapshot, error)

	// List returns every experiment, most recently modified first.
	List(ctx context.Context) ([]Summary, error)

	// Delete removes an experiment.
	Delete(ctx context.Context, id string) error

	// Close releases the store.
	Close() error
}

// prepare returns a copy of snap ready to be written.
func prepare(snap *Snapshot, now time.Time) (*Snapshot, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", latent.ErrValidation)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	out := *snap
	out.Version = SchemaVersion
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Name == "" {
		out.Name = DefaultName
	}
	out.LastModified = now.UTC()
	out.Pool = latent.CopyPool(snap.Pool)
	return &out, nil
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}
