package workspace

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/latentd/internal/embeddings/embeddingstest"
	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/mixture"
	"github.com/fyrsmithlabs/latentd/internal/notify"
	"github.com/fyrsmithlabs/latentd/internal/optimizer"
	"github.com/fyrsmithlabs/latentd/internal/reconcile"
	"github.com/fyrsmithlabs/latentd/internal/registry"
	"github.com/fyrsmithlabs/latentd/internal/staging"
)

type fakeOptimizer struct {
	queries []latent.Point
	got     registry.TrainingSet
}

func (f *fakeOptimizer) Run(_ context.Context, ts registry.TrainingSet, _ optimizer.Config) (*optimizer.Result, error) {
	f.got = ts
	return &optimizer.Result{
		Queries:     f.queries,
		Acquisition: optimizer.Acquisition{X: []float64{0}, Y: []float64{0}, Values: []float64{0.25}},
	}, nil
}

type fakeMixtures struct {
	mix *mixture.Mixture
}

func (f fakeMixtures) Fetch(context.Context, string, int) (*mixture.Mixture, error) {
	if f.mix == nil {
		return nil, latent.ErrUnknownKey
	}
	return f.mix, nil
}

type fixture struct {
	fake   *embeddingstest.Fake
	opt    *fakeOptimizer
	broker *notify.Broker
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := embeddingstest.NewFake("vae-1", "vae-2")
	rec, err := reconcile.New(fake, reconcile.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	opt := &fakeOptimizer{queries: []latent.Point{{X: 1, Y: 0.5}, {X: -0.2, Y: 0.9}}}
	broker := notify.NewBroker(zaptest.NewLogger(t))
	t.Cleanup(broker.Close)
	return &fixture{
		fake:   fake,
		opt:    opt,
		broker: broker,
		deps: Deps{
			Embedder:   fake,
			Optimizer:  opt,
			Reconciler: rec,
			Publisher:  broker,
			Logger:     zaptest.NewLogger(t),
			Mixtures: fakeMixtures{mix: &mixture.Mixture{
				JobID:   "gmm-1",
				ModelID: "vae-1",
				Components: []latent.GaussianComponent{
					{Mean: [2]float64{1, 0.5}, Covariance: [2][2]float64{{1, 0}, {0, 1}}, Weight: 0.5},
					{Mean: [2]float64{0.4, 1.2}, Covariance: [2][2]float64{{1, 0}, {0, 1}}, Weight: 0.5},
				},
			}},
		},
	}
}

func (f *fixture) workspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := New("exp-1", f.deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func ptr(v float64) *float64 { return &v }

func sampleTable() registry.Table {
	return registry.Table{
		Columns: []string{"affinity"},
		Rows: []registry.Row{
			{ID: "a", Sequence: "AUGC", Values: []*float64{ptr(1)}},
			{ID: "b", Sequence: "GGCC", Values: []*float64{ptr(2)}},
			{ID: "c", Sequence: "UUUA", Values: []*float64{nil}},
		},
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New("x", Deps{})
	require.Error(t, err)
}

func TestWorkspace_RegistryMutations(t *testing.T) {
	ctx := context.Background()
	w := newFixture(t).workspace(t)

	require.NoError(t, w.AddColumn(ctx, "affinity"))
	idx, err := w.LoadTable(ctx, registry.Table{
		Columns: []string{"affinity"},
		Rows:    []registry.Row{{ID: "a", Sequence: "AUGC", X: 1, Y: 2, Values: []*float64{nil}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, idx)

	require.NoError(t, w.SetCell(ctx, 0, "affinity", ptr(3.5)))
	require.NoError(t, w.SetID(ctx, 0, "renamed"))
	require.NoError(t, w.SetStaged(ctx, 0, true))

	st := w.State()
	assert.Equal(t, uint64(5), st.Version)
	assert.True(t, st.Dirty)
	rec, err := st.Registry.Record(0)
	require.NoError(t, err)
	assert.Equal(t, "renamed", rec.ID)
	assert.True(t, rec.Staged)
	assert.Equal(t, latent.Point{X: 1, Y: 2}, rec.Point(), "no model: table coordinates kept")

	tests := []struct {
		name string
		op   func() error
		want error
	}{
		{"duplicate column", func() error { return w.AddColumn(ctx, "affinity") }, latent.ErrValidation},
		{"unknown column", func() error { return w.RemoveColumn(ctx, "yield") }, latent.ErrUnknownKey},
		{"unknown record", func() error { return w.SetCell(ctx, 9, "affinity", nil) }, latent.ErrUnknownKey},
		{"non-finite", func() error { v := 0.0; v /= v; return w.SetCell(ctx, 0, "affinity", &v) }, latent.ErrValidation},
		{"empty name", func() error { return w.Rename(ctx, "") }, latent.ErrValidation},
		{"nil selector", func() error { return w.StageQueries(ctx, nil, true) }, latent.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := w.State().Version
			assert.ErrorIs(t, tt.op(), tt.want)
			assert.Equal(t, before, w.State().Version, "failed mutation must not commit")
		})
	}

	require.NoError(t, w.RemoveRecord(ctx, 0))
	idx, err = w.LoadTable(ctx, registry.Table{
		Columns: []string{"affinity"},
		Rows:    []registry.Row{{ID: "z", Sequence: "CC", Values: []*float64{nil}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, idx, "removed index is never reissued")
}

func TestWorkspace_SwitchModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.workspace(t)

	_, err := w.LoadTable(ctx, sampleTable())
	require.NoError(t, err)

	ok, err := w.SwitchModel(ctx, "vae-1")
	require.NoError(t, err)
	require.True(t, ok)
	st := w.State()
	assert.Equal(t, "vae-1", st.ModelID)
	for _, rec := range st.Registry.Records() {
		assert.Equal(t, embeddingstest.EncodeSequence(rec.Sequence, 1), rec.Point(), rec.Sequence)
	}

	ok, err = w.SwitchModel(ctx, "vae-2")
	require.NoError(t, err)
	require.True(t, ok)
	st = w.State()
	for _, rec := range st.Registry.Records() {
		assert.Equal(t, embeddingstest.EncodeSequence(rec.Sequence, 2), rec.Point(), rec.Sequence)
	}
	assert.Equal(t, 1, f.fake.OpenSessions(), "previous session ended")

	_, err = w.SwitchModel(ctx, "missing")
	assert.ErrorIs(t, err, latent.ErrUnknownKey)
	assert.Equal(t, "vae-2", w.State().ModelID)

	_, err = w.SwitchModel(ctx, "")
	assert.ErrorIs(t, err, latent.ErrValidation)
}

// blockFirstEncode makes the first encode call wait until release is closed.
func blockFirstEncode(f *embeddingstest.Fake) (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	var n atomic.Int32
	f.OnCall = func(ctx context.Context, op, _ string) error {
		if op != "encode" || n.Add(1) != 1 {
			return nil
		}
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return started, release
}

func TestWorkspace_SwitchModel_StaleDiscarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.workspace(t)
	_, err := w.LoadTable(ctx, sampleTable())
	require.NoError(t, err)

	started, release := blockFirstEncode(f.fake)

	var (
		wg        sync.WaitGroup
		committed bool
		slowErr   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		committed, slowErr = w.SwitchModel(ctx, "vae-1")
	}()
	<-started

	ok, err := w.SwitchModel(ctx, "vae-2")
	require.NoError(t, err)
	require.True(t, ok)

	close(release)
	wg.Wait()
	require.NoError(t, slowErr)
	assert.False(t, committed)

	st := w.State()
	assert.Equal(t, "vae-2", st.ModelID)
	for _, rec := range st.Registry.Records() {
		assert.Equal(t, embeddingstest.EncodeSequence(rec.Sequence, 2), rec.Point())
	}
	assert.Equal(t, 1, f.fake.OpenSessions(), "stale session ended")
}

func TestWorkspace_SwitchModel_RebasedOntoEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.workspace(t)
	_, err := w.LoadTable(ctx, sampleTable())
	require.NoError(t, err)

	started, release := blockFirstEncode(f.fake)
	done := make(chan bool)
	go func() {
		ok, err := w.SwitchModel(ctx, "vae-1")
		assert.NoError(t, err)
		done <- ok
	}()
	<-started

	// Edits made while the switch is in flight survive it.
	require.NoError(t, w.SetCell(ctx, 0, "affinity", ptr(9)))
	added, err := w.LoadTable(ctx, registry.Table{
		Columns: []string{"affinity"},
		Rows:    []registry.Row{{ID: "late", Sequence: "CCCC", X: 7, Y: 7, Values: []*float64{nil}}},
	})
	require.NoError(t, err)

	close(release)
	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("model switch did not finish")
	}

	st := w.State()
	v, err := st.Registry.Cell(0, "affinity")
	require.NoError(t, err)
	assert.Equal(t, 9.0, *v)
	late, err := st.Registry.Record(added[0])
	require.NoError(t, err)
	assert.Equal(t, embeddingstest.EncodeSequence("CCCC", 1), late.Point(), "record added mid-switch is reconciled")
	assert.GreaterOrEqual(t, f.fake.Calls("encode"), 2)
}

// switchingCodec runs onEncode after every successful encode that is not
// itself part of a switch the hook started.
type switchingCodec struct {
	*embeddingstest.Fake
	inHook   atomic.Bool
	onEncode func(ctx context.Context)
}

func (c *switchingCodec) Encode(ctx context.Context, sessionID string, seqs []string) ([]latent.Point, error) {
	pts, err := c.Fake.Encode(ctx, sessionID, seqs)
	if err != nil || c.onEncode == nil || !c.inHook.CompareAndSwap(false, true) {
		return pts, err
	}
	defer c.inHook.Store(false)
	c.onEncode(ctx)
	return pts, nil
}

// withSwitchingCodec rebuilds the fixture's reconciler on a switchingCodec.
// Set onEncode on the result to act between an encode and its commit.
func (f *fixture) withSwitchingCodec(t *testing.T) *switchingCodec {
	t.Helper()
	codec := &switchingCodec{Fake: f.fake}
	rec, err := reconcile.New(codec, reconcile.DefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	f.deps.Reconciler = rec
	return codec
}

func TestWorkspace_LoadTable_ModelSwitchedBeforeCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	codec := f.withSwitchingCodec(t)
	w := f.workspace(t)
	_, err := w.LoadTable(ctx, sampleTable())
	require.NoError(t, err)
	_, err = w.SwitchModel(ctx, "vae-1")
	require.NoError(t, err)

	var switched atomic.Bool
	codec.onEncode = func(ctx context.Context) {
		if switched.CompareAndSwap(false, true) {
			ok, err := w.SwitchModel(ctx, "vae-2")
			assert.NoError(t, err)
			assert.True(t, ok)
		}
	}

	idx, err := w.LoadTable(ctx, registry.Table{
		Columns: []string{"affinity"},
		Rows: []registry.Row{
			{ID: "d", Sequence: "CCCA", Values: []*float64{nil}},
			{ID: "e", Sequence: "AAGU", Values: []*float64{ptr(4)}},
		},
	})
	require.NoError(t, err)
	require.True(t, switched.Load(), "switch ran between encode and commit")
	assert.Equal(t, []int{3, 4}, idx)

	st := w.State()
	assert.Equal(t, "vae-2", st.ModelID)
	assert.Equal(t, 5, st.Registry.Len())
	for _, i := range idx {
		rec, err := st.Registry.Record(i)
		require.NoError(t, err)
		assert.Equal(t, embeddingstest.EncodeSequence(rec.Sequence, 2), rec.Point(), "row encoded under the new model")
	}
}

func TestWorkspace_ModelKeepsChanging(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, w *Workspace) error
	}{
		{
			name: "load table",
			run: func(ctx context.Context, w *Workspace) error {
				_, err := w.LoadTable(ctx, registry.Table{
					Columns: []string{"affinity"},
					Rows:    []registry.Row{{ID: "d", Sequence: "CCCA", Values: []*float64{nil}}},
				})
				return err
			},
		},
		{
			name: "run optimization",
			run: func(ctx context.Context, w *Workspace) error {
				cfg := optimizer.DefaultConfig()
				cfg.TargetColumn = "affinity"
				if err := w.SetOptimization(ctx, cfg); err != nil {
					return err
				}
				for _, i := range []int{0, 1} {
					if err := w.SetStaged(ctx, i, true); err != nil {
						return err
					}
				}
				_, err := w.RunOptimization(ctx)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			codec := f.withSwitchingCodec(t)
			w := f.workspace(t)
			_, err := w.LoadTable(ctx, sampleTable())
			require.NoError(t, err)
			_, err = w.SwitchModel(ctx, "vae-1")
			require.NoError(t, err)
			before := w.State()

			models := [...]string{"vae-2", "vae-1"}
			var switches atomic.Int32
			codec.onEncode = func(ctx context.Context) {
				n := switches.Add(1)
				_, err := w.SwitchModel(ctx, models[(n-1)%2])
				assert.NoError(t, err)
			}

			err = tt.run(ctx, w)
			require.ErrorIs(t, err, ErrModelChanged)
			assert.NotErrorIs(t, err, latent.ErrConcurrencyStale)
			assert.Equal(t, int32(maxRebaseAttempts), switches.Load())

			st := w.State()
			assert.Equal(t, before.Registry.Len(), st.Registry.Len(), "nothing committed")
			assert.Empty(t, st.Pool)
		})
	}
}

func TestWorkspace_EditCoordinates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.workspace(t)
	_, err := w.LoadTable(ctx, sampleTable())
	require.NoError(t, err)

	_, err = w.EditCoordinates(ctx, 0, 1, 0.5)
	assert.ErrorIs(t, err, latent.ErrValidation, "no model selected")

	_, err = w.SwitchModel(ctx, "vae-1")
	require.NoError(t, err)

	rec, err := w.EditCoordinates(ctx, 0, 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "AAAAGG", rec.Sequence)
	assert.Equal(t, latent.Point{X: 1, Y: 0.5}, rec.Point())

	_, err = w.EditCoordinates(ctx, 42, 1, 1)
	assert.ErrorIs(t, err, latent.ErrUnknownKey)

	before := w.State()
	f.fake.Expire(before.SessionID)
	_, err = w.EditCoordinates(ctx, 1, 0.3, 0.3)
	assert.ErrorIs(t, err, latent.ErrStaleSession)
	after := w.State()
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, before.Registry.Equal(after.Registry))
}

func TestWorkspace_OptimizeAndPromote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.workspace(t)
	_, err := w.LoadTable(ctx, sampleTable())
	require.NoError(t, err)

	_, err = w.RunOptimization(ctx)
	assert.ErrorIs(t, err, latent.ErrValidation, "no model selected")

	_, err = w.SwitchModel(ctx, "vae-1")
	require.NoError(t, err)

	_, err = w.RunOptimization(ctx)
	assert.ErrorIs(t, err, latent.ErrValidation, "no target column")

	cfg := optimizer.DefaultConfig()
	cfg.TargetColumn = "affinity"
	require.NoError(t, w.SetOptimization(ctx, cfg))
	_, err = w.RunOptimization(ctx)
	assert.ErrorIs(t, err, latent.ErrValidation, "no staged records")

	require.NoError(t, w.SetStaged(ctx, 0, true))
	require.NoError(t, w.SetStaged(ctx, 1, true))
	pool, err := w.RunOptimization(ctx)
	require.NoError(t, err)
	require.Len(t, pool, 2)
	assert.Equal(t, 2, f.opt.got.Len())
	assert.Equal(t, latent.Point{X: 1, Y: 0.5}, pool[0].Original())
	assert.Equal(t, "AAAAGG", pool[0].Sequence)
	assert.True(t, pool[0].Staged)
	assert.Equal(t, []float64{0.25}, w.State().Acquisition.Values)

	require.NoError(t, w.StageQueries(ctx, staging.Indices(1), false))
	delta, err := w.Promote(ctx, staging.Staged())
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, 3, delta[0].Index)
	assert.Equal(t, staging.UntitledID(3), delta[0].ID)
	assert.False(t, delta[0].Staged)

	st := w.State()
	require.Len(t, st.Pool, 1)
	assert.False(t, st.Pool[0].Staged)
	v, err := st.Registry.Cell(3, "affinity")
	require.NoError(t, err)
	assert.Nil(t, v)

	// After select-all, promoted records join the training set too.
	require.NoError(t, w.SetAllStaged(ctx, true))
	delta, err = w.Promote(ctx, staging.All())
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.True(t, delta[0].Staged)
	st = w.State()
	assert.True(t, st.AllStaged)
	assert.Empty(t, st.Pool)
	for _, rec := range st.Registry.Records() {
		assert.True(t, rec.Staged, rec.ID)
	}
}

func TestWorkspace_SeedFromMixture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.workspace(t)

	mix, err := w.SeedFromMixture(ctx, "gmm-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "gmm-1", mix.JobID)

	st := w.State()
	assert.Equal(t, "vae-1", st.ModelID, "switched to the mixture's model")
	require.Equal(t, 2, st.Registry.Len())
	rec, err := st.Registry.Record(0)
	require.NoError(t, err)
	assert.Equal(t, "MoG No.0", rec.ID)
	assert.Equal(t, []string{reconcile.SeedColumn}, st.Registry.Columns())

	_, err = w.SeedFromMixture(ctx, "gmm-1", 2)
	assert.ErrorIs(t, err, latent.ErrValidation, "registry not empty")

	other := f.workspace(t)
	_, err = other.SwitchModel(ctx, "vae-2")
	require.NoError(t, err)
	_, err = other.SeedFromMixture(ctx, "gmm-1", 2)
	assert.ErrorIs(t, err, latent.ErrValidation, "model mismatch")
}

func TestWorkspace_EventsAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.workspace(t)
	events, cancel := f.broker.Subscribe(w.ID(), 32)
	defer cancel()

	require.NoError(t, w.AddColumn(ctx, "affinity"))
	_, err := w.SwitchModel(ctx, "vae-1")
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))

	var kinds []notify.Kind
	var last uint64
	for len(kinds) < 5 {
		select {
		case ev := <-events:
			assert.Equal(t, "exp-1", ev.ExperimentID)
			assert.GreaterOrEqual(t, ev.Version, last)
			last = ev.Version
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", kinds)
		}
	}
	assert.Equal(t, []notify.Kind{
		notify.KindRegistry,
		notify.KindModel, notify.KindRegistry, notify.KindPool,
		notify.KindClosed,
	}, kinds)

	assert.Equal(t, 0, f.fake.OpenSessions())
	assert.ErrorIs(t, w.AddColumn(ctx, "x"), ErrClosed)
	_, err = w.SwitchModel(ctx, "vae-2")
	assert.ErrorIs(t, err, ErrClosed)
}

type failingPublisher struct{ calls atomic.Int32 }

func (p *failingPublisher) Publish(context.Context, notify.Event) error {
	p.calls.Add(1)
	return errors.New("broker down")
}

func TestWorkspace_PublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	pub := &failingPublisher{}
	f.deps.Publisher = pub
	w := f.workspace(t)
	require.NoError(t, w.AddColumn(context.Background(), "affinity"))
	assert.Equal(t, int32(1), pub.calls.Load())
}
