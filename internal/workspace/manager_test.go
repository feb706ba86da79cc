package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/latentd/internal/embeddings/embeddingstest"
	"github.com/fyrsmithlabs/latentd/internal/experiment"
	"github.com/fyrsmithlabs/latentd/internal/latent"
)

func newManager(t *testing.T) (*Manager, *fixture) {
	t.Helper()
	f := newFixture(t)
	store, err := experiment.NewSQLiteStore(t.TempDir() + "/experiments.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	m, err := NewManager(store, f.deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, f
}

func TestManager_SaveAndRestore(t *testing.T) {
	ctx := context.Background()
	m, f := newManager(t)

	w, err := m.Create(ctx, "round 1", "vae-1")
	require.NoError(t, err)
	_, err = w.LoadTable(ctx, sampleTable())
	require.NoError(t, err)
	require.NoError(t, w.SetStaged(ctx, 0, true))
	assert.True(t, w.State().Dirty)

	saved, err := m.Save(ctx, w.ID())
	require.NoError(t, err)
	assert.Equal(t, "round 1", saved.Name)
	assert.Equal(t, "vae-1", saved.ModelID)
	assert.False(t, w.State().Dirty)

	before := w.State()
	require.NoError(t, m.Close(ctx, w.ID()))
	assert.Empty(t, m.Open())
	assert.Equal(t, 0, f.fake.OpenSessions())

	restored, err := m.Get(ctx, w.ID())
	require.NoError(t, err)
	after := restored.State()
	assert.Equal(t, "round 1", after.Name)
	assert.Equal(t, "vae-1", after.ModelID)
	assert.NotEmpty(t, after.SessionID)
	assert.False(t, after.Dirty)
	assert.True(t, before.Registry.Equal(after.Registry), "deterministic re-encode reproduces coordinates")
	for _, rec := range after.Registry.Records() {
		assert.Equal(t, embeddingstest.EncodeSequence(rec.Sequence, 1), rec.Point())
	}

	again, err := m.Get(ctx, w.ID())
	require.NoError(t, err)
	assert.Same(t, restored, again)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, w.ID(), list[0].ID)
}

func TestManager_DeleteAndUnknown(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	w, err := m.Create(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, experiment.DefaultName, w.State().Name)
	require.NoError(t, m.Delete(ctx, w.ID()), "unsaved workspace deletes cleanly")

	_, err = m.Get(ctx, w.ID())
	assert.ErrorIs(t, err, latent.ErrUnknownKey)
	assert.ErrorIs(t, m.Close(ctx, w.ID()), experiment.ErrNotFound)

	_, err = m.Create(ctx, "x", "no-such-model")
	assert.ErrorIs(t, err, latent.ErrUnknownKey)
	assert.Empty(t, m.Open())
}

func TestManager_Shutdown(t *testing.T) {
	ctx := context.Background()
	m, f := newManager(t)
	_, err := m.Create(ctx, "a", "vae-1")
	require.NoError(t, err)
	_, err = m.Create(ctx, "b", "vae-2")
	require.NoError(t, err)
	assert.Len(t, m.Open(), 2)

	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, f.fake.OpenSessions())
	_, err = m.Create(ctx, "c", "")
	assert.ErrorIs(t, err, ErrClosed)
}
