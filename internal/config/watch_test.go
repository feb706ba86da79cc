package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "observability:\n  log_level: info\n", 0600)

	var (
		mu     sync.Mutex
		levels []string
	)
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, cfg.Observability.LogLevel)
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("observability:\n  log_level: debug\n"), 0600))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] == "debug"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_ReportsInvalidConfig(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 8088\n", 0600)

	errCh := make(chan error, 4)
	w, err := NewWatcher(path, func(*Config) {}, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 0\n"), 0600))

	select {
	case err := <-errCh:
		assert.Contains(t, err.Error(), "server.http_port")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload error")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "", 0600)

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(*Config) { called <- struct{}{} }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	select {
	case <-called:
		t.Fatal("reload triggered by unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewWatcher_RejectsOutsidePath(t *testing.T) {
	setupTestHome(t)

	_, err := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"), func(*Config) {}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisallowedPath)
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	setupTestHome(t)

	w, err := NewWatcher("", func(*Config) {}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
