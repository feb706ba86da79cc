package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize config watcher")

// Watcher reloads the configuration file whenever it changes on disk.
//
// The parent directory is watched rather than the file itself so that
// editors which write a temporary file and rename it over the original are
// picked up.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	onError  func(error)
	done     chan struct{}
}

// NewWatcher watches path. An empty path means the default location.
// onChange receives every successfully reloaded configuration; onError
// receives load and watch failures and may be nil.
func NewWatcher(path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	if path == "" {
		p, err := defaultConfigFile()
		if err != nil {
			return nil, err
		}
		path = p
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if err := allowedPath(abs); err != nil {
		return nil, err
	}
	if onError == nil {
		onError = func(error) {}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("%w: watching %s: %v", ErrWatcherFailed, filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		watcher:  fw,
		onChange: onChange,
		onError:  onError,
		done:     make(chan struct{}),
	}, nil
}

// Run processes filesystem events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadWithFile(w.path)
	if err != nil {
		w.onError(err)
		return
	}
	w.onChange(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
