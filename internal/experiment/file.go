package experiment

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const fileSuffix = ".json.zst"

// FileStore keeps one zstd-compressed JSON document per experiment.
type FileStore struct {
	dir string
	now func() time.Time

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now, enc: enc, dec: dec}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+fileSuffix)
}

// Save writes snap to a temporary file and renames it into place.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := prepare(snap, s.now())
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal experiment: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, out.ID+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(s.enc.EncodeAll(raw, nil)); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write experiment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close experiment: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(out.ID)); err != nil {
		return nil, fmt.Errorf("rename experiment: %w", err)
	}
	return out, nil
}

// Get reads and decompresses the experiment with the given id.
func (s *FileStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.read(s.path(id))
}

func (s *FileStore) read(path string) (*Snapshot, error) {
	compressed, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), fileSuffix))
	}
	if err != nil {
		return nil, fmt.Errorf("read experiment: %w", err)
	}
	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress experiment: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal experiment: %w", err)
	}
	if snap.Version > SchemaVersion {
		return nil, fmt.Errorf("experiment %s has unsupported version %d", snap.ID, snap.Version)
	}
	return &snap, nil
}

// List decodes every experiment file in the directory.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	out := []Summary{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		snap, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, snap.Summary())
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Delete removes the experiment file.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// Close releases the zstd encoder and decoder.
func (s *FileStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}
