// Package embeddingstest provides a deterministic in-memory embedding
// service and an HTTP server that exposes it with the real wire format.
package embeddingstest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// Fake is a deterministic embedding service. Each model scales the latent
// space differently so switching models moves every point.
type Fake struct {
	mu       sync.Mutex
	models   map[string]float64
	names    map[string]string
	sessions map[string]string // session id → model id
	calls    map[string]int

	// OnCall, when set, runs before every operation. A non-nil error is
	// returned to the caller instead of performing the operation.
	OnCall func(ctx context.Context, op, sessionID string) error
}

// NewFake returns a fake with the given model ids. Model i scales
// coordinates by i+1.
func NewFake(modelIDs ...string) *Fake {
	f := &Fake{
		models:   make(map[string]float64),
		names:    make(map[string]string),
		sessions: make(map[string]string),
		calls:    make(map[string]int),
	}
	for i, id := range modelIDs {
		f.models[id] = float64(i + 1)
		f.names[id] = fmt.Sprintf("model-%d", i+1)
	}
	return f
}

// Calls returns how often op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// OpenSessions returns the number of live sessions.
func (f *Fake) OpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Expire drops a session as if the service had restarted.
func (f *Fake) Expire(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
}

func (f *Fake) enter(ctx context.Context, op, sessionID string) error {
	f.mu.Lock()
	f.calls[op]++
	hook := f.OnCall
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, op, sessionID)
	}
	return nil
}

func (f *Fake) scale(sessionID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	model, ok := f.sessions[sessionID]
	if !ok {
		return 0, fmt.Errorf("%w: session error", latent.ErrStaleSession)
	}
	return f.models[model], nil
}

// StartSession opens a session on modelID.
func (f *Fake) StartSession(ctx context.Context, modelID string) (string, error) {
	if err := f.enter(ctx, "session_start", ""); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[modelID]; !ok {
		return "", fmt.Errorf("%w: model %q", latent.ErrUnknownKey, modelID)
	}
	id := uuid.NewString()
	f.sessions[id] = modelID
	return id, nil
}

// EndSession closes a session. Ending an unknown session is not an error.
func (f *Fake) EndSession(ctx context.Context, sessionID string) error {
	if err := f.enter(ctx, "session_end", sessionID); err != nil {
		return err
	}
	f.Expire(sessionID)
	return nil
}

// Encode maps each sequence to its nucleotide composition, scaled by the
// session's model.
func (f *Fake) Encode(ctx context.Context, sessionID string, seqs []string) ([]latent.Point, error) {
	if err := f.enter(ctx, "encode", sessionID); err != nil {
		return nil, err
	}
	k, err := f.scale(sessionID)
	if err != nil {
		return nil, err
	}
	if err := latent.ValidateSequences(seqs); err != nil {
		return nil, err
	}
	out := make([]latent.Point, len(seqs))
	for i, s := range seqs {
		out[i] = EncodeSequence(s, k)
	}
	return out, nil
}

// Decode maps each point to a padded sequence whose length depends on the
// point and the model.
func (f *Fake) Decode(ctx context.Context, sessionID string, pts []latent.Point) ([]string, error) {
	if err := f.enter(ctx, "decode", sessionID); err != nil {
		return nil, err
	}
	k, err := f.scale(sessionID)
	if err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: input error", latent.ErrValidation)
	}
	out := make([]string, len(pts))
	for i, p := range pts {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out[i] = DecodePoint(p, k)
	}
	return out, nil
}

// Models lists the configured models.
func (f *Fake) Models() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.names))
	for k, v := range f.names {
		out[k] = v
	}
	return out
}

// EncodeSequence is the fake encoder: x is the A/U share, y the G/C share.
func EncodeSequence(seq string, scale float64) latent.Point {
	seq = strings.ToUpper(seq)
	n := float64(len(seq))
	au := float64(strings.Count(seq, "A") + 2*strings.Count(seq, "U") + 2*strings.Count(seq, "T"))
	gc := float64(strings.Count(seq, "G") + 2*strings.Count(seq, "C"))
	return latent.Point{X: scale * au / n, Y: scale * gc / n}
}

// DecodePoint is the fake decoder. Its output carries "N" and "_" padding.
func DecodePoint(p latent.Point, scale float64) string {
	a := 1 + int(math.Abs(p.X*3/scale))%5
	g := 1 + int(math.Abs(p.Y*3/scale))%5
	return strings.Repeat("A", a) + "N" + strings.Repeat("G", g) + "__"
}
