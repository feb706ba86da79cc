package reconcile

import (
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// Generations issues reconciliation generation numbers and guards commits.
// The zero value is ready to use.
type Generations struct {
	mu     sync.Mutex
	issued uint64
}

// Begin issues a new generation. Every generation issued earlier becomes stale.
func (g *Generations) Begin() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued++
	return g.issued
}

// Current returns the newest issued generation, zero if none.
func (g *Generations) Current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued
}

// Commit runs apply if gen is still the newest generation. Otherwise it
// returns latent.ErrConcurrencyStale and apply is not called. No generation
// can be issued while apply runs.
func (g *Generations) Commit(gen uint64, apply func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.issued {
		return fmt.Errorf("%w: generation %d, newest %d", latent.ErrConcurrencyStale, gen, g.issued)
	}
	apply()
	return nil
}
