// Package staging moves query candidates from the optimiser's proposal pool
// into the candidate registry.
package staging

import (
	"fmt"
	"slices"

	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/registry"
)

// Selector decides whether the candidate at position i of the pool is promoted.
type Selector func(i int, c latent.QueryCandidate) bool

// Staged selects candidates whose staged flag is set.
func Staged() Selector {
	return func(_ int, c latent.QueryCandidate) bool { return c.Staged }
}

// All selects every candidate.
func All() Selector {
	return func(int, latent.QueryCandidate) bool { return true }
}

// Indices selects candidates by pool position.
func Indices(positions ...int) Selector {
	set := make(map[int]bool, len(positions))
	for _, p := range positions {
		set[p] = true
	}
	return func(i int, _ latent.QueryCandidate) bool { return set[i] }
}

// Result is the outcome of a promotion.
type Result struct {
	// Registry is the registry with the promoted records appended.
	Registry *registry.Registry
	// Delta lists the appended records in pool order.
	Delta []registry.Record
	// Remaining holds the unselected candidates, unchanged and in order.
	Remaining []latent.QueryCandidate
}

// UntitledID is the label given to a record promoted under index.
func UntitledID(index int) string {
	return fmt.Sprintf("untitled -- %d", index)
}

// Promote appends every selected candidate to reg as a new record with a
// fresh index and null cells for every declared column. Each new record's
// staged flag is staged.
//
// Indices are issued consecutively from the registry's high-water mark, so
// records promoted together never collide and removed indices are never
// reissued. The call is atomic: on error reg is returned untouched.
func Promote(reg *registry.Registry, pool []latent.QueryCandidate, sel Selector, staged bool) (Result, error) {
	if sel == nil {
		return Result{}, fmt.Errorf("%w: nil selector", latent.ErrValidation)
	}
	if len(pool) == 0 {
		return Result{Registry: reg, Remaining: []latent.QueryCandidate{}}, nil
	}

	var (
		picked    []registry.Record
		remaining = make([]latent.QueryCandidate, 0, len(pool))
	)
	next := reg.NextIndex()
	for i, c := range pool {
		if !sel(i, c) {
			remaining = append(remaining, c)
			continue
		}
		picked = append(picked, registry.Record{
			ID:       UntitledID(next + len(picked)),
			Sequence: c.Sequence,
			X:        c.X,
			Y:        c.Y,
			Staged:   staged,
		})
	}

	if len(picked) == 0 {
		return Result{Registry: reg, Remaining: remaining}, nil
	}

	updated, added, err := reg.AppendAll(picked)
	if err != nil {
		return Result{}, fmt.Errorf("promote: %w", err)
	}
	return Result{Registry: updated, Delta: added, Remaining: remaining}, nil
}

// StageQueries returns a copy of pool with the staged flag of every selected
// candidate set to staged.
func StageQueries(pool []latent.QueryCandidate, sel Selector, staged bool) []latent.QueryCandidate {
	out := latent.CopyPool(pool)
	for i, c := range out {
		if sel(i, c) {
			out[i].Staged = staged
		}
	}
	return out
}

// Positions returns the pool positions matched by sel.
func Positions(pool []latent.QueryCandidate, sel Selector) []int {
	var out []int
	for i, c := range pool {
		if sel(i, c) {
			out = append(out, i)
		}
	}
	return slices.Clip(out)
}
