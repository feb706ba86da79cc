package reconcile

import (
	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/registry"
)

// Rebase applies the result to a registry and pool that changed while the
// reconciliation was in flight.
//
// Records are matched by sequence and candidates by original point. Missing
// counts records with a sequence and candidates that the result does not
// cover; they keep their previous coordinates.
func (res Result) Rebase(reg *registry.Registry, pool []latent.QueryCandidate) (_ *registry.Registry, _ []latent.QueryCandidate, missing int, err error) {
	moves := make(map[int]latent.Point, reg.Len())
	for _, rec := range reg.Records() {
		if rec.Sequence == "" {
			continue
		}
		p, ok := res.Coordinates[rec.Sequence]
		if !ok {
			missing++
			continue
		}
		moves[rec.Index] = p
	}
	next, err := reg.Relocate(moves)
	if err != nil {
		return nil, nil, 0, err
	}

	out := latent.CopyPool(pool)
	for i, c := range out {
		e, ok := res.Candidates[c.Original()]
		if !ok {
			missing++
			continue
		}
		out[i].Sequence, out[i].X, out[i].Y = e.Sequence, e.X, e.Y
	}
	return next, out, missing, nil
}
