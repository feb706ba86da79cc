package latent

import (
	"fmt"
	"math"
)

// Point is a coordinate in the 2-D latent space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

// Validate returns ErrValidation when a coordinate is NaN or infinite.
func (p Point) Validate() error {
	if !p.Finite() {
		return fmt.Errorf("%w: non-finite coordinate (%v, %v)", ErrValidation, p.X, p.Y)
	}
	return nil
}

// QueryCandidate is a point proposed by the optimisation service.
//
// OriginalX/OriginalY are the untouched values returned by the optimiser.
// X/Y are the working coordinates after decode→encode under the live model.
type QueryCandidate struct {
	Sequence  string  `json:"sequence"`
	X         float64 `json:"coord_x"`
	Y         float64 `json:"coord_y"`
	OriginalX float64 `json:"coord_x_original"`
	OriginalY float64 `json:"coord_y_original"`
	Staged    bool    `json:"staged"`
}

// Point returns the working coordinates.
func (c QueryCandidate) Point() Point { return Point{X: c.X, Y: c.Y} }

// Original returns the coordinates as proposed by the optimiser.
func (c QueryCandidate) Original() Point { return Point{X: c.OriginalX, Y: c.OriginalY} }

// GaussianComponent is one fitted mixture component. Read-only to this module.
type GaussianComponent struct {
	Mean       [2]float64    `json:"mean"`
	Covariance [2][2]float64 `json:"covariance"`
	Weight     float64       `json:"weight"`
}

// CopyPool returns a copy of the candidate slice. A nil pool yields an empty slice.
func CopyPool(pool []QueryCandidate) []QueryCandidate {
	out := make([]QueryCandidate, len(pool))
	copy(out, pool)
	return out
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// IsFinite reports whether f is neither NaN nor ±Inf.
func IsFinite(f float64) bool { return isFinite(f) }
