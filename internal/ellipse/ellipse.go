package ellipse

import (
	"fmt"
	"iter"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

const (
	// DefaultStep is the angular sampling increment in radians.
	DefaultStep = 0.01

	twoPi = 2 * math.Pi

	// symmetryTolerance bounds |cov[0][1] - cov[1][0]| for a matrix to count as symmetric.
	symmetryTolerance = 1e-9

	// eigenFloor is the round-off allowance for negative eigenvalues.
	eigenFloor = 1e-12

	// MaxPoints caps the samples in [0, 2π), which puts a floor of
	// 2π/MaxPoints on the angular step.
	MaxPoints = 1_000_000
)

type options struct {
	step   float64
	closed bool
}

// Option configures contour sampling.
type Option func(*options)

// WithStep sets the angular increment. Must be positive and yield at most
// MaxPoints samples.
func WithStep(step float64) Option {
	return func(o *options) { o.step = step }
}

// WithClosed controls whether the wrap-around point at t = 2π is emitted.
func WithClosed(closed bool) Option {
	return func(o *options) { o.closed = closed }
}

// Sequence is a lazily evaluated contour.
type Sequence struct {
	mean   latent.Point
	width  float64
	height float64
	theta  float64
	step   float64
	closed bool
	n      int // samples in [0, 2π)
}

// Contour computes the confidence contour for mean and covariance.
//
// The covariance must be symmetric and positive semi-definite up to
// round-off; tiny negative eigenvalues are clamped to zero.
func Contour(mean [2]float64, cov [2][2]float64, opts ...Option) (*Sequence, error) {
	o := options{step: DefaultStep, closed: true}
	for _, opt := range opts {
		opt(&o)
	}

	if !(o.step > 0) || !latent.IsFinite(o.step) {
		return nil, fmt.Errorf("%w: angular step must be positive, got %v", latent.ErrValidation, o.step)
	}
	// Checked in floating point; a tiny step overflows int.
	samples := math.Ceil(twoPi/o.step - 1e-9)
	if !(samples <= MaxPoints) {
		return nil, fmt.Errorf("%w: angular step %v gives more than %d points", latent.ErrValidation, o.step, MaxPoints)
	}
	if !latent.IsFinite(mean[0]) || !latent.IsFinite(mean[1]) {
		return nil, fmt.Errorf("%w: non-finite mean", latent.ErrValidation)
	}
	for _, row := range cov {
		for _, v := range row {
			if !latent.IsFinite(v) {
				return nil, fmt.Errorf("%w: non-finite covariance entry", latent.ErrValidation)
			}
		}
	}
	if math.Abs(cov[0][1]-cov[1][0]) > symmetryTolerance {
		return nil, fmt.Errorf("%w: covariance is not symmetric", latent.ErrValidation)
	}

	lambda1, lambda2, v1, err := decompose(cov)
	if err != nil {
		return nil, err
	}

	n := max(int(samples), 1)

	return &Sequence{
		mean:   latent.Point{X: mean[0], Y: mean[1]},
		width:  2 * math.Sqrt(lambda1),
		height: 2 * math.Sqrt(lambda2),
		theta:  math.Atan2(v1[1], v1[0]),
		step:   o.step,
		closed: o.closed,
		n:      n,
	}, nil
}

// decompose returns the eigenvalues ordered λ1 ≥ λ2 and the eigenvector paired with λ1.
func decompose(cov [2][2]float64) (float64, float64, [2]float64, error) {
	sym := mat.NewSymDense(2, []float64{
		cov[0][0], cov[0][1],
		cov[0][1], cov[1][1],
	})

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return 0, 0, [2]float64{}, fmt.Errorf("%w: eigen-decomposition did not converge", latent.ErrValidation)
	}

	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	lambda1, lambda2 := values[0], values[1]
	v1 := [2]float64{vectors.At(0, 0), vectors.At(1, 0)}
	if lambda1 < lambda2 {
		lambda1, lambda2 = lambda2, lambda1
		v1 = [2]float64{vectors.At(0, 1), vectors.At(1, 1)}
	}

	if lambda2 < -eigenFloor {
		return 0, 0, [2]float64{}, fmt.Errorf("%w: covariance is not positive semi-definite (eigenvalue %g)", latent.ErrValidation, lambda2)
	}

	return max(lambda1, 0), max(lambda2, 0), v1, nil
}

// Len returns the number of points in the contour.
func (s *Sequence) Len() int {
	if s.closed {
		return s.n + 1
	}
	return s.n
}

// At returns the i-th contour point. It panics when i is out of range.
func (s *Sequence) At(i int) latent.Point {
	if i < 0 || i >= s.Len() {
		panic(fmt.Sprintf("ellipse: index %d out of range [0, %d)", i, s.Len()))
	}
	t := float64(i) * s.step
	if i == s.n {
		t = twoPi
	}
	return s.point(t)
}

func (s *Sequence) point(t float64) latent.Point {
	cosT, sinT := math.Cos(t), math.Sin(t)
	cosTh, sinTh := math.Cos(s.theta), math.Sin(s.theta)
	return latent.Point{
		X: s.mean.X + s.width*cosT*cosTh - s.height*sinT*sinTh,
		Y: s.mean.Y + s.width*cosT*sinTh + s.height*sinT*cosTh,
	}
}

// All iterates the contour in order. Each call starts from the first point.
func (s *Sequence) All() iter.Seq2[int, latent.Point] {
	return func(yield func(int, latent.Point) bool) {
		for i := range s.Len() {
			if !yield(i, s.At(i)) {
				return
			}
		}
	}
}

// Points materialises the contour.
func (s *Sequence) Points() []latent.Point {
	out := make([]latent.Point, 0, s.Len())
	for _, p := range s.All() {
		out = append(out, p)
	}
	return out
}

// Width is the major diameter 2√λ1.
func (s *Sequence) Width() float64 { return s.width }

// Height is the minor diameter 2√λ2.
func (s *Sequence) Height() float64 { return s.height }

// Theta is the rotation of the major axis in radians.
func (s *Sequence) Theta() float64 { return s.theta }

// Mean is the contour centre.
func (s *Sequence) Mean() latent.Point { return s.mean }

// ScaleCovariance multiplies every entry by k.
func ScaleCovariance(cov [2][2]float64, k float64) [2][2]float64 {
	return [2][2]float64{
		{cov[0][0] * k, cov[0][1] * k},
		{cov[1][0] * k, cov[1][1] * k},
	}
}
