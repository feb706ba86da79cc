package ellipse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

func TestContour_IsotropicCircle(t *testing.T) {
	seq, err := Contour([2]float64{0, 0}, [2][2]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)

	assert.InDelta(t, 2.0, seq.Width(), 1e-9)
	assert.InDelta(t, 2.0, seq.Height(), 1e-9)

	for _, p := range seq.All() {
		assert.InDelta(t, 2.0, math.Hypot(p.X, p.Y), 1e-9)
	}
}

func TestContour_AxisAligned(t *testing.T) {
	seq, err := Contour([2]float64{1, -1}, [2][2]float64{{4, 0}, {0, 1}})
	require.NoError(t, err)

	assert.InDelta(t, 4.0, seq.Width(), 1e-9)
	assert.InDelta(t, 2.0, seq.Height(), 1e-9)

	// First point sits on the major axis.
	first := seq.At(0)
	assert.InDelta(t, 4.0, math.Abs(first.X-1), 1e-9)
	assert.InDelta(t, 0.0, first.Y+1, 1e-9)
}

func TestContour_WidthAtLeastHeight(t *testing.T) {
	tests := []struct {
		name string
		cov  [2][2]float64
	}{
		{"tall", [2][2]float64{{1, 0}, {0, 9}}},
		{"wide", [2][2]float64{{9, 0}, {0, 1}}},
		{"correlated", [2][2]float64{{2, 1.5}, {1.5, 2}}},
		{"anti-correlated", [2][2]float64{{3, -1}, {-1, 1}}},
		{"degenerate", [2][2]float64{{1, 1}, {1, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := Contour([2]float64{}, tt.cov)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, seq.Width(), seq.Height())
			assert.False(t, math.IsNaN(seq.Theta()))
		})
	}
}

func TestContour_CorrelatedRotation(t *testing.T) {
	seq, err := Contour([2]float64{}, [2][2]float64{{2, 1}, {1, 2}})
	require.NoError(t, err)

	// Eigenvalues 3 and 1, major axis along the diagonal.
	assert.InDelta(t, 2*math.Sqrt(3), seq.Width(), 1e-9)
	assert.InDelta(t, 2.0, seq.Height(), 1e-9)
	assert.InDelta(t, 0.0, math.Abs(math.Sin(2*seq.Theta()))-1, 1e-9)
}

func TestContour_Closed(t *testing.T) {
	seq, err := Contour([2]float64{3, 4}, [2][2]float64{{2, 0.3}, {0.3, 1}})
	require.NoError(t, err)

	pts := seq.Points()
	require.Equal(t, seq.Len(), len(pts))
	assert.Equal(t, 630, len(pts))

	first, last := pts[0], pts[len(pts)-1]
	assert.InDelta(t, first.X, last.X, 1e-9)
	assert.InDelta(t, first.Y, last.Y, 1e-9)
}

func TestContour_Open(t *testing.T) {
	seq, err := Contour([2]float64{}, [2][2]float64{{1, 0}, {0, 1}}, WithClosed(false))
	require.NoError(t, err)
	assert.Equal(t, 629, seq.Len())
}

func TestContour_StepDividesCircle(t *testing.T) {
	seq, err := Contour([2]float64{}, [2][2]float64{{1, 0}, {0, 1}}, WithStep(math.Pi/2))
	require.NoError(t, err)

	pts := seq.Points()
	require.Len(t, pts, 5)
	for i := 1; i < len(pts); i++ {
		d := math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y)
		assert.InDelta(t, 2*math.Sqrt2, d, 1e-9)
	}
	assert.InDelta(t, pts[0].X, pts[4].X, 1e-9)
	assert.InDelta(t, pts[0].Y, pts[4].Y, 1e-9)
}

func TestContour_Restartable(t *testing.T) {
	seq, err := Contour([2]float64{0.5, 0.5}, [2][2]float64{{1, 0.2}, {0.2, 0.5}})
	require.NoError(t, err)

	assert.Equal(t, seq.Points(), seq.Points())

	// Early termination does not disturb later walks.
	count := 0
	for range seq.All() {
		count++
		if count == 10 {
			break
		}
	}
	assert.Equal(t, 10, count)
	assert.Len(t, seq.Points(), seq.Len())
}

func TestContour_Validation(t *testing.T) {
	tests := []struct {
		name string
		mean [2]float64
		cov  [2][2]float64
		opts []Option
	}{
		{"asymmetric", [2]float64{}, [2][2]float64{{1, 0.5}, {0, 1}}, nil},
		{"nan mean", [2]float64{math.NaN(), 0}, [2][2]float64{{1, 0}, {0, 1}}, nil},
		{"inf covariance", [2]float64{}, [2][2]float64{{math.Inf(1), 0}, {0, 1}}, nil},
		{"not psd", [2]float64{}, [2][2]float64{{1, 0}, {0, -4}}, nil},
		{"zero step", [2]float64{}, [2][2]float64{{1, 0}, {0, 1}}, []Option{WithStep(0)}},
		{"negative step", [2]float64{}, [2][2]float64{{1, 0}, {0, 1}}, []Option{WithStep(-0.1)}},
		{"step too fine", [2]float64{}, [2][2]float64{{1, 0}, {0, 1}}, []Option{WithStep(1e-9)}},
		{"step overflows count", [2]float64{}, [2][2]float64{{1, 0}, {0, 1}}, []Option{WithStep(1e-300)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Contour(tt.mean, tt.cov, tt.opts...)
			require.Error(t, err)
			assert.ErrorIs(t, err, latent.ErrValidation)
		})
	}
}

func TestContour_MaxPoints(t *testing.T) {
	seq, err := Contour([2]float64{}, [2][2]float64{{1, 0}, {0, 1}}, WithStep(twoPi/(MaxPoints-1)), WithClosed(false))
	require.NoError(t, err)
	assert.LessOrEqual(t, seq.Len(), MaxPoints)
	assert.GreaterOrEqual(t, seq.Len(), MaxPoints-1)
}

func TestAt_OutOfRange(t *testing.T) {
	seq, err := Contour([2]float64{}, [2][2]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.Panics(t, func() { seq.At(seq.Len()) })
	assert.Panics(t, func() { seq.At(-1) })
}

func TestScaleCovariance(t *testing.T) {
	cov := ScaleCovariance([2][2]float64{{1, 0.5}, {0.5, 2}}, 4)
	assert.Equal(t, [2][2]float64{{4, 2}, {2, 8}}, cov)

	seq, err := Contour([2]float64{}, ScaleCovariance([2][2]float64{{1, 0}, {0, 1}}, 4))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, seq.Width(), 1e-9)
}

func TestOverlay(t *testing.T) {
	components := []latent.GaussianComponent{
		{Mean: [2]float64{0, 0}, Covariance: [2][2]float64{{1, 0}, {0, 1}}, Weight: 0.25},
		{Mean: [2]float64{5, 5}, Covariance: [2][2]float64{{4, 0}, {0, 1}}, Weight: 0.75},
	}

	contours, err := Overlay(components)
	require.NoError(t, err)
	require.Len(t, contours, 2)
	assert.Equal(t, 1, contours[1].Component)
	assert.Equal(t, 0.75, contours[1].Weight)
	assert.Equal(t, latent.Point{X: 5, Y: 5}, contours[1].Contour.Mean())

	components = append(components, latent.GaussianComponent{Covariance: [2][2]float64{{1, 2}, {0, 1}}})
	_, err = Overlay(components)
	require.ErrorIs(t, err, latent.ErrValidation)
	assert.Contains(t, err.Error(), "component 2")
}
