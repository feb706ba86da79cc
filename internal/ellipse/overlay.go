package ellipse

import (
	"fmt"

	"github.com/fyrsmithlabs/latentd/internal/latent"
)

// ComponentContour pairs a mixture component with its contour.
type ComponentContour struct {
	Component int
	Weight    float64
	Contour   *Sequence
}

// Overlay computes one contour per mixture component, in component order.
func Overlay(components []latent.GaussianComponent, opts ...Option) ([]ComponentContour, error) {
	out := make([]ComponentContour, 0, len(components))
	for i, c := range components {
		seq, err := Contour(c.Mean, c.Covariance, opts...)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		out = append(out, ComponentContour{Component: i, Weight: c.Weight, Contour: seq})
	}
	return out, nil
}
