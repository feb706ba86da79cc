// Package ellipse turns a Gaussian mean and 2×2 covariance into an ordered
// sequence of points tracing its one-standard-deviation contour.
//
// The contour is derived from the eigen-decomposition of the covariance:
// the larger eigenvalue gives the major diameter (width = 2√λ1), the smaller
// one the minor diameter (height = 2√λ2), and the major eigenvector's angle
// gives the rotation θ. No confidence-level scaling is applied; callers that
// want a different level pre-scale the covariance (see ScaleCovariance).
//
// Contours are lazy: points are computed on demand and the sequence can be
// walked any number of times with identical results.
package ellipse
