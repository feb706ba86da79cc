// Package latent holds the vocabulary shared by the latent-space engine:
// 2-D points, query candidates, Gaussian mixture components, the sequence
// alphabet and the error taxonomy used across registry, staging and
// reconciliation.
//
// # Error Taxonomy
//
//   - ErrValidation: malformed sequence alphabet, non-finite coordinate, empty input
//   - ErrUnknownKey: unknown record or column (see UnknownRecordError, UnknownColumnError)
//   - ErrStaleSession: embedding session no longer valid
//   - ErrConcurrencyStale: reconcile result superseded by a newer generation
//   - ErrService: any other collaborator failure (see ServiceError)
//
// Use errors.Is against the sentinels; typed errors carry the offending key.
package latent
