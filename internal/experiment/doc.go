// Package experiment persists experiment snapshots: the registry, query
// pool, active model and optimisation settings of one optimisation campaign.
//
// Two stores are provided. SQLiteStore keeps experiments in relational
// tables; FileStore keeps one zstd-compressed JSON document per experiment.
// Service wraps either with tracing and metrics.
package experiment
