// Package workspace holds the live state of open experiments.
//
// A Workspace serialises user mutations under one lock. Re-embedding after a
// model switch and optimisation runs happen outside that lock and are
// committed afterwards: a model switch overtaken by a newer one is discarded,
// and one overtaken by user edits is rebased onto them. Every committed
// change bumps the state version and publishes a notify.Event.
package workspace
