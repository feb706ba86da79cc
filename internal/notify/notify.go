// Package notify announces workspace changes to interested parties.
//
// Every committed change to an experiment's registry, query pool or model
// produces one Event. Publishers deliver events in-process (Broker) or over
// NATS (NATSPublisher); Multi fans one event out to several publishers.
package notify

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a change.
type Kind string

// Event kinds.
const (
	KindRegistry    Kind = "registry"
	KindPool        Kind = "pool"
	KindModel       Kind = "model"
	KindAcquisition Kind = "acquisition"
	KindSaved       Kind = "saved"
	KindClosed      Kind = "closed"
)

// Event is one committed change.
type Event struct {
	Kind         Kind      `json:"kind"`
	ExperimentID string    `json:"experiment_id"`
	Version      uint64    `json:"version"`
	At           time.Time `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Multi publishes to every publisher in order and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
