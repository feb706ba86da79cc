package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject root for experiment events.
const DefaultSubjectPrefix = "latentd"

// NATSPublisher publishes events as JSON on
// <prefix>.experiments.<experiment id>.<kind>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher on an established connection.
func NewNATSPublisher(nc *nats.Conn, prefix string) (*NATSPublisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(experimentID string, kind Kind) string {
	return fmt.Sprintf("%s.experiments.%s.%s", p.prefix, experimentID, kind)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev.ExperimentID, ev.Kind), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Kind, err)
	}
	return nil
}
