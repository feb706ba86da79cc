package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber channel capacity used when none is given.
const DefaultBuffer = 16

type subscriber struct {
	experimentID string
	ch           chan Event
}

// Broker fans events out to in-process subscribers. A subscriber that is not
// keeping up misses events rather than blocking the publisher.
type Broker struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBroker creates a broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for experimentID, or for every
// experiment when experimentID is empty. The cancel function unsubscribes
// and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(experimentID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscriber{experimentID: experimentID, ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
		})
	}
}

// Publish implements Publisher. It never blocks.
func (b *Broker) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.experimentID != "" && s.experimentID != ev.ExperimentID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				zap.String("experiment_id", ev.ExperimentID),
				zap.String("kind", string(ev.Kind)),
			)
		}
	}
	return nil
}

// Subscribers returns the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later subscriptions are closed at once.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		close(s.ch)
	}
	clear(b.subs)
	b.closed = true
}
