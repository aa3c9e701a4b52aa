package relay

import (
	"context"
	"time"
)

// consumer drains published slots into a delivery callback. The callback
// runs synchronously but outside the ring lock, so a slow callback delays
// only its own direction's delivery; the producer keeps filling (and, once
// the ring is full, draining) independently.
type consumer struct {
	name    string
	ring    *Ring
	poll    time.Duration
	deliver func(s *Slot)
}

func newConsumer(name string, ring *Ring, poll time.Duration, deliver func(s *Slot)) *consumer {
	return &consumer{
		name:    name,
		ring:    ring,
		poll:    poll,
		deliver: deliver,
	}
}

func (c *consumer) run(ctx context.Context) error {
	for {
		if err := c.ring.WaitNonEmpty(ctx, c.poll); err != nil {
			return err
		}
		i, ok := c.ring.Claim()
		if !ok {
			// Timed or spurious wake with nothing published.
			continue
		}
		c.deliver(c.ring.Slot(i))
	}
}
