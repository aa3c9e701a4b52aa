// Package relay implements the packet-relay core of the tunnel broker: two
// bounded ring queues, one per direction, that decouple blocking reads from
// the tunnel device and the client-facing socket from the packet processing
// callbacks that consume them.
package relay

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// Slot is one preallocated packet buffer in a Ring. Buf is sized to the MTU
// and reused in place for the lifetime of the ring; N is the length of the
// packet currently held. The socket-side ring records the datagram sender in
// Addr; the tun-side ring leaves it zero.
type Slot struct {
	Buf  []byte
	N    int
	Addr netip.AddrPort
}

// Ring is a fixed-capacity circular queue of packet slots shared between
// exactly one producer goroutine and one consumer goroutine. The producer
// alone moves the write cursor, the consumer alone moves the read cursor;
// the mutex protects only the cursors, never the slot payloads, because a
// slot is owned exclusively by the producer between Reserve and Publish and
// by the consumer after Claim.
//
// One slot is kept permanently free so that fullness and emptiness can be
// told apart by cursor comparison alone: full when write == read, empty when
// (read+1) mod N == write. A ring of size N therefore holds at most N-1
// packets.
type Ring struct {
	mu    sync.Mutex
	slots []Slot
	write int // next slot to fill; advanced by Publish
	read  int // last slot consumed; advanced by Claim

	notify chan struct{}
	drops  atomic.Uint64
}

// NewRing returns a ring of size slots, each with an mtu-sized buffer.
// Usable capacity is size-1.
func NewRing(size, mtu int) *Ring {
	if size < 2 {
		panic("relay: ring size must be at least 2")
	}
	slots := make([]Slot, size)
	for i := range slots {
		slots[i].Buf = make([]byte, mtu)
	}
	return &Ring{
		slots:  slots,
		read:   size - 1,
		notify: make(chan struct{}, 1),
	}
}

// Capacity returns the number of packets the ring can hold (size-1).
func (r *Ring) Capacity() int {
	return len(r.slots) - 1
}

// Full reports whether the ring has no free slot.
func (r *Ring) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full()
}

// Empty reports whether the ring has no published packet.
func (r *Ring) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.empty()
}

func (r *Ring) full() bool {
	return r.write == r.read
}

func (r *Ring) empty() bool {
	return (r.read+1)%len(r.slots) == r.write
}

// Slot returns the slot at index i. The caller must own the index, either by
// holding an unreleased Reserve (producer) or a fresh Claim (consumer).
func (r *Ring) Slot(i int) *Slot {
	return &r.slots[i]
}

// Reserve claims the slot at the write cursor for the producer to fill.
// It returns false when the ring is full, in which case the caller must not
// write and should fall back to the overflow drain. The cursor itself is not
// advanced until Publish, so the consumer cannot observe the slot while it
// is being filled.
func (r *Ring) Reserve() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full() {
		return -1, false
	}
	return r.write, true
}

// Publish commits the slot handed out by the last Reserve and wakes the
// consumer. It must be called only after the slot's payload and length have
// been fully written.
func (r *Ring) Publish() {
	r.mu.Lock()
	r.write = (r.write + 1) % len(r.slots)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Claim advances the read cursor and returns the index of the next published
// slot, or false if the ring is empty. The consumer owns the returned slot
// until its next Claim.
func (r *Ring) Claim() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.empty() {
		return -1, false
	}
	r.read = (r.read + 1) % len(r.slots)
	return r.read, true
}

// WaitNonEmpty blocks until a packet is published, the poll interval
// expires, or ctx is cancelled. A return with a nil error does not guarantee
// the ring is non-empty; the caller's loop re-checks via Claim. The poll
// bound guards against missed wakeups and gives the consumer a periodic
// liveness tick even without traffic.
func (r *Ring) WaitNonEmpty(ctx context.Context, pollInterval time.Duration) error {
	if !r.Empty() {
		return nil
	}

	t := time.NewTimer(pollInterval)
	defer t.Stop()

	select {
	case <-r.notify:
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Drops returns the number of packets discarded by the overflow drain while
// this ring was full.
func (r *Ring) Drops() uint64 {
	return r.drops.Load()
}

func (r *Ring) noteDrop() {
	r.drops.Add(1)
}
