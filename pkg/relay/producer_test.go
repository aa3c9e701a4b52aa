package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// feedRead returns a readFunc backed by channels so tests can hand the
// producer one packet (or one fatal error) at a time.
func feedRead(packets <-chan []byte, errs <-chan error) readFunc {
	return func(buf []byte) (int, netip.AddrPort, error) {
		select {
		case p := <-packets:
			return copy(buf, p), netip.AddrPort{}, nil
		case err := <-errs:
			return 0, netip.AddrPort{}, err
		}
	}
}

func seqPacket(seq uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, seq)
	return b
}

// With no consumer, a full ring must route every further read through the
// overflow drain: the packet is discarded, the drop counter advances, and
// the cursors stay where they are.
func TestProducerOverflowDrain(t *testing.T) {
	const size = 4
	ring := NewRing(size, 64)
	packets := make(chan []byte)
	errs := make(chan error)

	p := newProducer("tun", ring, 64, feedRead(packets, errs))

	var g errgroup.Group
	g.Go(func() error { return p.run(context.Background()) })

	for seq := 0; seq < size-1; seq++ {
		packets <- seqPacket(uint32(seq))
	}
	require.Eventually(t, ring.Full, time.Second, time.Millisecond)

	for i := 0; i < 2; i++ {
		packets <- seqPacket(99)
	}
	require.Eventually(t, func() bool { return ring.Drops() == 2 }, time.Second, time.Millisecond)

	// Drain must not have altered the queue state.
	assert.True(t, ring.Full())
	for seq := 0; seq < size-1; seq++ {
		i, ok := ring.Claim()
		require.True(t, ok)
		s := ring.Slot(i)
		assert.EqualValues(t, seq, binary.BigEndian.Uint32(s.Buf[:s.N]))
	}
	assert.True(t, ring.Empty())

	readErr := errors.New("device gone")
	errs <- readErr

	err := g.Wait()
	require.ErrorIs(t, err, readErr)
	require.ErrorContains(t, err, "tun producer")
}

// A fatal read error while a slot is reserved must surface without the slot
// ever being published.
func TestProducerFatalReadNotPublished(t *testing.T) {
	ring := NewRing(8, 64)
	packets := make(chan []byte)
	errs := make(chan error)

	p := newProducer("sock", ring, 64, feedRead(packets, errs))

	var g errgroup.Group
	g.Go(func() error { return p.run(context.Background()) })

	readErr := errors.New("recvfrom failed")
	errs <- readErr
	require.ErrorIs(t, g.Wait(), readErr)

	assert.True(t, ring.Empty(), "a slot reserved but never filled must not be claimable")
}

// The sender address captured by a datagram read must travel with its slot.
func TestProducerRecordsSenderAddress(t *testing.T) {
	ring := NewRing(8, 64)
	sender := netip.MustParseAddrPort("192.0.2.7:3653")

	reads := make(chan struct{})
	read := func(buf []byte) (int, netip.AddrPort, error) {
		_, ok := <-reads
		if !ok {
			return 0, netip.AddrPort{}, errors.New("closed")
		}
		return copy(buf, []byte("payload")), sender, nil
	}

	p := newProducer("sock", ring, 64, read)

	var g errgroup.Group
	g.Go(func() error { return p.run(context.Background()) })

	reads <- struct{}{}
	require.Eventually(t, func() bool { return !ring.Empty() }, time.Second, time.Millisecond)

	i, ok := ring.Claim()
	require.True(t, ok)
	s := ring.Slot(i)
	assert.Equal(t, sender, s.Addr)
	assert.Equal(t, []byte("payload"), s.Buf[:s.N])

	close(reads)
	require.Error(t, g.Wait())
}
