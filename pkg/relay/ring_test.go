package relay

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingEmptyAfterInit(t *testing.T) {
	r := NewRing(32, 1500)

	assert.True(t, r.Empty())
	assert.False(t, r.Full())
	assert.Equal(t, 31, r.Capacity())
	assert.EqualValues(t, 0, r.Drops())

	_, ok := r.Claim()
	assert.False(t, ok)
}

// A ring of size 32 holds exactly 31 packets; the 32nd reservation must be
// refused rather than overwrite unconsumed data.
func TestRingFillToCapacity(t *testing.T) {
	const size = 32
	r := NewRing(size, 64)

	for seq := 0; seq < size-1; seq++ {
		i, ok := r.Reserve()
		require.True(t, ok, "reservation %d should succeed", seq)

		s := r.Slot(i)
		binary.BigEndian.PutUint32(s.Buf, uint32(seq))
		s.N = 4
		r.Publish()

		assert.False(t, r.Empty())
	}

	assert.True(t, r.Full())

	_, ok := r.Reserve()
	assert.False(t, ok, "reservation beyond capacity must be refused")

	for seq := 0; seq < size-1; seq++ {
		i, ok := r.Claim()
		require.True(t, ok)

		s := r.Slot(i)
		require.Equal(t, 4, s.N)
		assert.EqualValues(t, seq, binary.BigEndian.Uint32(s.Buf[:s.N]), "claims must be FIFO")
	}

	assert.True(t, r.Empty())
	assert.False(t, r.Full())
}

// Interleaved produce/consume must preserve FIFO order across cursor
// wraparound.
func TestRingFIFOAcrossWraparound(t *testing.T) {
	r := NewRing(4, 64)

	next := uint32(0)
	expect := uint32(0)

	publish := func() bool {
		i, ok := r.Reserve()
		if !ok {
			return false
		}
		s := r.Slot(i)
		binary.BigEndian.PutUint32(s.Buf, next)
		s.N = 4
		r.Publish()
		next++
		return true
	}
	claim := func() bool {
		i, ok := r.Claim()
		if !ok {
			return false
		}
		s := r.Slot(i)
		require.Equal(t, expect, binary.BigEndian.Uint32(s.Buf[:s.N]))
		expect++
		return true
	}

	// A few full cycles, then a lopsided interleaving.
	for round := 0; round < 5; round++ {
		for publish() {
		}
		for claim() {
		}
	}
	for i := 0; i < 100; i++ {
		publish()
		if i%3 == 0 {
			claim()
		}
		if i%7 == 0 {
			claim()
		}
	}
	for claim() {
	}

	require.Equal(t, next, expect, "every published packet must be claimed exactly once")
}

// A publish that happens shortly after the consumer starts waiting must wake
// it within the same wait cycle, not after the full poll interval.
func TestRingWaitWakesOnPublish(t *testing.T) {
	r := NewRing(32, 64)

	go func() {
		time.Sleep(100 * time.Millisecond)
		i, ok := r.Reserve()
		if !ok {
			panic("reserve failed on empty ring")
		}
		r.Slot(i).N = 1
		r.Publish()
	}()

	start := time.Now()
	require.NoError(t, r.WaitNonEmpty(context.Background(), time.Second))
	elapsed := time.Since(start)

	_, ok := r.Claim()
	require.True(t, ok, "the published packet must be claimable in the same wait cycle")
	assert.Less(t, elapsed, time.Second, "wait should return on the publish signal, not the poll bound")
}

func TestRingWaitPollExpiry(t *testing.T) {
	r := NewRing(4, 64)

	start := time.Now()
	require.NoError(t, r.WaitNonEmpty(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// Timeout return defers the emptiness recheck to the caller.
	_, ok := r.Claim()
	assert.False(t, ok)
}

func TestRingWaitReturnsImmediatelyWhenNonEmpty(t *testing.T) {
	r := NewRing(4, 64)
	i, ok := r.Reserve()
	require.True(t, ok)
	r.Slot(i).N = 1
	r.Publish()

	start := time.Now()
	require.NoError(t, r.WaitNonEmpty(context.Background(), time.Minute))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRingWaitCancellation(t *testing.T) {
	r := NewRing(4, 64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.WaitNonEmpty(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
