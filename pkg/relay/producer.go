package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
)

// PacketSource is a blocking source of tunnel-device frames. ReadPacket
// fills buf with one frame and returns its length. Implementations must
// retry transient conditions (interrupted syscall, zero-length read)
// internally and only ever return with n > 0 or a fatal error.
type PacketSource interface {
	ReadPacket(buf []byte) (int, error)
}

// DatagramSource is a blocking source of socket datagrams, with the same
// contract as PacketSource plus the sender address of each datagram.
type DatagramSource interface {
	ReadDatagram(buf []byte) (int, netip.AddrPort, error)
}

type readFunc func(buf []byte) (int, netip.AddrPort, error)

// producer fills ring slots from a blocking I/O source. When the ring is
// full it still performs exactly one blocking read into a scratch buffer
// and discards the result, so the kernel-side receive backlog stays drained
// instead of growing while the consumer catches up. The newest packet is
// lost; that is the backpressure policy, not an error.
type producer struct {
	name    string
	ring    *Ring
	read    readFunc
	scratch []byte
}

func newProducer(name string, ring *Ring, mtu int, read readFunc) *producer {
	return &producer{
		name:    name,
		ring:    ring,
		read:    read,
		scratch: make([]byte, mtu),
	}
}

func (p *producer) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		i, ok := p.ring.Reserve()
		if !ok {
			if _, _, err := p.read(p.scratch); err != nil {
				// A read failing because the source was closed during
				// shutdown is cancellation, not an I/O fault.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%s producer: drain: %w", p.name, err)
			}
			p.ring.noteDrop()
			slog.Debug("Ring full, packet dropped", slog.String("ring", p.name))
			continue
		}

		s := p.ring.Slot(i)
		n, addr, err := p.read(s.Buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s producer: read: %w", p.name, err)
		}
		s.N = n
		s.Addr = addr
		p.ring.Publish()
	}
}

func packetReader(src PacketSource) readFunc {
	return func(buf []byte) (int, netip.AddrPort, error) {
		n, err := src.ReadPacket(buf)
		return n, netip.AddrPort{}, err
	}
}

func datagramReader(src DatagramSource) readFunc {
	return src.ReadDatagram
}
