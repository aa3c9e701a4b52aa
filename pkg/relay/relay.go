package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMTU is the default packet slot size.
	DefaultMTU = 1500
	// DefaultQueueSize is the default ring size per direction. One slot is
	// always kept free, so the usable capacity is DefaultQueueSize-1.
	DefaultQueueSize = 32
	// DefaultPollInterval bounds how long a consumer sleeps without
	// re-checking its ring.
	DefaultPollInterval = time.Second
)

// TunHandler processes one frame read from the tunnel device. It is invoked
// synchronously, in FIFO order, and must not block indefinitely: a stalled
// handler stalls its direction's consumer and, once the ring fills, turns
// producer-side overflow drops on.
type TunHandler func(pkt []byte)

// SockHandler processes one datagram received on the socket together with
// its sender address. Same contract as TunHandler.
type SockHandler func(src netip.AddrPort, pkt []byte)

// Option configures a Relay.
type Option func(*options)

type options struct {
	mtu          int
	queueSize    int
	pollInterval time.Duration
}

func defaultOptions() *options {
	return &options{
		mtu:          DefaultMTU,
		queueSize:    DefaultQueueSize,
		pollInterval: DefaultPollInterval,
	}
}

// WithMTU sets the packet slot size.
func WithMTU(mtu int) Option {
	return func(o *options) {
		o.mtu = mtu
	}
}

// WithQueueSize sets the per-direction ring size. Usable capacity is one
// less than the configured size.
func WithQueueSize(size int) Option {
	return func(o *options) {
		o.queueSize = size
	}
}

// WithPollInterval sets the consumer wait bound.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// Stats reports per-direction overflow drop counts.
type Stats struct {
	TunDrops  uint64
	SockDrops uint64
}

// Relay moves packets between a tunnel device and a datagram socket through
// two independent bounded rings, one per direction. Each ring has exactly
// one producer (the blocking reader of its source) and one consumer (the
// caller-supplied handler); the two directions share no state and give no
// ordering guarantee relative to each other.
type Relay struct {
	opts *options

	tunRing  *Ring
	sockRing *Ring

	tunSrc  PacketSource
	sockSrc DatagramSource
	onTun   TunHandler
	onSock  SockHandler
}

// New creates a relay over the given sources and handlers. The rings and
// their slot buffers are allocated here, once, and live until the relay is
// discarded.
func New(tunSrc PacketSource, sockSrc DatagramSource, onTun TunHandler, onSock SockHandler, opts ...Option) *Relay {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Relay{
		opts:     options,
		tunRing:  NewRing(options.queueSize, options.mtu),
		sockRing: NewRing(options.queueSize, options.mtu),
		tunSrc:   tunSrc,
		sockSrc:  sockSrc,
		onTun:    onTun,
		onSock:   onSock,
	}
}

// Run starts the four relay loops and blocks until one of them fails or ctx
// is cancelled. The first fatal error cancels the remaining loops and is
// returned; the caller decides whether that ends the process. Producers
// block in source reads, so sources that implement io.Closer are closed on
// cancellation to unblock them.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return r.closeSources()
	})

	tunProducer := newProducer("tun", r.tunRing, r.opts.mtu, packetReader(r.tunSrc))
	sockProducer := newProducer("sock", r.sockRing, r.opts.mtu, datagramReader(r.sockSrc))

	tunConsumer := newConsumer("tun", r.tunRing, r.opts.pollInterval, func(s *Slot) {
		r.onTun(s.Buf[:s.N])
	})
	sockConsumer := newConsumer("sock", r.sockRing, r.opts.pollInterval, func(s *Slot) {
		r.onSock(s.Addr, s.Buf[:s.N])
	})

	slog.Info("Starting packet relay",
		slog.Int("queue_size", r.opts.queueSize),
		slog.Int("mtu", r.opts.mtu),
		slog.Duration("poll_interval", r.opts.pollInterval))

	g.Go(func() error { return tunProducer.run(ctx) })
	g.Go(func() error { return tunConsumer.run(ctx) })
	g.Go(func() error { return sockProducer.run(ctx) })
	g.Go(func() error { return sockConsumer.run(ctx) })

	return g.Wait()
}

func (r *Relay) closeSources() error {
	var errs []error
	if c, ok := r.tunSrc.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := r.sockSrc.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns the current overflow drop counts for both directions.
func (r *Relay) Stats() Stats {
	return Stats{
		TunDrops:  r.tunRing.Drops(),
		SockDrops: r.sockRing.Drops(),
	}
}
