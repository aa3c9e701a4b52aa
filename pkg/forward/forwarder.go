// Package forward implements the processing callbacks behind the relay: a
// raw-IP-in-UDP passthrough keyed by the inner packet addresses. Frames
// read from the tunnel device are sent to the client endpoint owning their
// destination address; client datagrams are written to the device, and the
// sender's endpoint is refreshed so replies follow the client across NAT
// rebinds.
package forward

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
)

const (
	ipv4HeaderLen = 20
	ipv6HeaderLen = 40
)

// TunWriter is the device-side write half.
type TunWriter interface {
	WritePacket(pkt []byte) error
}

// SockWriter is the socket-side write half.
type SockWriter interface {
	WriteDatagram(pkt []byte, to netip.AddrPort) error
}

// Forwarder routes packets between the two write halves. Peers are declared
// up front (inner address -> endpoint); their endpoints may start unset and
// are learned, and thereafter refreshed, from observed traffic. Undeclared
// inner addresses are never learned, so a stray datagram cannot claim a
// route.
type Forwarder struct {
	tun  TunWriter
	sock SockWriter

	mu    sync.RWMutex
	peers map[netip.Addr]netip.AddrPort
}

// New creates a forwarder over the given write halves and initial peer
// table.
func New(tun TunWriter, sock SockWriter, peers map[netip.Addr]netip.AddrPort) *Forwarder {
	p := make(map[netip.Addr]netip.AddrPort, len(peers))
	for addr, ep := range peers {
		p[addr] = ep
	}
	return &Forwarder{
		tun:   tun,
		sock:  sock,
		peers: p,
	}
}

// HandleTunPacket relays one device frame to the client owning its
// destination address. Frames with no routable destination are dropped
// silently; that is a routing miss, not a relay fault.
func (f *Forwarder) HandleTunPacket(pkt []byte) {
	dst, ok := dstAddr(pkt)
	if !ok {
		slog.Debug("Dropping unroutable frame", slog.Int("len", len(pkt)))
		return
	}

	f.mu.RLock()
	ep, ok := f.peers[dst]
	f.mu.RUnlock()
	if !ok || !ep.IsValid() {
		slog.Debug("No endpoint for destination", slog.String("ip", dst.String()))
		return
	}

	if err := f.sock.WriteDatagram(pkt, ep); err != nil {
		slog.Error("Failed to send to client", slog.String("endpoint", ep.String()), slog.Any("error", err))
	}
}

// HandleSockPacket writes one client datagram to the device and refreshes
// the sending peer's endpoint.
func (f *Forwarder) HandleSockPacket(src netip.AddrPort, pkt []byte) {
	if inner, ok := srcAddr(pkt); ok {
		f.refresh(inner, src)
	}

	if err := f.tun.WritePacket(pkt); err != nil {
		slog.Error("Failed to write to TUN", slog.Any("error", err))
	}
}

// Endpoint returns the current endpoint for a peer's inner address.
func (f *Forwarder) Endpoint(inner netip.Addr) (netip.AddrPort, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ep, ok := f.peers[inner]
	return ep, ok && ep.IsValid()
}

func (f *Forwarder) refresh(inner netip.Addr, ep netip.AddrPort) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.peers[inner]
	if !ok || old == ep {
		return
	}
	f.peers[inner] = ep
	slog.Info("Peer endpoint updated",
		slog.String("peer", inner.String()),
		slog.String("endpoint", ep.String()))
}

// ParsePeers converts a configured inner-address -> "ip:port" table. An
// empty endpoint declares a peer whose endpoint will be learned from its
// first datagram.
func ParsePeers(peers map[string]string) (map[netip.Addr]netip.AddrPort, error) {
	out := make(map[netip.Addr]netip.AddrPort, len(peers))
	for inner, endpoint := range peers {
		addr, err := netip.ParseAddr(inner)
		if err != nil {
			return nil, fmt.Errorf("invalid peer address %q: %w", inner, err)
		}
		var ep netip.AddrPort
		if endpoint != "" {
			ep, err = netip.ParseAddrPort(endpoint)
			if err != nil {
				return nil, fmt.Errorf("invalid peer endpoint %q: %w", endpoint, err)
			}
		}
		out[addr] = ep
	}
	return out, nil
}

func dstAddr(pkt []byte) (netip.Addr, bool) {
	if len(pkt) == 0 {
		return netip.Addr{}, false
	}
	switch pkt[0] >> 4 {
	case 4:
		if len(pkt) < ipv4HeaderLen {
			return netip.Addr{}, false
		}
		return netip.AddrFrom4([4]byte(pkt[16:20])), true
	case 6:
		if len(pkt) < ipv6HeaderLen {
			return netip.Addr{}, false
		}
		return netip.AddrFrom16([16]byte(pkt[24:40])), true
	}
	return netip.Addr{}, false
}

func srcAddr(pkt []byte) (netip.Addr, bool) {
	if len(pkt) == 0 {
		return netip.Addr{}, false
	}
	switch pkt[0] >> 4 {
	case 4:
		if len(pkt) < ipv4HeaderLen {
			return netip.Addr{}, false
		}
		return netip.AddrFrom4([4]byte(pkt[12:16])), true
	case 6:
		if len(pkt) < ipv6HeaderLen {
			return netip.Addr{}, false
		}
		return netip.AddrFrom16([16]byte(pkt[8:24])), true
	}
	return netip.Addr{}, false
}
