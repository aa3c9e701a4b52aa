package tunif

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Socket is the UDP endpoint carrying encapsulated traffic to and from
// remote clients. ReadDatagram is intended for a single reader goroutine
// (the relay's sock-side producer); WriteDatagram may be called from a
// different goroutine.
type Socket struct {
	conn *net.UDPConn
}

// ListenSocket binds a UDP socket on addr ("ip:port").
func ListenSocket(addr string) (*Socket, error) {
	bindTo, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bind address: %w", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{
		IP:   bindTo.Addr().AsSlice(),
		Port: int(bindTo.Port()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	return &Socket{conn: conn}, nil
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// ReadDatagram blocks until one datagram is read into buf and returns its
// length and the sender address. Interrupted syscalls and zero-length
// datagrams are retried; any other failure is fatal to the relay.
func (s *Socket) ReadDatagram(buf []byte) (int, netip.AddrPort, error) {
	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return 0, netip.AddrPort{}, err
		}
		if n == 0 {
			continue
		}
		return n, addr, nil
	}
}

// WriteDatagram sends pkt to the given client endpoint.
func (s *Socket) WriteDatagram(pkt []byte, to netip.AddrPort) error {
	if _, err := s.conn.WriteToUDPAddrPort(pkt, to); err != nil {
		return fmt.Errorf("failed to write to socket: %w", err)
	}
	return nil
}

// Close closes the socket, unblocking any pending ReadDatagram.
func (s *Socket) Close() error {
	return s.conn.Close()
}
