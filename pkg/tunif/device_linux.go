//go:build linux

// Package tunif provides the two I/O endpoints fed into the relay: the
// kernel TUN interface carrying decapsulated traffic and the UDP socket
// carrying client traffic.
package tunif

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/tun"
)

// Device is a kernel TUN interface. ReadPacket blocks until a frame is
// available; it is intended for a single reader goroutine (the relay's
// tun-side producer, which also services the overflow drain). WritePacket
// may be called from a different goroutine.
type Device struct {
	dev  tun.Device
	name string
	mtu  int

	// Batch-of-one read bookkeeping, reused across calls by the single
	// reader.
	readBufs  [][]byte
	readSizes []int
}

// CreateDevice creates a TUN interface, assigns addr to it and brings the
// link up.
func CreateDevice(name string, addr netip.Prefix, mtu int) (*Device, error) {
	dev, err := tun.CreateTUN(name, mtu)
	if err != nil {
		return nil, fmt.Errorf("failed to create TUN interface: %w", err)
	}

	realName, err := dev.Name()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to get TUN interface name: %w", err)
	}

	link, err := netlink.LinkByName(realName)
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to get link by name: %w", err)
	}

	naddr := &netlink.Addr{
		IPNet: &net.IPNet{
			IP:   addr.Addr().AsSlice(),
			Mask: net.CIDRMask(addr.Bits(), len(addr.Addr().AsSlice())*8),
		},
	}
	if err := netlink.AddrAdd(link, naddr); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("could not assign address to interface %s: %w", realName, err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("could not bring interface %s up: %w", realName, err)
	}

	return &Device{
		dev:       dev,
		name:      realName,
		mtu:       mtu,
		readBufs:  make([][]byte, 1),
		readSizes: make([]int, 1),
	}, nil
}

// Name returns the interface name (e.g. "tsps0").
func (d *Device) Name() string {
	return d.name
}

// MTU returns the device MTU.
func (d *Device) MTU() int {
	return d.mtu
}

// ReadPacket blocks until one frame is read into buf and returns its
// length. Interrupted syscalls and zero-length reads are retried; any other
// failure (including a closed device) is fatal to the relay.
func (d *Device) ReadPacket(buf []byte) (int, error) {
	d.readBufs[0] = buf
	for {
		n, err := d.dev.Read(d.readBufs, d.readSizes, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return 0, err
		}
		if n == 0 || d.readSizes[0] == 0 {
			continue
		}
		return d.readSizes[0], nil
	}
}

// WritePacket writes one frame to the device.
func (d *Device) WritePacket(pkt []byte) error {
	if _, err := d.dev.Write([][]byte{pkt}, 0); err != nil {
		return fmt.Errorf("failed to write to TUN: %w", err)
	}
	return nil
}

// Close closes the device, unblocking any pending ReadPacket.
func (d *Device) Close() error {
	return d.dev.Close()
}
