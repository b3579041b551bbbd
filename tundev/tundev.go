//go:build linux

// Package tundev opens a Linux TUN device and exposes it as a blocking
// io.ReadWriteCloser carrying raw IPv4 datagrams.
package tundev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Device is a layer-3 point-to-point tunnel interface. Reads and writes
// carry whole IPv4 datagrams with no additional framing, since it is
// opened with IFF_NO_PI.
type Device struct {
	fd   int
	name string
}

// Open creates or attaches to the TUN interface named name. An empty
// name lets the kernel pick one (e.g. "tun0").
func Open(name string) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, fmt.Errorf("tundev: name %q too long", name)
	}
	fd, err := unix.Open("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tundev: open /dev/net/tun: %w", err)
	}
	var ifr ifreq
	copy(ifr.name[:], name)
	ifr.flags = unix.IFF_TUN | unix.IFF_NO_PI
	if err := ioctl(fd, unix.TUNSETIFF, &ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tundev: TUNSETIFF: %w", err)
	}
	return &Device{fd: fd, name: cString(ifr.name[:])}, nil
}

// Name returns the kernel-assigned interface name.
func (d *Device) Name() string { return d.name }

// Read blocks until one IPv4 datagram is available and copies it into b.
func (d *Device) Read(b []byte) (int, error) {
	return unix.Read(d.fd, b)
}

// Write sends one IPv4 datagram to the tunnel.
func (d *Device) Write(b []byte) (int, error) {
	return unix.Write(d.fd, b)
}

// Close releases the underlying file descriptor. A goroutine already
// blocked in Read is not woken by Close; it stays blocked until a
// datagram arrives.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
