// Package tundev adapts golang.zx2c4.com/wireguard/tun's batch-
// oriented Device interface to signsky's single-packet clear-side
// stage loop.
//
// The original opens a platform TUN file descriptor directly
// (signsky_platform_tundev_read/write in the per-OS source files,
// including the Darwin utun variant that prefixes every datagram with
// a 4-byte address-family header). wireguard-go's tun package already
// implements that same platform split internally, so this package is
// a thin adapter rather than a reimplementation of the platform
// backends.
package tundev

import (
	"fmt"

	"golang.zx2c4.com/wireguard/tun"

	"github.com/signsky/signsky/internal/packet"
)

// Device reads and writes one plaintext IP datagram at a time against
// an underlying tun.Device.
type Device struct {
	dev tun.Device
}

// Open creates (or attaches to) the named TUN interface at the given
// MTU. On Linux name is used as given; on Darwin wireguard-go maps it
// onto the next available /dev/utunN.
func Open(name string, mtu int) (*Device, error) {
	dev, err := tun.CreateTUN(name, mtu)
	if err != nil {
		return nil, fmt.Errorf("tundev: create %q: %w", name, err)
	}
	return &Device{dev: dev}, nil
}

// Close releases the underlying TUN device.
func (d *Device) Close() error {
	return d.dev.Close()
}

// ReadPacket blocks until one datagram is available and stores it,
// unframed, into pkt's data region, setting pkt.Length.
func (d *Device) ReadPacket(pkt *packet.Packet) error {
	bufs := [1][]byte{pkt.Buf[packet.HeadLen:]}
	sizes := [1]int{0}

	n, err := d.dev.Read(bufs[:], sizes[:], 0)
	if err != nil {
		return fmt.Errorf("tundev: read: %w", err)
	}
	if n == 0 {
		pkt.Length = 0
		return nil
	}

	pkt.Length = sizes[0]
	return nil
}

// WritePacket writes pkt's current plaintext payload (pkt.Data()) out
// to the tunnel.
func (d *Device) WritePacket(pkt *packet.Packet) error {
	bufs := [1][]byte{pkt.Data()}

	if _, err := d.dev.Write(bufs[:], 0); err != nil {
		return fmt.Errorf("tundev: write: %w", err)
	}
	return nil
}
