// Package stage implements the worker loops that move packets between
// the tunnel device, the UDP peer socket, and the encrypt/decrypt
// pipeline.
//
// The original ran one stage per forked process, each a tight
// poll()-then-drain-ring loop: block on one file descriptor with a
// short timeout, then drain whatever the ring queues hold before
// looping back to poll. A goroutine can't poll a blocking Read with a
// timeout the same way, so each stage that both blocks on I/O and
// drains a ring is split into two goroutines joined by
// golang.org/x/sync/errgroup — one per direction — plus a third that
// closes the blocking resource when its context is cancelled, so a
// blocked Read unblocks with an error instead of hanging past
// shutdown. This is the same shape gravitational-teleport's vnet
// package uses for its TUN<->network forwarding loop.
//
// The keying stage has no ring to drain — its entire job is "read a
// datagram, publish it to a cell" — so it is not a separate stage
// function here. ctlsock.KeyingSocket.Serve already does exactly
// that, and runs as its own goroutine from the supervisor.
package stage

import (
	"errors"
	"net/netip"
	"time"

	"github.com/signsky/signsky/internal/packet"
)

// tunDevice is the slice of tundev.Device's behavior the clear stage
// needs. Declaring it here instead of depending on *tundev.Device
// directly lets tests drive the stage with an in-memory fake instead
// of a real platform TUN device.
type tunDevice interface {
	ReadPacket(pkt *packet.Packet) error
	WritePacket(pkt *packet.Packet) error
	Close() error
}

// peerSocket is the slice of udpsock.Socket's behavior the crypto
// stage needs, for the same reason.
type peerSocket interface {
	RecvInto(pkt *packet.Packet) error
	SendTo(pkt *packet.Packet, addr netip.AddrPort) error
	Close() error
}

// idleSleep is how long a ring-draining goroutine sleeps after finding
// nothing to dequeue, mirroring the original's usleep(10) idle poll
// between batches.
const idleSleep = 10 * time.Microsecond

var (
	// errReplayed is returned internally when a packet number has
	// already been seen or has aged out of the anti-replay window. It
	// never escapes a stage's Run function; it is only logged when the
	// packet is dropped.
	errReplayed = errors.New("stage: replayed or too old packet number")

	// errQueueFull is returned internally when a packet survived
	// decryption but the downstream queue had no room for it.
	errQueueFull = errors.New("stage: downstream queue full")
)
