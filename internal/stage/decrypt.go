package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/signsky/signsky/internal/esp"
	"github.com/signsky/signsky/internal/keying"
	"github.com/signsky/signsky/internal/packet"
	"github.com/signsky/signsky/internal/replay"
	"github.com/signsky/signsky/internal/ring"
	"github.com/signsky/signsky/internal/state"
)

// DecryptIO names the collaborators the decrypt stage needs: the
// shared packet pool, shared tunnel state for peer-address learning
// and RX accounting, the handoff cell a fresh RX key arrives through,
// the strict anti-replay window, the queue of ESP datagrams waiting
// to be opened, and the queue opened plaintext is pushed to for
// delivery back out the tunnel.
type DecryptIO struct {
	Pool   *packet.Pool
	Shared *state.Shared
	RXCell *keying.Cell
	Replay *replay.Window

	FromCrypto *ring.Ring[packet.Packet]
	ToClear    *ring.Ring[packet.Packet]
}

// RunDecrypt opens queued ESP datagrams against the two-slot RX
// security association set, installing freshly published keys as
// they arrive and promoting a second slot into the first once it has
// verified its first packet. Like RunEncrypt it is purely ring-to-
// ring and runs as a single goroutine.
func RunDecrypt(ctx context.Context, io *DecryptIO) error {
	var slots keying.RXSlots

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if installed, err := slots.Install(io.RXCell); err != nil {
			return err
		} else if installed && slots.Slot2 == nil {
			io.Shared.SetRXSPI(slots.Slot1.SPI)
		}

		pkt := io.FromCrypto.Dequeue()
		if pkt == nil {
			time.Sleep(idleSleep)
			continue
		}

		if err := decryptAndDeliver(io, &slots, pkt); err != nil {
			slog.Debug("stage: decrypt dropped packet", "error", err)
			io.Pool.Put(pkt)
		}
	}
}

func decryptAndDeliver(io *DecryptIO, slots *keying.RXSlots, pkt *packet.Packet) error {
	if pkt.Length < packet.TailLen {
		return esp.ErrShortPacket
	}

	hdr := esp.ParseHeader(pkt)
	if !io.Replay.Check(hdr.PN) {
		return errReplayed
	}

	var sa *esp.SA
	promote := false

	switch {
	case slots.Slot1 != nil && hdr.SPI == slots.Slot1.SPI:
		sa = slots.Slot1
	case slots.Slot2 != nil && hdr.SPI == slots.Slot2.SPI:
		sa = slots.Slot2
		promote = true
	default:
		return esp.ErrSPIMismatch
	}

	if err := esp.Decrypt(pkt, sa, hdr); err != nil {
		return err
	}

	io.Replay.Update(hdr.PN)
	if promote {
		slots.Promote()
		io.Shared.SetRXSPI(slots.Slot1.SPI)
	}

	if pkt.Addr.IsValid() && pkt.Addr != io.Shared.Peer() {
		io.Shared.SetPeer(pkt.Addr)
	}
	io.Shared.RecordRX(pkt.Length)

	pkt.Target = packet.StageClear
	if !io.ToClear.Enqueue(pkt) {
		return errQueueFull
	}

	return nil
}
