package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signsky/signsky/internal/esp"
	"github.com/signsky/signsky/internal/packet"
	"github.com/signsky/signsky/internal/replay"
	"github.com/signsky/signsky/internal/ring"
	"github.com/signsky/signsky/internal/state"
)

// CryptoIO names the collaborators the crypto-side stage needs: the
// peer UDP socket, the shared packet pool, the anti-replay window used
// for the permissive pre-check, shared tunnel state for peer-address
// learning and TX accounting, the queue fresh ESP datagrams are
// pushed to for decryption, and the queue it drains to send sealed
// datagrams out to the peer.
type CryptoIO struct {
	Sock peerSocket

	Pool   *packet.Pool
	Shared *state.Shared
	Replay *replay.Window

	ToDecrypt   *ring.Ring[packet.Packet]
	FromEncrypt *ring.Ring[packet.Packet]

	// QueueDepth widens the crypto-side anti-replay pre-check so that
	// packets still sitting in ToDecrypt aren't falsely rejected. It
	// is nominally ToDecrypt's capacity minus one.
	QueueDepth uint64
}

// RunCrypto receives ESP datagrams off the peer socket and queues the
// ones that pass the permissive replay pre-check for decryption, and
// in parallel drains freshly sealed datagrams out to the peer. It
// returns once ctx is cancelled and both directions have unwound, or
// the socket fails outright.
func RunCrypto(ctx context.Context, io *CryptoIO) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return cryptoRecv(gctx, io) })
	g.Go(func() error { return cryptoSend(gctx, io) })
	g.Go(func() error {
		<-gctx.Done()
		io.Sock.Close()
		return nil
	})

	return g.Wait()
}

func cryptoRecv(ctx context.Context, io *CryptoIO) error {
	var scratch packet.Packet

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt := io.Pool.Get()
		target := pkt
		if target == nil {
			target = &scratch
		}

		if err := io.Sock.RecvInto(target); err != nil {
			if pkt != nil {
				io.Pool.Put(pkt)
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stage: crypto recv: %w", err)
		}

		if pkt == nil || target.Length < packet.TailLen {
			if pkt != nil {
				io.Pool.Put(pkt)
			}
			continue
		}

		hdr := esp.ParseHeader(target)
		if !io.Replay.PreCheck(hdr.PN, io.QueueDepth) {
			io.Pool.Put(target)
			continue
		}

		target.Target = packet.StageDecrypt
		if !io.ToDecrypt.Enqueue(target) {
			io.Pool.Put(target)
		}
	}
}

func cryptoSend(ctx context.Context, io *CryptoIO) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt := io.FromEncrypt.Dequeue()
		if pkt == nil {
			time.Sleep(idleSleep)
			continue
		}

		peer := io.Shared.Peer()
		if !peer.IsValid() {
			io.Pool.Put(pkt)
			continue
		}

		n := len(pkt.Wire())
		err := io.Sock.SendTo(pkt, peer)
		io.Pool.Put(pkt)

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A single oversized or unreachable datagram is not fatal
			// to the tunnel; the original treats EMSGSIZE/EHOSTUNREACH
			// from sendto the same way.
			slog.Warn("stage: crypto send failed", "error", err)
			continue
		}

		io.Shared.RecordTX(n)
	}
}
