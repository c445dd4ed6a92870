package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signsky/signsky/internal/packet"
	"github.com/signsky/signsky/internal/ring"
)

// ClearIO names the collaborators the clear-side stage needs: the
// tunnel device, the shared packet pool, the queue it hands newly
// read plaintext to for encryption, and the queue it drains to write
// decrypted plaintext back out to the tunnel.
type ClearIO struct {
	Tun tunDevice

	Pool *packet.Pool

	ToEncrypt   *ring.Ring[packet.Packet]
	FromDecrypt *ring.Ring[packet.Packet]
}

// RunClear reads plaintext datagrams off the tunnel and queues them
// for encryption, and in parallel drains decrypted datagrams back out
// to the tunnel. It returns once ctx is cancelled and both directions
// have unwound, or the tunnel device fails outright.
func RunClear(ctx context.Context, io *ClearIO) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return clearRead(gctx, io) })
	g.Go(func() error { return clearWrite(gctx, io) })
	g.Go(func() error {
		<-gctx.Done()
		io.Tun.Close()
		return nil
	})

	return g.Wait()
}

func clearRead(ctx context.Context, io *ClearIO) error {
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

		if err := io.Tun.ReadPacket(target); err != nil {
			if pkt != nil {
				io.Pool.Put(pkt)
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stage: clear read: %w", err)
		}

		if pkt == nil || target.Length == 0 {
			if pkt != nil {
				io.Pool.Put(pkt)
			}
			continue
		}

		target.Target = packet.StageEncrypt
		if !io.ToEncrypt.Enqueue(target) {
			io.Pool.Put(target)
		}
	}
}

func clearWrite(ctx context.Context, io *ClearIO) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		pkt := io.FromDecrypt.Dequeue()
		if pkt == nil {
			time.Sleep(idleSleep)
			continue
		}

		err := io.Tun.WritePacket(pkt)
		io.Pool.Put(pkt)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("stage: clear write failed", "error", err)
		}
	}
}
