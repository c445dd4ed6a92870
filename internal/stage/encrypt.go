package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/signsky/signsky/internal/esp"
	"github.com/signsky/signsky/internal/keying"
	"github.com/signsky/signsky/internal/packet"
	"github.com/signsky/signsky/internal/ring"
	"github.com/signsky/signsky/internal/state"
)

// EncryptIO names the collaborators the encrypt stage needs: the
// shared packet pool, shared tunnel state to record the active TX
// SPI for status queries, the handoff cell a fresh TX key arrives
// through, the queue of plaintext waiting to be sealed, and the queue
// sealed datagrams are pushed to for transmission.
type EncryptIO struct {
	Pool   *packet.Pool
	Shared *state.Shared
	TXCell *keying.Cell

	FromClear *ring.Ring[packet.Packet]
	ToCrypto  *ring.Ring[packet.Packet]
}

// RunEncrypt seals queued plaintext under the currently installed TX
// security association, installing a freshly published one whenever
// the keying cell has one pending. It is purely ring-to-ring, so it
// runs as a single goroutine with no blocking I/O of its own.
func RunEncrypt(ctx context.Context, io *EncryptIO) error {
	var sa *esp.SA

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if spi, secret, ok, err := io.TXCell.Take(); err != nil {
			return err
		} else if ok {
			next, derr := keying.DeriveSA(keying.DirectionTX, spi, secret)
			if derr != nil {
				return derr
			}
			sa = next
			io.Shared.SetTXSPI(spi)
			slog.Info("stage: tx security association installed", "spi", spi)
		}

		pkt := io.FromClear.Dequeue()
		if pkt == nil {
			time.Sleep(idleSleep)
			continue
		}

		if sa == nil {
			io.Pool.Put(pkt)
			continue
		}

		if err := esp.Encrypt(pkt, sa); err != nil {
			slog.Debug("stage: encrypt dropped packet", "error", err)
			io.Pool.Put(pkt)
			continue
		}

		pkt.Target = packet.StageCrypto
		if !io.ToCrypto.Enqueue(pkt) {
			io.Pool.Put(pkt)
		}
	}
}
