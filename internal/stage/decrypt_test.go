package stage

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/signsky/signsky/internal/esp"
	"github.com/signsky/signsky/internal/keying"
	"github.com/signsky/signsky/internal/packet"
	"github.com/signsky/signsky/internal/replay"
	"github.com/signsky/signsky/internal/ring"
	"github.com/signsky/signsky/internal/state"
)

func runDecryptStage(t *testing.T, io *DecryptIO) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunDecrypt(ctx, io) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunDecrypt did not stop after cancel")
		}
	})
}

func sealedFrom(t *testing.T, sa *esp.SA, addr netip.AddrPort, payload string) *packet.Packet {
	t.Helper()
	pkt := newPlaintext(payload)
	if err := esp.Encrypt(pkt, sa); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pkt.Addr = addr
	return pkt
}

func publishSecret(t *testing.T, cell *keying.Cell, spi uint32, fill byte) [keying.SecretLen]byte {
	t.Helper()
	var secret [keying.SecretLen]byte
	for i := range secret {
		secret[i] = fill + byte(i)
	}
	if err := cell.Publish(context.Background(), spi, secret); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return secret
}

func TestDecryptReorderWithinWindowAccepted(t *testing.T) {
	io := &DecryptIO{
		Pool:       packet.NewPool(8),
		Shared:     state.New(netip.MustParseAddrPort("10.0.0.1:5555")),
		RXCell:     &keying.Cell{},
		Replay:     &replay.Window{},
		FromCrypto: ring.New[packet.Packet](8),
		ToClear:    ring.New[packet.Packet](8),
	}

	secret := publishSecret(t, io.RXCell, 0x9001, 1)
	sa, err := keying.DeriveSA(keying.DirectionRX, 0x9001, secret)
	if err != nil {
		t.Fatalf("DeriveSA: %v", err)
	}

	peer := netip.MustParseAddrPort("192.0.2.9:4500")
	p0 := sealedFrom(t, sa, peer, "pn0")
	p1 := sealedFrom(t, sa, peer, "pn1")
	p2 := sealedFrom(t, sa, peer, "pn2")

	runDecryptStage(t, io)

	// Deliver out of order: p0, p2, p1 (DeriveSA starts numbering at 1,
	// so these carry packet numbers 1, 3, 2). p1 arrives after p2 but is
	// still within the 64-packet window, so it must be accepted, not
	// dropped as stale.
	io.FromCrypto.Enqueue(p0)
	io.FromCrypto.Enqueue(p2)
	io.FromCrypto.Enqueue(p1)

	got := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		pkt := io.ToClear.Dequeue()
		if pkt == nil {
			select {
			case <-deadline:
				t.Fatalf("timed out, only got %d of 3 packets: %v", len(got), got)
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}
		got[string(pkt.Data())] = true
	}

	for _, want := range []string{"pn0", "pn1", "pn2"} {
		if !got[want] {
			t.Fatalf("missing %q in delivered set %v", want, got)
		}
	}

	if spi := io.Shared.RXSPI(); spi != 0x9001 {
		t.Fatalf("Shared.RXSPI() = %#x, want 0x9001", spi)
	}
}

func TestDecryptLearnsPeerAddressOnRoam(t *testing.T) {
	io := &DecryptIO{
		Pool:       packet.NewPool(8),
		Shared:     state.New(netip.MustParseAddrPort("10.0.0.1:5555")),
		RXCell:     &keying.Cell{},
		Replay:     &replay.Window{},
		FromCrypto: ring.New[packet.Packet](8),
		ToClear:    ring.New[packet.Packet](8),
	}

	secret := publishSecret(t, io.RXCell, 0x9002, 2)
	sa, err := keying.DeriveSA(keying.DirectionRX, 0x9002, secret)
	if err != nil {
		t.Fatalf("DeriveSA: %v", err)
	}

	runDecryptStage(t, io)

	oldHome := netip.MustParseAddrPort("198.51.100.1:4500")
	io.FromCrypto.Enqueue(sealedFrom(t, sa, oldHome, "from old home"))
	waitDelivered(t, io.ToClear, 1)

	if got := io.Shared.Peer(); got != oldHome {
		t.Fatalf("peer = %v, want %v", got, oldHome)
	}

	newHome := netip.MustParseAddrPort("203.0.113.5:4500")
	io.FromCrypto.Enqueue(sealedFrom(t, sa, newHome, "from new home"))
	waitDelivered(t, io.ToClear, 1)

	if got := io.Shared.Peer(); got != newHome {
		t.Fatalf("peer after roam = %v, want %v", got, newHome)
	}
}

func TestDecryptForcedRekeyPromotesSecondSlot(t *testing.T) {
	io := &DecryptIO{
		Pool:       packet.NewPool(8),
		Shared:     state.New(netip.MustParseAddrPort("10.0.0.1:5555")),
		RXCell:     &keying.Cell{},
		Replay:     &replay.Window{},
		FromCrypto: ring.New[packet.Packet](8),
		ToClear:    ring.New[packet.Packet](8),
	}
	peer := netip.MustParseAddrPort("192.0.2.77:4500")

	secretA := publishSecret(t, io.RXCell, 0xA001, 3)
	saA, err := keying.DeriveSA(keying.DirectionRX, 0xA001, secretA)
	if err != nil {
		t.Fatalf("DeriveSA a: %v", err)
	}

	runDecryptStage(t, io)

	io.FromCrypto.Enqueue(sealedFrom(t, saA, peer, "under key A, first"))
	waitDelivered(t, io.ToClear, 1)

	// Publish a second, incompatible key while the stream is live. It
	// lands in slot 2 until a packet under it actually verifies.
	secretB := publishSecret(t, io.RXCell, 0xB002, 9)
	saB, err := keying.DeriveSA(keying.DirectionRX, 0xB002, secretB)
	if err != nil {
		t.Fatalf("DeriveSA b: %v", err)
	}

	// Give the stage a moment to pull the pending key into slot 2
	// before packets under A start mattering.
	time.Sleep(50 * time.Millisecond)

	io.FromCrypto.Enqueue(sealedFrom(t, saB, peer, "under key B, promotes"))
	waitDelivered(t, io.ToClear, 1)

	if spi := io.Shared.RXSPI(); spi != 0xB002 {
		t.Fatalf("Shared.RXSPI() = %#x, want 0xB002 after promotion", spi)
	}

	// Slot 1 is now B; a further packet encrypted under the now-retired
	// A key must be rejected as an SPI mismatch rather than delivered.
	io.FromCrypto.Enqueue(sealedFrom(t, saA, peer, "under retired key A"))

	time.Sleep(200 * time.Millisecond)
	if pkt := io.ToClear.Dequeue(); pkt != nil {
		t.Fatalf("unexpected delivery of packet under a retired SA: %q", pkt.Data())
	}
}

func waitDelivered(t *testing.T, r *ring.Ring[packet.Packet], n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	delivered := 0
	for delivered < n {
		if pkt := r.Dequeue(); pkt != nil {
			delivered++
			continue
		}
		select {
		case <-deadline:
			t.Fatalf("timed out after delivering %d of %d", delivered, n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
