package state

import (
	"net/netip"
	"testing"
)

func TestPeerLearning(t *testing.T) {
	s := New(netip.MustParseAddrPort("10.0.0.1:4500"))

	if s.Peer().IsValid() {
		t.Fatal("expected no peer address before learning")
	}

	addr := netip.MustParseAddrPort("203.0.113.9:51820")
	s.SetPeer(addr)

	if s.Peer() != addr {
		t.Fatalf("Peer() = %v, want %v", s.Peer(), addr)
	}
}

func TestSPIRoundTrip(t *testing.T) {
	s := New(netip.AddrPort{})

	s.SetTXSPI(0xdeadbeef)
	s.SetRXSPI(0xcafef00d)

	if s.TXSPI() != 0xdeadbeef {
		t.Fatalf("TXSPI = %#x", s.TXSPI())
	}
	if s.RXSPI() != 0xcafef00d {
		t.Fatalf("RXSPI = %#x", s.RXSPI())
	}
}

func TestCountersAccumulate(t *testing.T) {
	s := New(netip.AddrPort{})

	s.RecordTX(100)
	s.RecordTX(50)
	s.RecordRX(200)

	snap := s.Snapshot()
	if snap.TXPackets != 2 || snap.TXBytes != 150 {
		t.Fatalf("tx counters = %+v", snap)
	}
	if snap.RXPackets != 1 || snap.RXBytes != 200 {
		t.Fatalf("rx counters = %+v", snap)
	}
	if snap.LastActivity.IsZero() {
		t.Fatal("expected LastActivity to be set after recording traffic")
	}
}
