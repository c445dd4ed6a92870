package udpsock

import (
	"bytes"
	"net/netip"
	"testing"
	"time"

	"github.com/signsky/signsky/internal/packet"
)

func TestSendRecvRoundTrip(t *testing.T) {
	a, err := Open(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()

	b, err := Open(netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()

	bAddr := netip.MustParseAddrPort(b.conn.LocalAddr().String())

	var out packet.Packet
	payload := []byte("esp-wire-bytes-go-here!")
	copy(out.Buf[:], payload)
	out.Length = len(payload) - packet.HeadLen

	if err := a.SendTo(&out, bAddr); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var in packet.Packet
	if err := b.RecvInto(&in); err != nil {
		t.Fatalf("RecvInto: %v", err)
	}

	if !bytes.Equal(in.Wire(), payload) {
		t.Fatalf("got %q, want %q", in.Wire(), payload)
	}
	if !in.Addr.IsValid() {
		t.Fatal("expected a source address to be recorded")
	}
}
