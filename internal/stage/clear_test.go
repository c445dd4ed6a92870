package stage

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/signsky/signsky/internal/packet"
	"github.com/signsky/signsky/internal/ring"
)

// fakeTun is an in-memory stand-in for a platform TUN device, letting
// the clear stage be driven without a real OS interface.
type fakeTun struct {
	mu       sync.Mutex
	inbound  [][]byte
	outbound [][]byte
	closed   bool
}

func (f *fakeTun) feed(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, data)
}

func (f *fakeTun) written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.outbound))
	copy(out, f.outbound)
	return out
}

func (f *fakeTun) ReadPacket(pkt *packet.Packet) error {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return io.ErrClosedPipe
		}
		if len(f.inbound) > 0 {
			data := f.inbound[0]
			f.inbound = f.inbound[1:]
			f.mu.Unlock()
			copy(pkt.Buf[packet.HeadLen:], data)
			pkt.Length = len(data)
			return nil
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeTun) WritePacket(pkt *packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(pkt.Data()))
	copy(buf, pkt.Data())
	f.outbound = append(f.outbound, buf)
	return nil
}

func (f *fakeTun) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRunClearForwardsBothDirections(t *testing.T) {
	tun := &fakeTun{}
	cio := &ClearIO{
		Tun:         tun,
		Pool:        packet.NewPool(8),
		ToEncrypt:   ring.New[packet.Packet](8),
		FromDecrypt: ring.New[packet.Packet](8),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunClear(ctx, cio) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("RunClear did not stop after cancel")
		}
	})

	tun.feed([]byte("plaintext from the interface"))

	deadline := time.After(2 * time.Second)
	var queued *packet.Packet
	for queued == nil {
		queued = cio.ToEncrypt.Dequeue()
		if queued == nil {
			select {
			case <-deadline:
				t.Fatal("timed out waiting for a packet read off the tunnel")
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	if got := string(queued.Data()); got != "plaintext from the interface" {
		t.Fatalf("queued data = %q", got)
	}

	decrypted := newPlaintext("plaintext to deliver")
	cio.FromDecrypt.Enqueue(decrypted)

	deadline = time.After(2 * time.Second)
	for {
		if written := tun.written(); len(written) > 0 {
			if string(written[0]) != "plaintext to deliver" {
				t.Fatalf("written = %q", written[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a packet written to the tunnel")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunClearClosesTunOnCancel(t *testing.T) {
	tun := &fakeTun{}
	cio := &ClearIO{
		Tun:         tun,
		Pool:        packet.NewPool(8),
		ToEncrypt:   ring.New[packet.Packet](8),
		FromDecrypt: ring.New[packet.Packet](8),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunClear(ctx, cio) }()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunClear did not stop after cancel")
	}

	tun.mu.Lock()
	closed := tun.closed
	tun.mu.Unlock()
	if !closed {
		t.Fatal("expected the tunnel device to be closed on shutdown")
	}
}
