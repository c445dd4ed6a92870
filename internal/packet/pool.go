package packet

import "github.com/signsky/signsky/internal/ring"

// Pool is a fixed-size, pre-allocated set of packet buffers. Its free
// list is itself a ring queue of buffer addresses, exactly like the
// original signsky_pool — acquire dequeues, release enqueues.
type Pool struct {
	storage []Packet
	free    *ring.Ring[Packet]
}

// NewPool allocates n buffers and seeds the free list with all of them.
// n must be a power of two (the ring backing the free list requires it).
func NewPool(n uint32) *Pool {
	p := &Pool{
		storage: make([]Packet, n),
		free:    ring.New[Packet](n),
	}

	for i := range p.storage {
		p.free.Enqueue(&p.storage[i])
	}

	return p
}

// Get acquires a packet from the pool, or nil if the pool is exhausted.
// Callers must have a fallback for the nil case (read into a throwaway
// buffer and discard the datagram) — the pool never blocks.
func (p *Pool) Get() *Packet {
	pkt := p.free.Dequeue()
	if pkt == nil {
		return nil
	}
	pkt.Reset()
	return pkt
}

// Put returns a packet to the pool, making it available again.
func (p *Pool) Put(pkt *Packet) {
	p.free.Enqueue(pkt)
}
