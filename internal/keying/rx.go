package keying

import (
	"sync"

	"github.com/signsky/signsky/internal/esp"
)

// RXSlots holds the two receive-side security associations the
// decrypt stage verifies incoming packets against: Slot1 is the
// currently active SA, Slot2 is a freshly installed one waiting for
// its first successfully verified packet before it gets promoted.
//
// This mirrors decrypt_packet_process exactly: a packet is tried
// under slot_1 first, then slot_2 on failure; a successful slot_2
// verification swaps it into slot_1 and clears slot_2. The original
// mutated global state from a single worker goroutine with no
// locking needed; here the stage owns an *RXSlots exclusively, so the
// same assumption holds and no locking is required for Slot1/Slot2
// themselves. mu only guards against a concurrent Install running
// while a Promote is in flight from a different call site (defensive,
// since the decrypt stage is expected to be single-goroutine).
type RXSlots struct {
	mu    sync.Mutex
	Slot1 *esp.SA
	Slot2 *esp.SA
}

// Install takes a pending key out of cell, if any, and places it into
// Slot1 when empty or Slot2 otherwise. It reports whether a key was
// installed.
func (r *RXSlots) Install(cell *Cell) (bool, error) {
	spi, secret, ok, err := cell.Take()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	sa, err := DeriveSA(DirectionRX, spi, secret)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Slot1 == nil {
		r.Slot1 = sa
	} else {
		r.Slot2 = sa
	}

	return true, nil
}

// Promote makes Slot2 the active SA and clears Slot2. Callers invoke
// this only after a packet has been successfully verified under
// Slot2.
func (r *RXSlots) Promote() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Slot1 = r.Slot2
	r.Slot2 = nil
}
