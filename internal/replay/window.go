// Package replay implements the 64-bit-window anti-replay filter.
//
// The shape is lifted straight from the teacher's SlidingWindow
// (slidingwindow.go): a mutex-guarded bitmap plus a high-water mark,
// which is exactly how the original C decrypt_arwin_check/update pair
// behaves under single-threaded-per-stage execution. Unlike the
// teacher's 2048-bit window, signsky's wire format fixes the window at
// 64 bits (bit 63 is the highest accepted packet number).
package replay

import "sync"

// Window tracks the 64 most recently accepted packet numbers.
type Window struct {
	mu     sync.Mutex
	last   uint64
	bitmap uint64
}

// Check reports whether candidate packet number pn would be accepted,
// without recording it. This is the authoritative check used by the
// decrypt stage before it attempts AEAD verification under a given SA
// slot. It must be followed by Update only once the packet has also
// passed AEAD verification and trailer validation.
func (w *Window) Check(pn uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.check(pn)
}

func (w *Window) check(pn uint64) bool {
	if pn > w.last {
		return true
	}
	if pn > 0 && w.last-pn < 64 {
		bit := 63 - (w.last - pn)
		return w.bitmap&(uint64(1)<<bit) == 0
	}
	return false
}

// Update records pn as accepted. Callers must only call this after pn
// has independently passed Check and the packet it belongs to has been
// authenticated — Update itself does not re-validate.
func (w *Window) Update(pn uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pn > w.last {
		diff := pn - w.last
		if diff >= 64 {
			w.bitmap = 0
		} else {
			w.bitmap >>= diff
		}
		w.bitmap |= uint64(1) << 63
		w.last = pn
		return
	}

	bit := 63 - (w.last - pn)
	w.bitmap |= uint64(1) << bit
}

// Last returns the highest packet number accepted so far.
func (w *Window) Last() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// PreCheck is the permissive pre-check performed by the crypto-ingress
// stage: it widens the window by widen (the decrypt queue depth minus
// one, nominally 1023) so that packets still waiting in the decrypt
// queue are not falsely rejected. It never records anything; only the
// decrypt stage's strict Check/Update pair is authoritative.
func (w *Window) PreCheck(pn uint64, widen uint64) bool {
	w.mu.Lock()
	last := w.last
	w.mu.Unlock()

	if pn > last {
		return true
	}
	return pn > 0 && widen > last-pn
}
