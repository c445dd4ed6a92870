// Package ring implements a process-shared style lock-free multi-producer,
// multi-consumer queue of fixed, power-of-two capacity.
//
// The algorithm mirrors signsky's original shared-memory ring exactly: a
// head CAS claims a slot exclusively, a spin-CAS on the tail publishes the
// slot in order, so a consumer never observes a slot before the producer
// that owns it has finished writing. What was separate OS address spaces
// sharing one mmap'd struct is, here, separate goroutines sharing one
// *Ring[T] — the CAS discipline is identical either way.
package ring

import (
	"runtime"
	"sync/atomic"
)

// Ring is a bounded MPMC queue of capacity elm, holding *T handles.
// elm must be a power of two.
type Ring[T any] struct {
	elm  uint32
	mask uint32

	producerHead atomic.Uint32
	producerTail atomic.Uint32
	consumerHead atomic.Uint32
	consumerTail atomic.Uint32

	data []atomic.Pointer[T]
}

// New allocates a new ring able to hold elm elements, elm must be a
// power of two and is nominally 1024 (maximum 4096 per the wire spec).
func New[T any](elm uint32) *Ring[T] {
	if elm == 0 || elm&(elm-1) != 0 {
		panic("ring: elm must be a power of two")
	}

	return &Ring[T]{
		elm:  elm,
		mask: elm - 1,
		data: make([]atomic.Pointer[T], elm),
	}
}

// cpuPause yields the goroutine instead of busy-spinning the OS thread.
// Go has no portable access to a pause/yield asm hint without per-arch
// assembly; runtime.Gosched is the idiomatic substitute on a preemptively
// scheduled M:N runtime.
func cpuPause() {
	runtime.Gosched()
}

// Pending returns the number of entries ready to be dequeued. Intended
// for consumers.
func (r *Ring[T]) Pending() uint32 {
	head := r.consumerHead.Load()
	tail := r.producerTail.Load()
	return tail - head
}

// Available returns the number of free slots. Intended for producers.
func (r *Ring[T]) Available() uint32 {
	head := r.producerHead.Load()
	tail := r.consumerTail.Load()
	return r.elm + (tail - head)
}

// Enqueue places v into the ring. It returns false if the ring was full,
// in which case the caller owns v and must dispose of it (for packet
// handles: release the buffer back to its pool).
func (r *Ring[T]) Enqueue(v *T) bool {
	for {
		head := r.producerHead.Load()
		tail := r.consumerTail.Load()

		if r.elm+(tail-head) == 0 {
			return false
		}

		next := head + 1
		if r.producerHead.CompareAndSwap(head, next) {
			r.data[head&r.mask].Store(v)
			for !r.producerTail.CompareAndSwap(head, next) {
				cpuPause()
			}
			return true
		}
	}
}

// Dequeue removes and returns an item, or nil if the ring was empty.
func (r *Ring[T]) Dequeue() *T {
	for {
		head := r.consumerHead.Load()
		tail := r.producerTail.Load()

		if tail-head == 0 {
			return nil
		}

		next := head + 1
		if r.consumerHead.CompareAndSwap(head, next) {
			v := r.data[head&r.mask].Load()
			for !r.consumerTail.CompareAndSwap(head, next) {
				cpuPause()
			}
			return v
		}
	}
}
