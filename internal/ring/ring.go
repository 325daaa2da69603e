// Copyright The Ioamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package ring implements the bounded lock-free event ring described in
// spec.md §4.4: many producers (one per layer probe / simulated CPU) each
// reserve a slot with a wait-free compare-and-swap, a single consumer polls
// with a timeout. The ring never blocks a producer — a full ring simply
// fails the reservation, and the caller counts the drop (spec.md §4.3's
// failure-semantics table, §4.4, §5).
package ring

import (
	"sync/atomic"
	"time"

	"github.com/platformbuilds/ioamp/internal/events"
)

// Ring is a bounded multi-producer single-consumer queue of events. Slots
// are claimed with an atomic increment of head; a producer that wins a slot
// index writes its event and marks the slot ready. The consumer only
// advances past slots it finds ready, so producers racing on adjacent slots
// never block each other or the consumer.
type Ring struct {
	mask uint64
	buf  []slot

	head atomic.Uint64 // next slot to claim
	tail atomic.Uint64 // next slot to consume

	dropped atomic.Uint64
}

type slot struct {
	ready atomic.Bool
	ev    events.Event
}

// roundUpPow2 returns the smallest power of two >= n, with a floor of 1.
func roundUpPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// New builds a ring sized to hold at least capacityEvents events (rounded
// up to a power of two so index wrapping is a mask instead of a modulo).
func New(capacityEvents int) *Ring {
	n := roundUpPow2(capacityEvents)
	return &Ring{
		mask: uint64(n - 1),
		buf:  make([]slot, n),
	}
}

// NewForBytes sizes a ring so that capacityBytes worth of ~512B events fit,
// matching the spec's "bounded (default 1 MiB) lock-free ring" framing in
// spec.md §4.4 while keeping the actual storage a fixed Go event struct
// array rather than a raw byte buffer.
func NewForBytes(capacityBytes, approxEventSize int) *Ring {
	if approxEventSize <= 0 {
		approxEventSize = 512
	}
	return New(capacityBytes / approxEventSize)
}

// TryReserve attempts to publish ev without blocking. It returns false if
// the ring is full (the consumer has not yet drained enough slots) — the
// caller must treat that as an event drop per spec.md §4.3/§4.4.
func (r *Ring) TryReserve(ev events.Event) bool {
	for {
		head := r.head.Load()
		tail := r.tail.Load()
		if head-tail >= uint64(len(r.buf)) {
			r.dropped.Add(1)
			return false
		}
		if r.head.CompareAndSwap(head, head+1) {
			s := &r.buf[head&r.mask]
			s.ev = ev
			s.ready.Store(true)
			return true
		}
		// Lost the race for this slot; retry with the new head.
	}
}

// Pop returns the next ready event, or false immediately if none is ready.
func (r *Ring) Pop() (events.Event, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail >= head {
		return events.Event{}, false
	}
	s := &r.buf[tail&r.mask]
	if !s.ready.Load() {
		// Producer claimed the slot but hasn't published yet; treat as
		// empty rather than spin — the consumer will see it next poll.
		return events.Event{}, false
	}
	ev := s.ev
	s.ready.Store(false)
	r.tail.Store(tail + 1)
	return ev, true
}

// PopTimeout polls for an event up to timeout, sleeping briefly between
// attempts — the level-triggered poll loop spec.md §4.4/§5 describes for
// the single consumer.
func (r *Ring) PopTimeout(timeout time.Duration) (events.Event, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if ev, ok := r.Pop(); ok {
			return ev, true
		}
		if time.Now().After(deadline) {
			return events.Event{}, false
		}
		time.Sleep(time.Millisecond)
	}
}

// Dropped returns the number of reservations that failed because the ring
// was full — the loss counter surfaced in the summary (spec.md §4.4, §8).
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

// Len reports the number of events currently queued (approximate under
// concurrent producers, exact once producers are quiescent).
func (r *Ring) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the ring's slot capacity.
func (r *Ring) Cap() int { return len(r.buf) }
