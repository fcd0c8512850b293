// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package producer // import "go.opentelemetry.io/orbit-tracing/producer"

import (
	"sync/atomic"

	"go.opentelemetry.io/orbit-tracing/events"
)

type slot struct {
	// seq == pos means the slot is free for the producer claiming pos,
	// seq == pos+1 means it holds the event written at pos.
	seq atomic.Uint64
	ev  events.Event
}

// ring is a bounded multi-producer single-consumer queue of events. Producers
// claim a position with a CAS and own the slot until they publish it through
// the slot sequence number. The consumer never skips an unpublished slot, so
// the events of one producer are drained in the order they were pushed.
type ring struct {
	mask  uint64
	slots []slot

	_   [64]byte
	enq atomic.Uint64
	_   [64]byte
	// deq is only touched by the consumer.
	deq uint64
}

func newRing(capacity int) *ring {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	r := &ring{
		mask:  size - 1,
		slots: make([]slot, size),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// push copies ev into the ring. It returns false if the ring is full. push
// never allocates and never blocks.
func (r *ring) push(ev *events.Event) bool {
	pos := r.enq.Load()
	for {
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		switch diff := int64(seq - pos); {
		case diff == 0:
			if r.enq.CompareAndSwap(pos, pos+1) {
				s.ev = *ev
				s.seq.Store(pos + 1)
				return true
			}
			pos = r.enq.Load()
		case diff < 0:
			return false
		default:
			pos = r.enq.Load()
		}
	}
}

// pop moves the oldest published event into out. It returns false if the next
// slot has not been published yet.
func (r *ring) pop(out *events.Event) bool {
	s := &r.slots[r.deq&r.mask]
	if s.seq.Load() != r.deq+1 {
		return false
	}
	*out = s.ev
	s.seq.Store(r.deq + r.mask + 1)
	r.deq++
	return true
}

// pending is an estimate of the number of claimed but not yet drained slots.
func (r *ring) pending() uint64 {
	return r.enq.Load() - r.deq
}

func (r *ring) capacity() int {
	return len(r.slots)
}
