// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package producer implements the in-process event producer: instrumented
// threads append events into a pre-allocated ring without blocking, and a
// single relay goroutine drains the ring in batches into a Sink.
package producer // import "go.opentelemetry.io/orbit-tracing/producer"

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/metrics"
)

// Sink receives the batches of the relay goroutine. Both methods are only
// ever called from the relay goroutine and may block.
type Sink interface {
	// SendBatch writes one batch. The slice is reused after SendBatch returns.
	SendBatch(evs []events.Event) error
	// SendAllEventsSent tells the service that every event produced before
	// the capture stopped has been sent.
	SendAllEventsSent() error
}

// Config configures a Producer.
type Config struct {
	// Capacity is the number of ring slots, rounded up to a power of two.
	Capacity int
	// BatchSize is the maximum number of events per batch.
	BatchSize int
	// FlushInterval bounds how long a partial batch is held back.
	FlushInterval time.Duration
	// Clock drives the relay timers. Defaults to the wall clock.
	Clock clock.Clock
}

const (
	defaultCapacity      = 1 << 14
	defaultBatchSize     = 1024
	defaultFlushInterval = 10 * time.Millisecond
	minPollInterval      = 100 * time.Microsecond
)

func (c *Config) setDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = defaultCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Stats are the counters of a Producer.
type Stats struct {
	Enqueued uint64
	Dropped  uint64
	Sent     uint64
}

// Producer is safe for use by any number of goroutines and threads.
type Producer struct {
	cfg  Config
	ring *ring
	sink Sink

	capturing atomic.Bool
	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	sent      atomic.Uint64

	flushReq chan chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  atomic.Bool

	reported Stats
}

// ErrStopped is returned by operations on a producer after Shutdown.
var ErrStopped = errors.New("producer is shut down")

// New allocates all event storage up front and starts the relay goroutine.
func New(cfg Config, sink Sink) *Producer {
	cfg.setDefaults()
	p := &Producer{
		cfg:      cfg,
		ring:     newRing(cfg.Capacity),
		sink:     sink,
		flushReq: make(chan chan struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go p.relay()
	return p
}

// IsCapturing returns the capture state last published by the channel.
func (p *Producer) IsCapturing() bool {
	return p.capturing.Load()
}

// SetCapturing publishes the capture state. Callers that already observed
// true may still enqueue; their events are delivered best effort.
func (p *Producer) SetCapturing(capturing bool) {
	p.capturing.Store(capturing)
}

// Enqueue copies ev into the ring. It returns false and counts a drop if the
// producer is not capturing or the ring is full. Enqueue never blocks and never
// allocates.
func (p *Producer) Enqueue(ev *events.Event) bool {
	if !p.capturing.Load() || !p.ring.push(ev) {
		p.dropped.Add(1)
		return false
	}
	p.enqueued.Add(1)
	return true
}

// CountDrop counts an event that was rejected before reaching Enqueue.
func (p *Producer) CountDrop() {
	p.dropped.Add(1)
}

// Stats returns a snapshot of the counters.
func (p *Producer) Stats() Stats {
	return Stats{
		Enqueued: p.enqueued.Load(),
		Dropped:  p.dropped.Load(),
		Sent:     p.sent.Load(),
	}
}

// Flush makes the relay send everything enqueued so far followed by an
// all-events-sent notification. It blocks until that happened or ctx is done.
func (p *Producer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case p.flushReq <- done:
	case <-p.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the relay after a last flush. Events still unflushed when ctx
// is done are lost.
func (p *Producer) Shutdown(ctx context.Context) error {
	p.capturing.Store(false)
	if p.stopped.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) pollInterval() time.Duration {
	return max(p.cfg.FlushInterval/4, minPollInterval)
}

func (p *Producer) relay() {
	defer close(p.doneCh)

	batch := make([]events.Event, 0, p.cfg.BatchSize)
	var batchStart time.Time

	// The ring has no wakeup, it is drained on every tick.
	ticker := p.cfg.Clock.Ticker(p.pollInterval())
	defer ticker.Stop()

	send := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.sink.SendBatch(batch); err != nil {
			p.dropped.Add(uint64(len(batch)))
			log.Debugf("Dropped batch of %d events: %v", len(batch), err)
		} else {
			p.sent.Add(uint64(len(batch)))
		}
		batch = batch[:0]
		p.reportMetrics()
	}
	// drain moves events into the batch, sending full batches. It stops when
	// the ring has no published event left.
	drain := func() {
		for {
			if len(batch) == cap(batch) {
				send()
			}
			batch = batch[:len(batch)+1]
			if !p.ring.pop(&batch[len(batch)-1]) {
				batch = batch[:len(batch)-1]
				return
			}
			if len(batch) == 1 {
				batchStart = p.cfg.Clock.Now()
			}
		}
	}

	for {
		drain()
		if len(batch) > 0 && p.cfg.Clock.Since(batchStart) >= p.cfg.FlushInterval {
			send()
		}

		select {
		case <-p.stopCh:
			drain()
			send()
			return
		case done := <-p.flushReq:
			drain()
			send()
			if err := p.sink.SendAllEventsSent(); err != nil {
				log.Debugf("Failed to send all-events-sent: %v", err)
			}
			close(done)
		case <-ticker.C:
		}
	}
}

func (p *Producer) reportMetrics() {
	s := p.Stats()
	metrics.AddSlice([]metrics.Metric{
		{ID: metrics.IDProducerEventsEnqueued,
			Value: metrics.MetricValue(s.Enqueued - p.reported.Enqueued)},
		{ID: metrics.IDProducerEventsDropped,
			Value: metrics.MetricValue(s.Dropped - p.reported.Dropped)},
	})
	p.reported = s
}
