// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package producer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/libpf"
)

type fakeSink struct {
	mu         sync.Mutex
	batches    [][]events.Event
	allSent    int
	failBatch  atomic.Bool
	batchSizes []int
}

func (s *fakeSink) SendBatch(evs []events.Event) error {
	if s.failBatch.Load() {
		return errors.New("broken pipe")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]events.Event(nil), evs...))
	s.batchSizes = append(s.batchSizes, len(evs))
	return nil
}

func (s *fakeSink) SendAllEventsSent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allSent++
	return nil
}

func (s *fakeSink) events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []events.Event
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func (s *fakeSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batchSizes...)
}

func shutdown(t *testing.T, p *Producer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestRingFIFOAndFull(t *testing.T) {
	r := newRing(3)
	require.Equal(t, 4, r.capacity())

	for i := range 4 {
		ev := events.NewAsyncScopeStop(events.Header{}, uint64(i))
		require.True(t, r.push(&ev))
	}
	ev := events.NewAsyncScopeStop(events.Header{}, 99)
	assert.False(t, r.push(&ev), "ring must reject events when full")

	var out events.Event
	for i := range 4 {
		require.True(t, r.pop(&out))
		assert.Equal(t, uint64(i), out.ID)
	}
	assert.False(t, r.pop(&out))

	// Slots are reusable after draining.
	require.True(t, r.push(&ev))
	require.True(t, r.pop(&out))
	assert.Equal(t, uint64(99), out.ID)
}

func TestDropWhenNotCapturing(t *testing.T) {
	sink := &fakeSink{}
	p := New(Config{}, sink)
	defer shutdown(t, p)

	ev := events.NewScopeStop(events.Header{})
	assert.False(t, p.IsCapturing())
	assert.False(t, p.Enqueue(&ev))
	assert.Equal(t, Stats{Dropped: 1}, p.Stats())
}

type blockingSink struct {
	fakeSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) SendBatch(evs []events.Event) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.fakeSink.SendBatch(evs)
}

func TestDropWhenFull(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	p := New(Config{Capacity: 2, BatchSize: 1, FlushInterval: time.Millisecond}, sink)
	defer shutdown(t, p)
	p.SetCapturing(true)

	first := events.NewAsyncScopeStop(events.Header{}, 0)
	require.True(t, p.Enqueue(&first))
	// The relay is now stuck delivering the first event and the ring is empty.
	<-sink.entered

	for i := 1; i <= 2; i++ {
		ev := events.NewAsyncScopeStop(events.Header{}, uint64(i))
		require.True(t, p.Enqueue(&ev))
	}
	overflow := events.NewAsyncScopeStop(events.Header{}, 3)
	assert.False(t, p.Enqueue(&overflow))
	assert.Equal(t, Stats{Enqueued: 3, Dropped: 1}, p.Stats())

	close(sink.release)
}

func TestBatchFlushedAfterInterval(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock()
	p := New(Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond, Clock: mock}, sink)
	defer shutdown(t, p)
	p.SetCapturing(true)

	for i := range 3 {
		ev := events.NewAsyncScopeStop(events.Header{}, uint64(i))
		require.True(t, p.Enqueue(&ev))
	}

	require.Eventually(t, func() bool {
		mock.Add(p.pollInterval())
		return len(sink.events()) == 3
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, []int{3}, sink.sizes())
	assert.Equal(t, uint64(3), p.Stats().Sent)
}

func TestPartialBatchHeldUntilInterval(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock()
	p := New(Config{BatchSize: 100, FlushInterval: 40 * time.Millisecond, Clock: mock}, sink)
	defer shutdown(t, p)
	p.SetCapturing(true)

	ev := events.NewScopeStop(events.Header{})
	require.True(t, p.Enqueue(&ev))

	// Without the clock advancing past the interval the batch stays pending.
	mock.Add(p.pollInterval())
	assert.Never(t, func() bool { return len(sink.events()) > 0 },
		50*time.Millisecond, time.Millisecond)

	require.Eventually(t, func() bool {
		mock.Add(p.pollInterval())
		return len(sink.events()) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, []int{1}, sink.sizes())
}

func TestBatchFlushedWhenFull(t *testing.T) {
	sink := &fakeSink{}
	mock := clock.NewMock()
	p := New(Config{BatchSize: 4, FlushInterval: time.Hour, Clock: mock}, sink)
	defer shutdown(t, p)
	p.SetCapturing(true)

	for i := range 10 {
		ev := events.NewAsyncScopeStop(events.Header{}, uint64(i))
		require.True(t, p.Enqueue(&ev))
	}
	// Full batches go out without waiting for the flush interval.
	require.Eventually(t, func() bool {
		mock.Add(p.pollInterval())
		return len(sink.events()) >= 8
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, []int{4, 4}, sink.sizes()[:2])
}

func TestFlushSendsAllEventsSent(t *testing.T) {
	sink := &fakeSink{}
	p := New(Config{FlushInterval: time.Hour}, sink)
	defer shutdown(t, p)
	p.SetCapturing(true)

	ev := events.NewScopeStop(events.Header{PID: 1, TID: 2})
	require.True(t, p.Enqueue(&ev))
	p.SetCapturing(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx))

	assert.Len(t, sink.events(), 1)
	sink.mu.Lock()
	assert.Equal(t, 1, sink.allSent)
	sink.mu.Unlock()
}

func TestShutdownFlushes(t *testing.T) {
	sink := &fakeSink{}
	p := New(Config{FlushInterval: time.Hour}, sink)
	p.SetCapturing(true)
	for i := range 5 {
		ev := events.NewAsyncScopeStop(events.Header{}, uint64(i))
		require.True(t, p.Enqueue(&ev))
	}
	shutdown(t, p)
	assert.Len(t, sink.events(), 5)
	assert.False(t, p.IsCapturing())

	require.ErrorIs(t, p.Flush(context.Background()), ErrStopped)
}

func TestBrokenSinkCountsDrops(t *testing.T) {
	sink := &fakeSink{}
	sink.failBatch.Store(true)
	p := New(Config{FlushInterval: time.Hour}, sink)
	p.SetCapturing(true)
	ev := events.NewScopeStop(events.Header{})
	require.True(t, p.Enqueue(&ev))
	shutdown(t, p)

	assert.Equal(t, Stats{Enqueued: 1, Dropped: 1}, p.Stats())
}

func TestPerThreadOrder(t *testing.T) {
	const (
		producers = 8
		perThread = 2000
	)
	sink := &fakeSink{}
	p := New(Config{Capacity: producers * perThread, BatchSize: 64}, sink)
	p.SetCapturing(true)

	var wg sync.WaitGroup
	for tid := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := events.Header{PID: 1, TID: libpf.TID(tid)}
			for seq := range perThread {
				ev := events.NewAsyncScopeStop(h, uint64(seq))
				assert.True(t, p.Enqueue(&ev))
			}
		}()
	}
	wg.Wait()
	shutdown(t, p)

	next := make(map[libpf.TID]uint64)
	got := sink.events()
	require.Len(t, got, producers*perThread)
	for _, ev := range got {
		require.Equal(t, next[ev.TID], ev.ID, "tid %d out of order", ev.TID)
		next[ev.TID]++
	}
}

func TestEnqueueDoesNotAllocate(t *testing.T) {
	sink := &fakeSink{}
	p := New(Config{Capacity: 1 << 10}, sink)
	defer shutdown(t, p)
	p.SetCapturing(true)

	ev := events.NewScopeStart(events.Header{PID: 1, TID: 1}, "scope", 0, 0, 0)
	allocs := testing.AllocsPerRun(100, func() {
		p.Enqueue(&ev)
	})
	assert.Zero(t, allocs)
}
