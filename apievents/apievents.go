// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package apievents turns the raw events of the instrumented processes into
// timers, track values and strings.
package apievents // import "go.opentelemetry.io/orbit-tracing/apievents"

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/libpf"
)

// Timer is a completed scope.
type Timer struct {
	PID     libpf.PID
	TID     libpf.TID
	StartNS uint64
	EndNS   uint64
	// Depth is the nesting level of a sync scope on its thread, 0 for the
	// outermost scope. Async scopes have depth 0.
	Depth      int
	Async      bool
	ID         uint64
	Name       string
	Color      apiabi.Color
	GroupID    uint64
	CallerAddr uint64
}

func (t Timer) String() string {
	return fmt.Sprintf("%s [%d/%d] %d..%d depth %d", t.Name, t.PID, t.TID,
		t.StartNS, t.EndNS, t.Depth)
}

// TrackValue is a single sample of a track.
type TrackValue struct {
	PID         libpf.PID
	TID         libpf.TID
	TimestampNS uint64
	Name        string
	Color       apiabi.Color
	Kind        events.Kind
	event       events.Event
}

// Float64 returns the value converted to float64.
func (v TrackValue) Float64() float64 {
	switch v.Kind {
	case events.KindTrackInt32:
		return float64(v.event.Int32())
	case events.KindTrackInt64:
		return float64(v.event.Int64())
	case events.KindTrackUint32:
		return float64(v.event.Uint32())
	case events.KindTrackUint64:
		return float64(v.event.Uint64())
	case events.KindTrackFloat:
		return float64(v.event.Float())
	case events.KindTrackDouble:
		return v.event.Double()
	}
	return 0
}

// Event returns the raw track event for typed access.
func (v TrackValue) Event() events.Event {
	return v.event
}

// AsyncString is a string attached to an async scope.
type AsyncString struct {
	PID         libpf.PID
	TimestampNS uint64
	ID          uint64
	Value       string
	Color       apiabi.Color
}

// Listener receives the processed events.
type Listener interface {
	OnTimer(Timer)
	OnTrackValue(TrackValue)
	OnAsyncString(AsyncString)
}

type threadKey struct {
	pid libpf.PID
	tid libpf.TID
}

type asyncKey struct {
	pid libpf.PID
	id  uint64
}

// Processor matches scope starts and stops. It is safe for concurrent use.
type Processor struct {
	listener Listener

	mu     sync.Mutex
	stacks map[threadKey][]events.Event
	async  map[asyncKey]events.Event

	unmatchedStops uint64
}

// NewProcessor returns a processor reporting to l.
func NewProcessor(l Listener) *Processor {
	return &Processor{
		listener: l,
		stacks:   make(map[threadKey][]events.Event),
		async:    make(map[asyncKey]events.Event),
	}
}

// ProcessEvents handles a batch of events in order.
func (p *Processor) ProcessEvents(evs []events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range evs {
		p.process(&evs[i])
	}
}

func (p *Processor) process(ev *events.Event) {
	switch ev.Kind {
	case events.KindScopeStart:
		k := threadKey{pid: ev.PID, tid: ev.TID}
		p.stacks[k] = append(p.stacks[k], *ev)
	case events.KindScopeStop:
		k := threadKey{pid: ev.PID, tid: ev.TID}
		stack := p.stacks[k]
		if len(stack) == 0 {
			p.unmatchedStops++
			return
		}
		start := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			delete(p.stacks, k)
		} else {
			p.stacks[k] = stack
		}
		p.listener.OnTimer(Timer{
			PID:        start.PID,
			TID:        start.TID,
			StartNS:    start.TimestampNS,
			EndNS:      ev.TimestampNS,
			Depth:      len(stack),
			Name:       start.Name.String(),
			Color:      start.Color,
			GroupID:    start.GroupID,
			CallerAddr: start.CallerAddr,
		})
	case events.KindAsyncScopeStart:
		p.async[asyncKey{pid: ev.PID, id: ev.ID}] = *ev
	case events.KindAsyncScopeStop:
		k := asyncKey{pid: ev.PID, id: ev.ID}
		start, ok := p.async[k]
		if !ok {
			p.unmatchedStops++
			return
		}
		delete(p.async, k)
		p.listener.OnTimer(Timer{
			PID:        start.PID,
			TID:        start.TID,
			StartNS:    start.TimestampNS,
			EndNS:      ev.TimestampNS,
			Async:      true,
			ID:         start.ID,
			Name:       start.Name.String(),
			Color:      start.Color,
			CallerAddr: start.CallerAddr,
		})
	case events.KindAsyncString:
		p.listener.OnAsyncString(AsyncString{
			PID:         ev.PID,
			TimestampNS: ev.TimestampNS,
			ID:          ev.ID,
			Value:       ev.Name.String(),
			Color:       ev.Color,
		})
	default:
		if !ev.Kind.IsTrack() {
			log.Debugf("Ignoring event of kind %v", ev.Kind)
			return
		}
		p.listener.OnTrackValue(TrackValue{
			PID:         ev.PID,
			TID:         ev.TID,
			TimestampNS: ev.TimestampNS,
			Name:        ev.Name.String(),
			Color:       ev.Color,
			Kind:        ev.Kind,
			event:       *ev,
		})
	}
}

// OpenScopes returns the number of sync and async scopes still open.
func (p *Processor) OpenScopes() (syncScopes, asyncScopes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stacks {
		syncScopes += len(s)
	}
	return syncScopes, len(p.async)
}

// UnmatchedStops returns the number of stops without a start.
func (p *Processor) UnmatchedStops() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unmatchedStops
}

// Reset drops all open scopes, e.g. at the start of a new capture.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.stacks)
	clear(p.async)
	p.unmatchedStops = 0
}
