// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package apievents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/libpf"
)

func hdr(tid libpf.TID, ts uint64) events.Header {
	return events.Header{PID: 10, TID: tid, TimestampNS: ts}
}

func TestNestedScopes(t *testing.T) {
	r := NewRecorder(10)
	p := NewProcessor(r)

	p.ProcessEvents([]events.Event{
		events.NewScopeStart(hdr(1, 100), "outer", apiabi.ColorRed, 7, 0x1000),
		events.NewScopeStart(hdr(2, 105), "other thread", apiabi.ColorAuto, 0, 0),
		events.NewScopeStart(hdr(1, 110), "inner", apiabi.ColorBlue, 0, 0x2000),
		events.NewScopeStop(hdr(1, 120)),
		events.NewScopeStop(hdr(1, 130)),
	})

	timers := r.Timers()
	require.Len(t, timers, 2)
	assert.Equal(t, Timer{PID: 10, TID: 1, StartNS: 110, EndNS: 120, Depth: 1,
		Name: "inner", Color: apiabi.ColorBlue, CallerAddr: 0x2000}, timers[0])
	assert.Equal(t, Timer{PID: 10, TID: 1, StartNS: 100, EndNS: 130, Depth: 0,
		Name: "outer", Color: apiabi.ColorRed, GroupID: 7, CallerAddr: 0x1000}, timers[1])

	syncScopes, asyncScopes := p.OpenScopes()
	assert.Equal(t, 1, syncScopes)
	assert.Equal(t, 0, asyncScopes)
}

func TestUnmatchedStopsAreIgnored(t *testing.T) {
	r := NewRecorder(10)
	p := NewProcessor(r)

	p.ProcessEvents([]events.Event{
		events.NewScopeStop(hdr(1, 1)),
		events.NewAsyncScopeStop(hdr(1, 2), 42),
	})
	assert.Empty(t, r.Timers())
	assert.Equal(t, uint64(2), p.UnmatchedStops())

	p.Reset()
	assert.Zero(t, p.UnmatchedStops())
}

func TestAsyncScopes(t *testing.T) {
	r := NewRecorder(10)
	p := NewProcessor(r)

	p.ProcessEvents([]events.Event{
		events.NewAsyncScopeStart(hdr(1, 100), "request", 5, apiabi.ColorGreen, 0x3000),
		events.NewAsyncString(hdr(1, 101), "GET /index.html", 5, apiabi.ColorAuto),
	})
	// Async scopes may end on another thread and in another batch.
	p.ProcessEvents([]events.Event{
		events.NewAsyncScopeStop(hdr(2, 150), 5),
	})

	timers := r.Timers()
	require.Len(t, timers, 1)
	assert.Equal(t, Timer{PID: 10, TID: 1, StartNS: 100, EndNS: 150, Async: true, ID: 5,
		Name: "request", Color: apiabi.ColorGreen, CallerAddr: 0x3000}, timers[0])

	strs := r.AsyncStrings()
	require.Len(t, strs, 1)
	assert.Equal(t, "GET /index.html", strs[0].Value)
	assert.Equal(t, uint64(5), strs[0].ID)

	assert.Equal(t, Summary{AsyncTimers: 1, AsyncStrings: 1}, r.Summary())
}

func TestTrackValues(t *testing.T) {
	r := NewRecorder(10)
	p := NewProcessor(r)

	p.ProcessEvents([]events.Event{
		events.NewTrackInt32(hdr(1, 1), "i32", -3, apiabi.ColorAuto),
		events.NewTrackInt64(hdr(1, 2), "i64", -4, apiabi.ColorAuto),
		events.NewTrackUint32(hdr(1, 3), "u32", 5, apiabi.ColorAuto),
		events.NewTrackUint64(hdr(1, 4), "u64", 6, apiabi.ColorAuto),
		events.NewTrackFloat(hdr(1, 5), "f32", 1.5, apiabi.ColorAuto),
		events.NewTrackDouble(hdr(1, 6), "f64", 2.25, apiabi.ColorPink),
	})

	values := r.TrackValues()
	require.Len(t, values, 6)
	want := []float64{-3, -4, 5, 6, 1.5, 2.25}
	for i, v := range values {
		assert.Equal(t, want[i], v.Float64(), v.Name)
	}
	assert.Equal(t, apiabi.ColorPink, values[5].Color)
	ev := values[1].Event()
	assert.Equal(t, int64(-4), ev.Int64())
}

func TestRecorderLimit(t *testing.T) {
	r := NewRecorder(1)
	p := NewProcessor(r)
	for i := range 3 {
		p.ProcessEvents([]events.Event{
			events.NewScopeStart(hdr(1, uint64(i)), "s", apiabi.ColorAuto, 0, 0),
			events.NewScopeStop(hdr(1, uint64(i)+1)),
		})
	}
	assert.Len(t, r.Timers(), 1)
	assert.Equal(t, uint64(3), r.Summary().Timers)
}
