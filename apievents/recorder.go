// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package apievents // import "go.opentelemetry.io/orbit-tracing/apievents"

import "sync"

// Summary counts what a capture produced.
type Summary struct {
	Timers       uint64
	AsyncTimers  uint64
	TrackValues  uint64
	AsyncStrings uint64
}

// Recorder is a Listener keeping the results in memory, up to a limit per
// category.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	summary Summary

	timers       []Timer
	trackValues  []TrackValue
	asyncStrings []AsyncString
}

// NewRecorder returns a recorder keeping at most limit records per category.
// A limit of 0 only counts.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) OnTimer(t Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Async {
		r.summary.AsyncTimers++
	} else {
		r.summary.Timers++
	}
	if len(r.timers) < r.limit {
		r.timers = append(r.timers, t)
	}
}

func (r *Recorder) OnTrackValue(v TrackValue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.TrackValues++
	if len(r.trackValues) < r.limit {
		r.trackValues = append(r.trackValues, v)
	}
}

func (r *Recorder) OnAsyncString(s AsyncString) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.AsyncStrings++
	if len(r.asyncStrings) < r.limit {
		r.asyncStrings = append(r.asyncStrings, s)
	}
}

// Summary returns the counters.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Timers returns the recorded timers.
func (r *Recorder) Timers() []Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Timer(nil), r.timers...)
}

// TrackValues returns the recorded track values.
func (r *Recorder) TrackValues() []TrackValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TrackValue(nil), r.trackValues...)
}

// AsyncStrings returns the recorded strings.
func (r *Recorder) AsyncStrings() []AsyncString {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AsyncString(nil), r.asyncStrings...)
}

// Reset clears the recorder.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = Summary{}
	r.timers = nil
	r.trackValues = nil
	r.asyncStrings = nil
}
