// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package producerside implements the service end of the capture channel. It
// accepts connections from instrumented processes, relays capture commands to
// them and forwards the events they send to an EventProcessor.
package producerside // import "go.opentelemetry.io/orbit-tracing/producerside"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/capturechannel"
	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/metrics"
)

// EventProcessor receives the decoded events of all producers. Calls for one
// producer are sequential; calls for different producers may be concurrent.
type EventProcessor interface {
	ProcessEvents(evs []events.Event)
}

// Config configures a Server.
type Config struct {
	Endpoint capturechannel.Endpoint
	// StopTimeout bounds how long OnCaptureStop waits for the producers.
	StopTimeout time.Duration
	Processor   EventProcessor
}

const defaultStopTimeout = 5 * time.Second

// ErrStopTimeout is returned by OnCaptureStop if some producers did not
// confirm that all their events were sent.
var ErrStopTimeout = errors.New("timed out waiting for producers")

// Server is the producer side of the service.
type Server struct {
	cfg Config
	ln  net.Listener

	mu        sync.Mutex
	conns     libpf.Set[*producerConn]
	capturing bool
	captureID uuid.UUID

	wg sync.WaitGroup
}

// New returns a server that is not listening yet.
func New(cfg Config) *Server {
	if cfg.Endpoint.Network == "" {
		cfg.Endpoint = capturechannel.DefaultEndpoint()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &Server{cfg: cfg, conns: make(libpf.Set[*producerConn])}
}

// Start opens the listener. Unix sockets are created world-writable so that
// processes of any user can connect.
func (s *Server) Start() error {
	if s.cfg.Endpoint.Network == "unix" {
		dir := filepath.Dir(s.cfg.Endpoint.Address)
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return fmt.Errorf("failed to create socket directory %s: %w", dir, err)
		}
		// MkdirAll is subject to the umask.
		if err := os.Chmod(dir, 0o777); err != nil {
			return fmt.Errorf("failed to set permissions of %s: %w", dir, err)
		}
	}
	ln, err := s.cfg.Endpoint.Listen()
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", s.cfg.Endpoint, err)
	}
	if s.cfg.Endpoint.Network == "unix" {
		if err = os.Chmod(s.cfg.Endpoint.Address, 0o777); err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to set permissions of %s: %w", s.cfg.Endpoint.Address, err)
		}
	}
	s.ln = ln
	log.Infof("Producer side listening on %v", s.cfg.Endpoint)
	return nil
}

// Addr returns the listening address. Only valid after Start.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops listening without serving.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Serve accepts producers until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("failed to accept producer: %w", err)
		}
		pc := newProducerConn(conn)
		s.mu.Lock()
		s.conns[pc] = libpf.Void{}
		if s.capturing {
			pc.start(s.captureID)
		}
		s.mu.Unlock()
		metrics.Add(metrics.IDProducersConnected, metrics.MetricValue(s.NumProducers()))

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(pc)
		}()
	}
}

// NumProducers returns the number of connected producers.
func (s *Server) NumProducers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// IsCapturing reports whether a capture is running.
func (s *Server) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// OnCaptureStart tells every current and future producer to start capturing.
func (s *Server) OnCaptureStart(captureID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capturing = true
	s.captureID = captureID
	for pc := range s.conns {
		pc.start(captureID)
	}
	metrics.Add(metrics.IDCaptureStarts, 1)
	log.Infof("Capture %v started with %d producers", captureID, len(s.conns))
}

// OnCaptureStop tells the producers to stop capturing and waits until each
// producer that was capturing sent all its events, disconnected, or
// StopTimeout elapsed.
func (s *Server) OnCaptureStop(ctx context.Context) error {
	s.mu.Lock()
	s.capturing = false
	type stopWait struct {
		allSent, closed <-chan struct{}
	}
	var waiting []stopWait
	for pc := range s.conns {
		if allSent, ok := pc.stop(); ok {
			waiting = append(waiting, stopWait{allSent: allSent, closed: pc.closed})
		}
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	pending := 0
	for _, w := range waiting {
		select {
		case <-w.allSent:
		case <-w.closed:
		case <-ctx.Done():
			pending++
		}
	}
	if pending > 0 {
		metrics.Add(metrics.IDServiceStopTimeouts, 1)
		return fmt.Errorf("%w: %d of %d producers", ErrStopTimeout, pending, len(waiting))
	}
	log.Infof("Capture stopped, %d producers sent all events", len(waiting))
	return nil
}

// OnCaptureFinished tells the producers that the capture is complete.
func (s *Server) OnCaptureFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pc := range s.conns {
		pc.send(capturechannel.FrameCaptureFinished, nil)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pc := range s.conns {
		_ = pc.conn.Close()
	}
}

func (s *Server) handle(pc *producerConn) {
	defer func() {
		_ = pc.conn.Close()
		close(pc.closed)
		s.mu.Lock()
		delete(s.conns, pc)
		n := len(s.conns)
		s.mu.Unlock()
		metrics.Add(metrics.IDProducersConnected, metrics.MetricValue(n))
	}()

	fr := capturechannel.NewFrameReader(pc.conn)
	var (
		decompressed []byte
		evs          []events.Event
	)
	for {
		typ, payload, err := fr.Next()
		if err != nil {
			log.Debugf("Producer %d disconnected: %v", pc.pid, err)
			return
		}
		switch typ {
		case capturechannel.FrameHello:
			if len(payload) >= 4 {
				pc.pid = libpf.PID(binary.LittleEndian.Uint32(payload))
			}
			log.Debugf("Producer %d connected", pc.pid)
		case capturechannel.FrameEventBatch, capturechannel.FrameEventBatchZstd:
			batch, err := capturechannel.DecompressBatch(decompressed, typ, payload)
			if err != nil {
				log.Warnf("Dropping connection to producer %d: %v", pc.pid, err)
				return
			}
			if typ == capturechannel.FrameEventBatchZstd {
				decompressed = batch
			}
			evs, err = events.UnmarshalBatch(batch, evs[:0])
			if err != nil {
				log.Warnf("Dropping connection to producer %d: %v", pc.pid, err)
				return
			}
			metrics.Add(metrics.IDServiceEventsReceived, metrics.MetricValue(len(evs)))
			if s.cfg.Processor != nil {
				s.cfg.Processor.ProcessEvents(evs)
			}
		case capturechannel.FrameAllEventsSent:
			pc.markAllSent()
		default:
			log.Debugf("Ignoring unexpected frame %v from producer %d", typ, pc.pid)
		}
	}
}
