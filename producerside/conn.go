// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package producerside // import "go.opentelemetry.io/orbit-tracing/producerside"

import (
	"net"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/capturechannel"
	"go.opentelemetry.io/orbit-tracing/libpf"
)

type producerConn struct {
	conn net.Conn
	pid  libpf.PID

	// mu guards writes and the capture state of this producer.
	mu        sync.Mutex
	capturing bool
	allSent   chan struct{}
	closed    chan struct{}
}

func newProducerConn(conn net.Conn) *producerConn {
	return &producerConn{
		conn:   conn,
		closed: make(chan struct{}),
	}
}

func (pc *producerConn) send(typ capturechannel.FrameType, payload []byte) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.sendLocked(typ, payload)
}

func (pc *producerConn) sendLocked(typ capturechannel.FrameType, payload []byte) {
	if err := capturechannel.WriteFrame(pc.conn, typ, payload); err != nil {
		log.Debugf("Failed to send %v to producer %d: %v", typ, pc.pid, err)
		_ = pc.conn.Close()
	}
}

func (pc *producerConn) start(id uuid.UUID) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.capturing = true
	pc.allSent = make(chan struct{})
	pc.sendLocked(capturechannel.FrameStartCapture, id[:])
}

// stop sends StopCapture to a capturing producer and returns the channel
// closed once it confirmed that all events were sent.
func (pc *producerConn) stop() (allSent <-chan struct{}, ok bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.capturing {
		return nil, false
	}
	pc.capturing = false
	pc.sendLocked(capturechannel.FrameStopCapture, nil)
	return pc.allSent, true
}

func (pc *producerConn) markAllSent() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.allSent == nil {
		return
	}
	select {
	case <-pc.allSent:
	default:
		close(pc.allSent)
	}
}
