// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package capturechannel implements the connection between an instrumented
// process and the producer side of the service. Commands flow from the service
// to the process, event batches flow back.
package capturechannel // import "go.opentelemetry.io/orbit-tracing/capturechannel"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/metrics"
)

// CaptureTarget is driven by the commands of the service.
type CaptureTarget interface {
	SetCapturing(capturing bool)
	// Flush sends every pending event followed by an all-events-sent
	// notification.
	Flush(ctx context.Context) error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint Endpoint
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// StopFlushTimeout bounds the flush following a StopCapture command.
	StopFlushTimeout time.Duration
	// NewBackOff returns the reconnect policy. Defaults to an unbounded
	// exponential backoff capped at 5 seconds.
	NewBackOff func() backoff.BackOff
}

func (c *ClientConfig) setDefaults() {
	if c.Endpoint.Network == "" {
		c.Endpoint = EndpointFromEnv()
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = time.Second
	}
	if c.StopFlushTimeout <= 0 {
		c.StopFlushTimeout = 10 * time.Second
	}
	if c.NewBackOff == nil {
		c.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
}

var errNotConnected = errors.New("not connected to the service")

// Client is the process side of the capture channel. It implements
// producer.Sink; the batch buffers are owned by the single relay goroutine.
type Client struct {
	cfg    ClientConfig
	target CaptureTarget

	// mu guards conn. wmu serializes writes on it.
	mu   sync.Mutex
	wmu  sync.Mutex
	conn net.Conn

	capturing atomic.Bool
	captureID atomic.Pointer[uuid.UUID]

	batchBuf []byte
	zstdBuf  []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient returns a client that is not yet connected.
func NewClient(cfg ClientConfig) *Client {
	cfg.setDefaults()
	return &Client{cfg: cfg}
}

// Start connects to the service in the background, reconnecting after
// failures until ShutdownAndWait is called.
func (c *Client) Start(ctx context.Context, target CaptureTarget) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.target = target
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// IsCapturing returns the last capture state sent by the service.
func (c *Client) IsCapturing() bool {
	return c.capturing.Load()
}

// CaptureID returns the id of the current or last capture.
func (c *Client) CaptureID() (uuid.UUID, bool) {
	id := c.captureID.Load()
	if id == nil {
		return uuid.Nil, false
	}
	return *id, true
}

// Connected reports whether a connection to the service is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ShutdownAndWait closes the connection and waits for the background
// goroutines.
func (c *Client) ShutdownAndWait() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Client) setCapturing(capturing bool) {
	c.capturing.Store(capturing)
	c.target.SetCapturing(capturing)
}

func (c *Client) run(ctx context.Context) {
	b := backoff.WithContext(c.cfg.NewBackOff(), ctx)
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	for ctx.Err() == nil {
		conn, err := dialer.DialContext(ctx, c.cfg.Endpoint.Network, c.cfg.Endpoint.Address)
		if err != nil {
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			log.Debugf("Failed to connect to %v, retrying in %v: %v", c.cfg.Endpoint, wait, err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			metrics.Add(metrics.IDChannelReconnects, 1)
			continue
		}
		b.Reset()

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		log.Debugf("Connected to %v", c.cfg.Endpoint)

		err = c.serve(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		c.setCapturing(false)
		if ctx.Err() == nil {
			log.Debugf("Connection to %v lost: %v", c.cfg.Endpoint, err)
		}
	}
}

func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	var hello [4]byte
	binary.LittleEndian.PutUint32(hello[:], uint32(os.Getpid()))
	if err := c.write(conn, FrameHello, hello[:]); err != nil {
		return err
	}

	fr := NewFrameReader(conn)
	for {
		typ, payload, err := fr.Next()
		if err != nil {
			return err
		}
		switch typ {
		case FrameStartCapture:
			if id, err := uuid.FromBytes(payload); err == nil {
				c.captureID.Store(&id)
			}
			c.setCapturing(true)
		case FrameStopCapture:
			c.setCapturing(false)
			flushCtx, cancel := context.WithTimeout(ctx, c.cfg.StopFlushTimeout)
			err = c.target.Flush(flushCtx)
			cancel()
			if err != nil {
				log.Warnf("Failed to flush events after the capture stopped: %v", err)
			}
		case FrameCaptureFinished:
			log.Debug("Capture finished")
		default:
			log.Debugf("Ignoring unexpected frame %v", typ)
		}
	}
}

func (c *Client) write(conn net.Conn, typ FrameType, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(conn, typ, payload)
}

func (c *Client) send(typ FrameType, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	if err := c.write(conn, typ, payload); err != nil {
		// The serve loop notices the closed connection and reconnects.
		c.setCapturing(false)
		_ = conn.Close()
		return fmt.Errorf("failed to send %v: %w", typ, err)
	}
	metrics.Add(metrics.IDChannelBytesSent, metrics.MetricValue(len(payload)+frameHeaderSize))
	return nil
}

// SendBatch implements producer.Sink.
func (c *Client) SendBatch(evs []events.Event) error {
	c.batchBuf = events.AppendBatch(c.batchBuf[:0], evs)
	typ, payload := CompressBatch(c.zstdBuf, c.batchBuf)
	if typ == FrameEventBatchZstd {
		c.zstdBuf = payload
	}
	if err := c.send(typ, payload); err != nil {
		return err
	}
	metrics.Add(metrics.IDChannelBatchesSent, 1)
	return nil
}

// SendAllEventsSent implements producer.Sink.
func (c *Client) SendAllEventsSent() error {
	return c.send(FrameAllEventsSent, nil)
}
