// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturechannel // import "go.opentelemetry.io/orbit-tracing/capturechannel"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/klauspost/compress/zstd"
)

// FrameType identifies the payload of a frame.
type FrameType uint8

// Frames sent by the service to producers.
const (
	FrameStartCapture    FrameType = 1
	FrameStopCapture     FrameType = 2
	FrameCaptureFinished FrameType = 3
)

// Frames sent by producers to the service.
const (
	FrameHello          FrameType = 16
	FrameEventBatch     FrameType = 17
	FrameEventBatchZstd FrameType = 18
	FrameAllEventsSent  FrameType = 19
)

func (t FrameType) String() string {
	switch t {
	case FrameStartCapture:
		return "StartCapture"
	case FrameStopCapture:
		return "StopCapture"
	case FrameCaptureFinished:
		return "CaptureFinished"
	case FrameHello:
		return "Hello"
	case FrameEventBatch:
		return "EventBatch"
	case FrameEventBatchZstd:
		return "EventBatchZstd"
	case FrameAllEventsSent:
		return "AllEventsSent"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

const (
	// frameHeaderSize is a little-endian uint32 length followed by the type
	// byte. The length counts the type byte and the payload.
	frameHeaderSize = 5
	// MaxFrameSize bounds the payload of a single frame.
	MaxFrameSize = 64 << 20
	// compressThreshold is the batch size above which batches are zstd
	// compressed.
	compressThreshold = 4 << 10
)

// ErrFrameTooLarge is returned for frames exceeding MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes a single frame. Concurrent writers must serialize calls.
func WriteFrame(w io.Writer, typ FrameType, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)+1))
	hdr[4] = byte(typ)
	bufs := net.Buffers{hdr[:], payload}
	_, err := bufs.WriteTo(w)
	return err
}

// FrameReader reads frames from a stream, reusing its buffer between calls.
type FrameReader struct {
	r   io.Reader
	buf []byte
}

// NewFrameReader returns a reader for the frames of r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next returns the next frame. The payload is only valid until the next call.
func (fr *FrameReader) Next() (FrameType, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return 0, nil, err
	}
	length := binary.LittleEndian.Uint32(hdr[:4])
	if length == 0 {
		return 0, nil, errors.New("invalid frame length 0")
	}
	size := int(length - 1)
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	if cap(fr.buf) < size {
		fr.buf = make([]byte, size)
	}
	payload := fr.buf[:size]
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return 0, nil, fmt.Errorf("truncated %v frame: %w", FrameType(hdr[4]), err)
	}
	return FrameType(hdr[4]), payload, nil
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
)

// CompressBatch returns the frame type and payload to use for an encoded
// batch, compressing large batches into dst.
func CompressBatch(dst, batch []byte) (FrameType, []byte) {
	if len(batch) < compressThreshold {
		return FrameEventBatch, batch
	}
	return FrameEventBatchZstd, zstdEncoder.EncodeAll(batch, dst[:0])
}

// DecompressBatch undoes CompressBatch.
func DecompressBatch(dst []byte, typ FrameType, payload []byte) ([]byte, error) {
	switch typ {
	case FrameEventBatch:
		return payload, nil
	case FrameEventBatchZstd:
		return zstdDecoder.DecodeAll(payload, dst[:0])
	default:
		return nil, fmt.Errorf("unexpected frame %v for event batch", typ)
	}
}
