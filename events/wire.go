// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package events // import "go.opentelemetry.io/orbit-tracing/events"

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/libpf"
)

// Events are encoded as protobuf messages so that the service can evolve the
// schema without breaking older support libraries:
//
//	message Event {
//	  uint32  kind        = 1;
//	  uint32  pid         = 2;
//	  uint32  tid         = 3;
//	  fixed64 timestamp   = 4;
//	  bytes   name        = 5;
//	  fixed32 color       = 6;
//	  uint64  group_id    = 7;
//	  fixed64 caller_addr = 8;
//	  uint64  id          = 9;
//	  fixed64 value       = 10;
//	}
//	message Batch { repeated Event events = 1; }
const (
	fieldKind       protowire.Number = 1
	fieldPID        protowire.Number = 2
	fieldTID        protowire.Number = 3
	fieldTimestamp  protowire.Number = 4
	fieldName       protowire.Number = 5
	fieldColor      protowire.Number = 6
	fieldGroupID    protowire.Number = 7
	fieldCallerAddr protowire.Number = 8
	fieldID         protowire.Number = 9
	fieldValue      protowire.Number = 10

	fieldBatchEvents protowire.Number = 1
)

var errTruncated = errors.New("truncated event encoding")

// AppendEvent appends the encoding of e to b. Zero fields are omitted.
func AppendEvent(b []byte, e *Event) []byte {
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	if e.PID != 0 {
		b = protowire.AppendTag(b, fieldPID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.PID))
	}
	if e.TID != 0 {
		b = protowire.AppendTag(b, fieldTID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.TID))
	}
	if e.TimestampNS != 0 {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, e.TimestampNS)
	}
	if n := e.Name.Len(); n != 0 {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(n))
		b = e.Name.AppendTo(b)
	}
	if e.Color != 0 {
		b = protowire.AppendTag(b, fieldColor, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, uint32(e.Color))
	}
	if e.GroupID != 0 {
		b = protowire.AppendTag(b, fieldGroupID, protowire.VarintType)
		b = protowire.AppendVarint(b, e.GroupID)
	}
	if e.CallerAddr != 0 {
		b = protowire.AppendTag(b, fieldCallerAddr, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, e.CallerAddr)
	}
	if e.ID != 0 {
		b = protowire.AppendTag(b, fieldID, protowire.VarintType)
		b = protowire.AppendVarint(b, e.ID)
	}
	if e.value != 0 {
		b = protowire.AppendTag(b, fieldValue, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, e.value)
	}
	return b
}

// UnmarshalEvent decodes a single event message. Unknown fields are skipped.
func UnmarshalEvent(b []byte) (Event, error) {
	var e Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			e.Name = EncodeBytes(v)
			b = b[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldKind:
				e.Kind = Kind(v)
			case fieldPID:
				e.PID = libpf.PID(v)
			case fieldTID:
				e.TID = libpf.TID(v)
			case fieldGroupID:
				e.GroupID = v
			case fieldID:
				e.ID = v
			}
		case typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldTimestamp:
				e.TimestampNS = v
			case fieldCallerAddr:
				e.CallerAddr = v
			case fieldValue:
				e.value = v
			}
		case typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			b = b[n:]
			if num == fieldColor {
				e.Color = apiabi.Color(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if !e.Kind.Valid() {
		return Event{}, fmt.Errorf("invalid event kind %d", e.Kind)
	}
	return e, nil
}

// AppendBatch appends the Batch encoding of evs to b.
func AppendBatch(b []byte, evs []Event) []byte {
	var scratch [128]byte
	for i := range evs {
		msg := AppendEvent(scratch[:0], &evs[i])
		b = protowire.AppendTag(b, fieldBatchEvents, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	return b
}

// UnmarshalBatch decodes a Batch, appending the events to evs.
func UnmarshalBatch(b []byte, evs []Event) ([]Event, error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return evs, protowire.ParseError(n)
		}
		b = b[n:]
		if num != fieldBatchEvents || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return evs, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		msg, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return evs, fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
		}
		b = b[n:]
		e, err := UnmarshalEvent(msg)
		if err != nil {
			return evs, err
		}
		evs = append(evs, e)
	}
	return evs, nil
}
