// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package events // import "go.opentelemetry.io/orbit-tracing/events"

import "unicode/utf8"

// EncodedStringWords is the number of 64-bit words of an EncodedString.
const EncodedStringWords = 8

// MaxStringLen is the per-event byte budget for names and string payloads.
// Longer strings are truncated.
const MaxStringLen = EncodedStringWords * 8

// EncodedString stores up to MaxStringLen bytes of a string in little-endian
// 64-bit words, zero padded. It is a value type so that events can carry
// names without pointing into memory owned by the caller.
type EncodedString [EncodedStringWords]uint64

// EncodeString packs s, truncating it to MaxStringLen bytes. Truncation
// never splits a UTF-8 sequence. EncodeString does not allocate.
func EncodeString(s string) EncodedString {
	if len(s) > MaxStringLen {
		cut := MaxStringLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return encodeBytes(s)
}

// EncodeBytes is EncodeString for a byte slice, without the UTF-8 handling.
// Used for strings read from foreign memory.
func EncodeBytes(b []byte) EncodedString {
	if len(b) > MaxStringLen {
		b = b[:MaxStringLen]
	}
	return encodeBytes(b)
}

func encodeBytes[T string | []byte](s T) EncodedString {
	var es EncodedString
	for i := range len(s) {
		es[i/8] |= uint64(s[i]) << (8 * (i % 8))
	}
	return es
}

// Len returns the number of bytes up to the first zero byte.
func (es *EncodedString) Len() int {
	for i, w := range es {
		if w == 0 {
			return i * 8
		}
		for j := range 8 {
			if byte(w>>(8*j)) == 0 {
				return i*8 + j
			}
		}
	}
	return MaxStringLen
}

// AppendTo appends the decoded bytes to b.
func (es *EncodedString) AppendTo(b []byte) []byte {
	n := es.Len()
	for i := range n {
		b = append(b, byte(es[i/8]>>(8*(i%8))))
	}
	return b
}

// String decodes the string. Decoding stops at the first zero byte.
func (es EncodedString) String() string {
	var buf [MaxStringLen]byte
	return string(es.AppendTo(buf[:0]))
}
