// Package vle implements the variable-length integer and vector encoding
// used throughout the wire protocol (spec.md §4.4, §6): 7 bits of payload
// per byte, high bit set means "more bytes follow", little-endian chunk
// order. Vectors are a VLE length prefix followed by that many raw bytes.
package vle

import "errors"

// ErrTruncated is returned when a buffer ends before a VLE value or vector
// completes decoding; callers treat this as spec.md §7's "malformed
// message (truncated)" case and abandon the remainder of the packet.
var ErrTruncated = errors.New("vle: truncated input")

// ErrOverflow is returned when a VLE-encoded integer would not fit in the
// requested width (a protocol violation, or a payload from a future,
// wider-field version of the wire format).
var ErrOverflow = errors.New("vle: value exceeds 64 bits")

// MaxVarintLen64 is the longest possible VLE encoding of a uint64: 10
// groups of 7 bits cover the full 64-bit range.
const MaxVarintLen64 = 10

// AppendUint64 appends the VLE encoding of v to buf and returns the result.
func AppendUint64(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// SizeUint64 returns the number of bytes AppendUint64 would emit for v.
func SizeUint64(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// DecodeUint64 decodes a VLE-encoded uint64 from the front of buf, returning
// the value and the number of bytes consumed.
func DecodeUint64(buf []byte) (v uint64, n int, err error) {
	var shift uint
	for {
		if n >= len(buf) {
			return 0, 0, ErrTruncated
		}
		b := buf[n]
		n++
		if shift >= 64 {
			return 0, 0, ErrOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, n, nil
		}
		shift += 7
	}
}

// AppendVec appends a VLE length prefix followed by data to buf.
func AppendVec(buf []byte, data []byte) []byte {
	buf = AppendUint64(buf, uint64(len(data)))
	return append(buf, data...)
}

// SizeVec returns the number of bytes AppendVec would emit for data.
func SizeVec(data []byte) int {
	return SizeUint64(uint64(len(data))) + len(data)
}

// DecodeVec decodes a VLE length followed by that many bytes from the front
// of buf. The returned slice aliases buf; callers that need to retain it
// across further decoding must copy.
func DecodeVec(buf []byte) (data []byte, n int, err error) {
	l, ln, err := DecodeUint64(buf)
	if err != nil {
		return nil, 0, err
	}
	total := ln + int(l)
	if total < ln || total > len(buf) {
		return nil, 0, ErrTruncated
	}
	return buf[ln:total], total, nil
}
