// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blob implements an ordered byte sequence with push/pop access at
// both ends, hex encode/decode, and the splitting helpers the wire-protocol
// layer builds on.
package blob

import (
	"fmt"
	"strings"
)

// Blob is an ordered sequence of bytes. The zero value is an empty blob.
type Blob struct {
	b []byte
}

// New returns a Blob containing a copy of b.
func New(b []byte) *Blob {
	return &Blob{b: append([]byte(nil), b...)}
}

// FromString returns a Blob containing the bytes of s.
func FromString(s string) *Blob {
	return &Blob{b: []byte(s)}
}

// Sprintf builds a Blob using a printf-shaped format string.
func Sprintf(format string, args ...interface{}) *Blob {
	return &Blob{b: []byte(fmt.Sprintf(format, args...))}
}

// Len returns the number of bytes in the blob.
func (bl *Blob) Len() int {
	return len(bl.b)
}

// Bytes returns the blob's contents. The caller must not modify the result.
func (bl *Blob) Bytes() []byte {
	return bl.b
}

// String returns the blob's contents as a string.
func (bl *Blob) String() string {
	return string(bl.b)
}

// Equal reports whether bl and other contain the same bytes.
func (bl *Blob) Equal(other *Blob) bool {
	if other == nil {
		return bl.Len() == 0
	}
	if len(bl.b) != len(other.b) {
		return false
	}
	for i := range bl.b {
		if bl.b[i] != other.b[i] {
			return false
		}
	}
	return true
}

// PushBack appends data to the end of the blob.
func (bl *Blob) PushBack(data []byte) {
	bl.b = append(bl.b, data...)
}

// PushFront prepends data to the start of the blob.
func (bl *Blob) PushFront(data []byte) {
	bl.b = append(append([]byte(nil), data...), bl.b...)
}

// PopBack removes and returns the last n bytes. It panics if n exceeds Len.
func (bl *Blob) PopBack(n int) []byte {
	if n > len(bl.b) {
		panic("blob: PopBack past start")
	}
	split := len(bl.b) - n
	out := append([]byte(nil), bl.b[split:]...)
	bl.b = bl.b[:split]
	return out
}

// PopFront removes and returns the first n bytes. It panics if n exceeds Len.
func (bl *Blob) PopFront(n int) []byte {
	if n > len(bl.b) {
		panic("blob: PopFront past end")
	}
	out := append([]byte(nil), bl.b[:n]...)
	bl.b = bl.b[n:]
	return out
}

// PopMatchingBytesFromFront removes and discards a leading run of bytes for
// which match returns true, returning how many were removed.
func (bl *Blob) PopMatchingBytesFromFront(match func(byte) bool) int {
	i := 0
	for i < len(bl.b) && match(bl.b[i]) {
		i++
	}
	bl.b = bl.b[i:]
	return i
}

// Clear empties the blob.
func (bl *Blob) Clear() {
	bl.b = nil
}

// Append concatenates other onto the end of bl.
func (bl *Blob) Append(other *Blob) {
	bl.b = append(bl.b, other.b...)
}

// Peek copies up to len(dst) bytes starting at offset into dst, returning
// the number of bytes actually copied.
func (bl *Blob) Peek(offset int, dst []byte) int {
	if offset >= len(bl.b) || offset < 0 {
		return 0
	}
	return copy(dst, bl.b[offset:])
}

// TrimSpace trims leading and trailing ASCII whitespace.
func (bl *Blob) TrimSpace() {
	bl.b = []byte(strings.TrimSpace(string(bl.b)))
}

// Split breaks the blob into non-empty tokens separated by runs of any byte
// in delims, preserving order.
func (bl *Blob) Split(delims string) []*Blob {
	var out []*Blob
	isDelim := func(c byte) bool { return strings.IndexByte(delims, c) >= 0 }
	start := -1
	for i, c := range bl.b {
		if isDelim(c) {
			if start >= 0 {
				out = append(out, New(bl.b[start:i]))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, New(bl.b[start:]))
	}
	return out
}

const hexDigits = "0123456789abcdef"

// HexCharToInt converts a single ASCII hex digit to its value, or -1 if c is
// not a hex digit.
func HexCharToInt(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// ToHexString renders bl as lowercase hex, two nibbles per byte, high
// nibble first.
func (bl *Blob) ToHexString() string {
	out := make([]byte, 2*len(bl.b))
	for i, c := range bl.b {
		out[2*i] = hexDigits[c>>4]
		out[2*i+1] = hexDigits[c&0xf]
	}
	return string(out)
}

// FromHexString decodes a hex string into a Blob. An odd-length string is
// accepted; the leading nibble is treated as the high nibble (zero) of the
// first byte.
func FromHexString(s string) (*Blob, error) {
	if len(s) == 0 {
		return &Blob{}, nil
	}
	digits := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		d := HexCharToInt(s[i])
		if d < 0 {
			return nil, fmt.Errorf("blob: invalid hex digit %q at offset %d", s[i], i)
		}
		digits[i] = d
	}
	odd := len(digits)%2 != 0
	out := make([]byte, 0, (len(digits)+1)/2)
	i := 0
	if odd {
		out = append(out, byte(digits[0]))
		i = 1
	}
	for ; i < len(digits); i += 2 {
		out = append(out, byte(digits[i]<<4|digits[i+1]))
	}
	return &Blob{b: out}, nil
}

// Reverse reverses the byte order of the blob in place.
func (bl *Blob) Reverse() {
	for i, j := 0, len(bl.b)-1; i < j; i, j = i+1, j-1 {
		bl.b[i], bl.b[j] = bl.b[j], bl.b[i]
	}
}
