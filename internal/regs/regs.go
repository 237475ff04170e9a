// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs converts between the OS native thread-context layout and the
// protocol's flat register blob, per architecture. Each architecture is a
// single declarative table of fields in wire order; the code that walks a
// table is architecture-neutral, so supporting a new ISA means only adding
// a table (per the source's own design note).
package regs

import "github.com/sandboxdbg/rspbridge/internal/debugapi"

// Field is one entry of an architecture's register table. Unlike the
// original's (name, ctx_offset, ctx_size, flat_offset, flat_size) tuple —
// which made sense when copying into a raw C struct — Get/Set close over
// the named field on debugapi.Regs directly; reaching for unsafe pointer
// arithmetic into a Go struct just to keep the original's literal byte
// offsets would be less idiomatic, not more faithful.
type Field struct {
	Name      string
	WireBytes int // width of this field's slot on the wire
	SegExtend bool // zero-extend on read, truncate on write (segment registers)
	Get       func(*debugapi.Regs) uint64
	Set       func(*debugapi.Regs, uint64)
}

// Table is a complete architecture register layout, fields in wire order.
type Table []Field

// ToBlob copies r's fields into a flat little-endian byte blob in the
// table's declared order and widths.
func (t Table) ToBlob(r *debugapi.Regs) []byte {
	out := make([]byte, 0, t.Size())
	for _, f := range t {
		v := f.Get(r)
		if f.SegExtend {
			v &= 0xffff // native width is 16 bits; zero-extend the rest
		}
		out = appendLE(out, v, f.WireBytes)
	}
	return out
}

// FromBlob copies a flat byte blob back into r, field by field. Segment
// registers are truncated to their native 16-bit width on write, per the
// original's CopyRegisterFromBlobToCONTEXT behaviour.
func (t Table) FromBlob(blob []byte, r *debugapi.Regs) {
	off := 0
	for _, f := range t {
		v := readLE(blob, off, f.WireBytes)
		off += f.WireBytes
		if f.SegExtend {
			v &= 0xffff
		}
		f.Set(r, v)
	}
}

// Size is the total blob width in bytes.
func (t Table) Size() int {
	n := 0
	for _, f := range t {
		n += f.WireBytes
	}
	return n
}

func appendLE(out []byte, v uint64, width int) []byte {
	for i := 0; i < width; i++ {
		out = append(out, byte(v>>(8*uint(i))))
	}
	return out
}

func readLE(blob []byte, off, width int) uint64 {
	var v uint64
	for i := 0; i < width && off+i < len(blob); i++ {
		v |= uint64(blob[off+i]) << (8 * uint(i))
	}
	return v
}
