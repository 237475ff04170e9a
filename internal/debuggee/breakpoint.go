// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debuggee

// trapByte is the x86 INT3 instruction, the software breakpoint's trap
// opcode (the teacher's arch.AMD64.BreakpointInstr[0]).
const trapByte = 0xCC

// Breakpoint owns one (address, original-byte) pair on one process. It
// takes its owning process as a parameter to each method rather than
// storing a back-pointer, the handle-based ownership style the rewrite
// uses throughout instead of the source's raw back-references.
type Breakpoint struct {
	addr         uint64
	originalByte byte
	armed        bool
}

// NewBreakpoint returns a breakpoint at addr, not yet armed.
func NewBreakpoint(addr uint64) *Breakpoint {
	return &Breakpoint{addr: addr}
}

// Address returns the breakpoint's address.
func (b *Breakpoint) Address() uint64 { return b.addr }

// Armed reports whether the trap byte currently overwrites memory.
func (b *Breakpoint) Armed() bool { return b.armed }

// Arm reads the byte at addr, stores it, and writes the trap byte. It is
// idempotent: calling Arm on an already-armed breakpoint is a no-op that
// returns true. On read failure the breakpoint stays unarmed.
func (b *Breakpoint) Arm(mem memAccessor) bool {
	if b.armed {
		return true
	}
	orig, err := mem.ReadMemory(b.addr, 1)
	if err != nil {
		return false
	}
	b.originalByte = orig[0]
	return b.writeTrapByte(mem)
}

// writeTrapByte overwrites the breakpoint's byte with the trap instruction,
// without re-reading the original byte. Arm uses it once it has read and
// stashed originalByte; Rearm uses it directly, since the byte is already
// known.
func (b *Breakpoint) writeTrapByte(mem memAccessor) bool {
	if err := mem.WriteMemory(b.addr, []byte{trapByte}); err != nil {
		return false
	}
	b.armed = true
	return true
}

// Disarm restores the original byte. Safe to call on an unarmed
// breakpoint, which is a no-op.
func (b *Breakpoint) Disarm(mem memAccessor) bool {
	if !b.armed {
		return true
	}
	if err := mem.WriteMemory(b.addr, []byte{b.originalByte}); err != nil {
		return false
	}
	b.armed = false
	return true
}

// Rearm writes the trap byte again without re-reading memory, used during
// the single-step breakpoint-resume handoff (§4.6).
func (b *Breakpoint) Rearm(mem memAccessor) bool {
	return b.writeTrapByte(mem)
}

// memAccessor is the narrow seam Breakpoint needs from its owning Process:
// just enough to read the original byte and write the trap byte back,
// without holding a reference to the whole Process.
type memAccessor interface {
	ReadMemory(addr uint64, size int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
}
