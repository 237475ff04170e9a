// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

import "github.com/sandboxdbg/rspbridge/internal/debugapi"

// mask32 truncates a setter's incoming value to 32 bits before storing it
// in the wider Regs field, since the i386 table is just the amd64 register
// file's low 32 bits (how a 32-bit compatibility process's context is
// exposed on an amd64 kernel).
func mask32(v uint64) uint64 { return v & 0xffffffff }

// I386 is kept for architectural completeness even though LinuxPtrace (the
// only concrete facade this module ships) always reports 64-bit registers;
// it documents how a 32-bit compatibility-mode thread's flat registers
// would be derived from the same underlying register file.
var I386 = Table{
	{Name: "eax", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rax) }, Set: func(r *debugapi.Regs, v uint64) { r.Rax = mask32(v) }},
	{Name: "ecx", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rcx) }, Set: func(r *debugapi.Regs, v uint64) { r.Rcx = mask32(v) }},
	{Name: "edx", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rdx) }, Set: func(r *debugapi.Regs, v uint64) { r.Rdx = mask32(v) }},
	{Name: "ebx", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rbx) }, Set: func(r *debugapi.Regs, v uint64) { r.Rbx = mask32(v) }},
	{Name: "esp", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rsp) }, Set: func(r *debugapi.Regs, v uint64) { r.Rsp = mask32(v) }},
	{Name: "ebp", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rbp) }, Set: func(r *debugapi.Regs, v uint64) { r.Rbp = mask32(v) }},
	{Name: "esi", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rsi) }, Set: func(r *debugapi.Regs, v uint64) { r.Rsi = mask32(v) }},
	{Name: "edi", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rdi) }, Set: func(r *debugapi.Regs, v uint64) { r.Rdi = mask32(v) }},
	{Name: "eip", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Rip) }, Set: func(r *debugapi.Regs, v uint64) { r.Rip = mask32(v) }},
	{Name: "eflags", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return mask32(r.Eflags) }, Set: func(r *debugapi.Regs, v uint64) { r.Eflags = mask32(v) }},
	{Name: "cs", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Cs }, Set: func(r *debugapi.Regs, v uint64) { r.Cs = v }},
	{Name: "ss", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Ss }, Set: func(r *debugapi.Regs, v uint64) { r.Ss = v }},
	{Name: "ds", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Ds }, Set: func(r *debugapi.Regs, v uint64) { r.Ds = v }},
	{Name: "es", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Es }, Set: func(r *debugapi.Regs, v uint64) { r.Es = v }},
	{Name: "fs", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Fs }, Set: func(r *debugapi.Regs, v uint64) { r.Fs = v }},
	{Name: "gs", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Gs }, Set: func(r *debugapi.Regs, v uint64) { r.Gs = v }},
}
