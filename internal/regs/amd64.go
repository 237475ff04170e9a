// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

import "github.com/sandboxdbg/rspbridge/internal/debugapi"

// AMD64 is the flat register layout gdb's x86-64 target expects: the
// sixteen general-purpose registers, rip, then eflags and the six segment
// registers (each travelling 32 bits wide on the wire though the OS only
// exposes 16 native bits).
var AMD64 = Table{
	{Name: "rax", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rax }, Set: func(r *debugapi.Regs, v uint64) { r.Rax = v }},
	{Name: "rbx", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rbx }, Set: func(r *debugapi.Regs, v uint64) { r.Rbx = v }},
	{Name: "rcx", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rcx }, Set: func(r *debugapi.Regs, v uint64) { r.Rcx = v }},
	{Name: "rdx", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rdx }, Set: func(r *debugapi.Regs, v uint64) { r.Rdx = v }},
	{Name: "rsi", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rsi }, Set: func(r *debugapi.Regs, v uint64) { r.Rsi = v }},
	{Name: "rdi", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rdi }, Set: func(r *debugapi.Regs, v uint64) { r.Rdi = v }},
	{Name: "rbp", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rbp }, Set: func(r *debugapi.Regs, v uint64) { r.Rbp = v }},
	{Name: "rsp", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rsp }, Set: func(r *debugapi.Regs, v uint64) { r.Rsp = v }},
	{Name: "r8", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.R8 }, Set: func(r *debugapi.Regs, v uint64) { r.R8 = v }},
	{Name: "r9", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.R9 }, Set: func(r *debugapi.Regs, v uint64) { r.R9 = v }},
	{Name: "r10", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.R10 }, Set: func(r *debugapi.Regs, v uint64) { r.R10 = v }},
	{Name: "r11", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.R11 }, Set: func(r *debugapi.Regs, v uint64) { r.R11 = v }},
	{Name: "r12", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.R12 }, Set: func(r *debugapi.Regs, v uint64) { r.R12 = v }},
	{Name: "r13", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.R13 }, Set: func(r *debugapi.Regs, v uint64) { r.R13 = v }},
	{Name: "r14", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.R14 }, Set: func(r *debugapi.Regs, v uint64) { r.R14 = v }},
	{Name: "r15", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.R15 }, Set: func(r *debugapi.Regs, v uint64) { r.R15 = v }},
	{Name: "rip", WireBytes: 8, Get: func(r *debugapi.Regs) uint64 { return r.Rip }, Set: func(r *debugapi.Regs, v uint64) { r.Rip = v }},
	{Name: "eflags", WireBytes: 4, Get: func(r *debugapi.Regs) uint64 { return r.Eflags }, Set: func(r *debugapi.Regs, v uint64) { r.Eflags = v }},
	{Name: "cs", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Cs }, Set: func(r *debugapi.Regs, v uint64) { r.Cs = v }},
	{Name: "ss", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Ss }, Set: func(r *debugapi.Regs, v uint64) { r.Ss = v }},
	{Name: "ds", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Ds }, Set: func(r *debugapi.Regs, v uint64) { r.Ds = v }},
	{Name: "es", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Es }, Set: func(r *debugapi.Regs, v uint64) { r.Es = v }},
	{Name: "fs", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Fs }, Set: func(r *debugapi.Regs, v uint64) { r.Fs = v }},
	{Name: "gs", WireBytes: 4, SegExtend: true, Get: func(r *debugapi.Regs) uint64 { return r.Gs }, Set: func(r *debugapi.Regs, v uint64) { r.Gs = v }},
}
