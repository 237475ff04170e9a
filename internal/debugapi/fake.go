// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"fmt"
	"time"
)

// Fake is a hand-written canned-event DebugAPI, grounded on the original's
// DebugAPIMock: a queue of events WaitForEvent drains in order, plus a flat
// byte-addressed memory image and a per-thread register set, so the
// debuggee state machine (C5-C8) can be driven deterministically in tests
// without a real kernel debugger underneath it.
type Fake struct {
	Events []Event

	Memory map[uint64]byte
	Regs   map[int]Regs // keyed by tid

	// Calls records every method invoked, in order, for tests that assert
	// on the call sequence the way CompareCallSequence does in the
	// original.
	Calls []string

	launchedArgv []string
	killed       map[int]bool
}

// NewFake returns a ready Fake with empty memory and no queued events.
func NewFake() *Fake {
	return &Fake{
		Memory: make(map[uint64]byte),
		Regs:   make(map[int]Regs),
		killed: make(map[int]bool),
	}
}

// PushEvent appends ev to the queue WaitForEvent drains.
func (f *Fake) PushEvent(ev Event) {
	f.Events = append(f.Events, ev)
}

// SetMemory seeds the fake's memory image starting at addr.
func (f *Fake) SetMemory(addr uint64, data []byte) {
	for i, b := range data {
		f.Memory[addr+uint64(i)] = b
	}
}

func (f *Fake) record(name string) { f.Calls = append(f.Calls, name) }

func (f *Fake) Launch(argv []string, dir string) (int, error) {
	f.record("Launch")
	f.launchedArgv = argv
	return 1, nil
}

func (f *Fake) Attach(pid int) error {
	f.record("Attach")
	return nil
}

func (f *Fake) Detach(pid int) error {
	f.record("Detach")
	return nil
}

func (f *Fake) WaitForEvent(timeout time.Duration) (*Event, error) {
	f.record("WaitForEvent")
	if len(f.Events) == 0 {
		return nil, nil
	}
	ev := f.Events[0]
	f.Events = f.Events[1:]
	return &ev, nil
}

func (f *Fake) ContinueEvent(pid, tid int, status ContinueStatus) error {
	f.record("ContinueEvent")
	return nil
}

func (f *Fake) ReadMemory(pid int, addr uint64, size int) ([]byte, error) {
	f.record("ReadMemory")
	out := make([]byte, size)
	for i := range out {
		b, ok := f.Memory[addr+uint64(i)]
		if !ok {
			return nil, fmt.Errorf("fake: unmapped address %#x", addr+uint64(i))
		}
		out[i] = b
	}
	return out, nil
}

func (f *Fake) WriteMemory(pid int, addr uint64, data []byte) error {
	f.record("WriteMemory")
	f.SetMemory(addr, data)
	return nil
}

func (f *Fake) FlushInstructionCache(pid int, addr uint64, size int) error {
	f.record("FlushInstructionCache")
	return nil
}

func (f *Fake) GetRegisters(pid, tid int) (*Regs, error) {
	f.record("GetThreadContext")
	r := f.Regs[tid]
	return &r, nil
}

func (f *Fake) SetRegisters(pid, tid int, regs *Regs) error {
	f.record("SetThreadContext")
	f.Regs[tid] = *regs
	return nil
}

func (f *Fake) RequestBreak(pid int) error {
	f.record("DebugBreakProcess")
	return nil
}

func (f *Fake) TerminateThread(pid, tid int) error {
	f.record("TerminateThread")
	f.killed[tid] = true
	return nil
}

func (f *Fake) WordSizeInBits(pid int) int {
	return 64
}

var _ DebugAPI = (*Fake)(nil)
