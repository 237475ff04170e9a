// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debuggee

import (
	"github.com/pkg/errors"

	"github.com/sandboxdbg/rspbridge/internal/debugapi"
)

// ProcessState is the lifecycle state of a whole debuggee process.
type ProcessState int

const (
	ProcessRunning ProcessState = iota
	ProcessDead
)

// Process owns every thread and breakpoint of one debuggee, grounded on
// debuggee_process.cc. It implements ProcessContext so its own threads can
// call back into it without holding a pointer of their own.
type Process struct {
	pid   int
	api   debugapi.DebugAPI
	state ProcessState

	threads map[int]*Thread
	order   []int // insertion order, for deterministic thread listing

	breakpoints map[uint64]*Breakpoint

	haltedTID int
	hasHalted bool

	guestMemBase    uint64
	guestEntryPoint uint64
	hasGuestMemBase bool

	// compatConflict latches when a second AppCreate announcement arrives
	// on a session that already recorded one; internal/bridge surfaces
	// this through the error-reply channel (the resolved compatibility-mode
	// Open Question) rather than silently replacing the recorded addresses.
	compatConflict bool
}

// NewProcess returns a process with no threads yet; threads are added by
// AddThread or, by OnDebugEvent, on the first event that names them.
func NewProcess(pid int, api debugapi.DebugAPI) *Process {
	return &Process{
		pid:         pid,
		api:         api,
		threads:     make(map[int]*Thread),
		breakpoints: make(map[uint64]*Breakpoint),
	}
}

func (p *Process) PID() int                    { return p.pid }
func (p *Process) DebugAPI() debugapi.DebugAPI { return p.api }
func (p *Process) State() ProcessState         { return p.state }
func (p *Process) IsDead() bool                { return p.state == ProcessDead }

// AddThread registers a new thread, a no-op if tid is already known.
func (p *Process) AddThread(tid int) *Thread {
	if th, ok := p.threads[tid]; ok {
		return th
	}
	th := NewThread(tid)
	p.threads[tid] = th
	p.order = append(p.order, tid)
	return th
}

// GetThread looks up a thread by id.
func (p *Process) GetThread(tid int) (*Thread, bool) {
	th, ok := p.threads[tid]
	return th, ok
}

// RemoveThread drops a thread, clearing the halted-thread pointer if it
// referred to the removed one.
func (p *Process) RemoveThread(tid int) {
	delete(p.threads, tid)
	for i, id := range p.order {
		if id == tid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.hasHalted && p.haltedTID == tid {
		p.hasHalted = false
	}
}

// ThreadIDs returns every known thread id, insertion order.
func (p *Process) ThreadIDs() []int {
	out := make([]int, len(p.order))
	copy(out, p.order)
	return out
}

// GuestThreadIDs returns the ids of threads classified as guest (nexe), the
// only ones the protocol surface exposes to a connected client.
func (p *Process) GuestThreadIDs() []int {
	var out []int
	for _, tid := range p.order {
		if th := p.threads[tid]; th != nil && th.IsGuest() {
			out = append(out, tid)
		}
	}
	return out
}

// HaltedThread returns the currently halted thread, if any.
func (p *Process) HaltedThread() (*Thread, bool) {
	if !p.hasHalted {
		return nil, false
	}
	th, ok := p.threads[p.haltedTID]
	return th, ok
}

// IsHalted reports whether any thread of the process is currently halted.
func (p *Process) IsHalted() bool { return p.hasHalted }

// OnDebugEvent routes a raw OS debug event to its thread, creating the
// thread first if this is its first sighting, and tracks the new halted
// thread the way debuggee_process.cc's OnDebugEvent does.
func (p *Process) OnDebugEvent(ev *debugapi.Event) GuestEventKind {
	if ev.Kind == debugapi.EventProcessExited {
		p.state = ProcessDead
	}
	th, ok := p.threads[ev.TID]
	if !ok {
		th = p.AddThread(ev.TID)
	}
	guestEvent := th.OnDebugEvent(ev, p)
	if th.State() == Dead {
		p.RemoveThread(ev.TID)
	} else if th.IsHalted() {
		p.haltedTID = ev.TID
		p.hasHalted = true
	}
	return guestEvent
}

// Continue resumes the currently halted thread, clearing the halted-thread
// pointer the way debuggee_process.cc's Continue() does.
func (p *Process) Continue(option ContinueOption) bool {
	if !p.hasHalted {
		return false
	}
	th, ok := p.threads[p.haltedTID]
	p.hasHalted = false
	if !ok {
		return false
	}
	return th.Continue(option, p)
}

// Kill terminates every thread and lets the process run to its exit event,
// matching debuggee_process.cc's Kill (TerminateThread on each, then
// Continue).
func (p *Process) Kill() error {
	var firstErr error
	for _, tid := range p.order {
		if err := p.api.TerminateThread(p.pid, tid); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "terminate thread")
		}
	}
	p.Continue(ContinueNormally)
	return firstErr
}

// SetBreakpoint arms a new software breakpoint at a flat address,
// replacing any existing one there.
func (p *Process) SetBreakpoint(addr uint64) error {
	p.RemoveBreakpoint(addr)
	br := NewBreakpoint(addr)
	if !br.Arm(memAccessorFunc{p}) {
		return errors.Errorf("debuggee: failed to arm breakpoint at %#x", addr)
	}
	p.breakpoints[addr] = br
	return nil
}

// BreakpointAt looks up a breakpoint by its flat address.
func (p *Process) BreakpointAt(addr uint64) (*Breakpoint, bool) {
	br, ok := p.breakpoints[addr]
	return br, ok
}

// RemoveBreakpoint disarms and forgets the breakpoint at addr, a no-op if
// none is set there.
func (p *Process) RemoveBreakpoint(addr uint64) {
	br, ok := p.breakpoints[addr]
	if !ok {
		return
	}
	br.Disarm(memAccessorFunc{p})
	delete(p.breakpoints, addr)
}

// ReadMemory and WriteMemory operate on flat (already-translated) addresses.
func (p *Process) ReadMemory(addr uint64, size int) ([]byte, error) {
	return p.api.ReadMemory(p.pid, addr, size)
}

func (p *Process) WriteMemory(addr uint64, data []byte) error {
	if err := p.api.WriteMemory(p.pid, addr, data); err != nil {
		return err
	}
	return p.api.FlushInstructionCache(p.pid, addr, len(data))
}

// GuestMemoryBase returns the guest's linear memory base address, set once
// by the AppCreate announcement.
func (p *Process) GuestMemoryBase() (uint64, bool) { return p.guestMemBase, p.hasGuestMemBase }

// GuestEntryPoint returns the guest's user entry point, valid once
// GuestMemoryBase is.
func (p *Process) GuestEntryPoint() uint64 { return p.guestEntryPoint }

// RecordAppCreate implements ProcessContext: it latches the guest memory
// base and entry point exactly once. A second AppCreate on an
// already-armed process reports already=true instead of silently
// replacing the recorded addresses (the resolved compatibility-mode Open
// Question; internal/bridge surfaces this as ErrCompatibilityModeAlreadyArmed).
func (p *Process) RecordAppCreate(memBase, entryPoint uint64) bool {
	if p.hasGuestMemBase {
		p.compatConflict = true
		return true
	}
	p.guestMemBase = memBase
	p.guestEntryPoint = entryPoint
	p.hasGuestMemBase = true
	return false
}

// TakeCompatibilityConflict reports and clears a pending second-AppCreate
// conflict latched by RecordAppCreate.
func (p *Process) TakeCompatibilityConflict() bool {
	v := p.compatConflict
	p.compatConflict = false
	return v
}

// ToFlatAddress translates a guest-relative (nexe) address into the flat
// host address space, per the guest memory base recorded from AppCreate.
func (p *Process) ToFlatAddress(guestAddr uint64) uint64 {
	base, _ := p.GuestMemoryBase()
	return base + guestAddr
}

var _ ProcessContext = (*Process)(nil)
