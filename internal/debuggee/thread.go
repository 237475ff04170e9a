// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debuggee

import (
	"strconv"
	"strings"

	"github.com/sandboxdbg/rspbridge/internal/debugapi"
)

// nexeAnnouncementPrefix is the fixed UUID the host runtime prefixes onto
// every announcement string it emits via the platform's debug-string
// mechanism, the "I am the host runtime" marker.
const nexeAnnouncementPrefix = "{7AA7C9CF-89EC-4ed3-8DAD-6DC84302AB11}"

// State is a thread's lifecycle state.
type State int

const (
	Running State = iota
	Halted
	ContinuingFromBreakpoint
	Dead
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Halted:
		return "Halted"
	case ContinuingFromBreakpoint:
		return "ContinuingFromBreakpoint"
	case Dead:
		return "Dead"
	}
	return "?"
}

// GuestEventKind is the derived event code the announcement scan produces,
// layered on top of the raw OS event so the continue-decision policy (C9)
// can special-case guest lifecycle transitions.
type GuestEventKind int

const (
	NotGuest GuestEventKind = iota
	ThreadStarting
	AppStarted
)

// ContinueOption selects how Continue resumes a halted thread.
type ContinueOption int

const (
	ContinueNormally ContinueOption = iota
	SingleStep
	ContinueAndPassException
)

// ProcessContext is the narrow seam a Thread needs from its owning
// Process: breakpoint lookup, memory access and the once-only AppCreate
// recorder. Threads never hold a pointer back to their Process; the
// Process passes itself as this interface into each call instead (the
// rewrite's handle-based answer to the source's raw back-pointer).
type ProcessContext interface {
	PID() int
	DebugAPI() debugapi.DebugAPI
	BreakpointAt(addr uint64) (*Breakpoint, bool)
	GuestMemoryBase() (uint64, bool)
	// RecordAppCreate sets the process's guest memory base and entry point
	// exactly once; it reports already to true if a prior AppCreate had
	// already armed them (the resolved compatibility-mode Open Question).
	RecordAppCreate(memBase, entryPoint uint64) (already bool)
	ReadMemory(addr uint64, size int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
}

// Thread is one OS thread's lifecycle state machine.
type Thread struct {
	id       int
	state    State
	isGuest  bool
	exitCode int

	triggeredBreakpointAddr uint64
	hasTriggeredBreakpoint  bool
}

// NewThread returns a thread in the Halted state, matching the source
// (DebuggeeThread's constructor leaves new threads kHalted until the next
// debug event moves them).
func NewThread(id int) *Thread {
	return &Thread{id: id, state: Halted}
}

func (t *Thread) ID() int        { return t.id }
func (t *Thread) IsGuest() bool  { return t.isGuest }
func (t *Thread) State() State   { return t.state }
func (t *Thread) ExitCode() int  { return t.exitCode }
func (t *Thread) IsHalted() bool { return t.state == Halted }

// OnDebugEvent applies a raw OS debug event to the thread, returning the
// derived guest-event code. Per §4.6, single-step events that arrive while
// ContinuingFromBreakpoint do not halt the thread and thread/process exit
// events mark it Dead; every other event halts it.
func (t *Thread) OnDebugEvent(ev *debugapi.Event, pc ProcessContext) GuestEventKind {
	switch ev.Kind {
	case debugapi.EventThreadExited, debugapi.EventProcessExited:
		t.exitCode = ev.ExitCode
		t.state = Dead
		return NotGuest
	case debugapi.EventDebugString:
		guestEvent := t.onAnnouncement(ev, pc)
		t.state = Halted
		return guestEvent
	case debugapi.EventException:
		switch ev.Exception {
		case debugapi.ExcBreakpoint:
			t.onBreakpointException(ev, pc)
			t.state = Halted
		case debugapi.ExcSingleStep:
			// OnSingleStep can decide to silently resume instead of
			// halting, so it returns early rather than falling through to
			// the unconditional Halted transition below.
			t.onSingleStep(pc)
			return NotGuest
		default:
			t.state = Halted
		}
		return NotGuest
	default:
		t.state = Halted
		return NotGuest
	}
}

// onAnnouncement scans a debug-string event for the host's fixed-UUID
// announcement and derives a guest event from it, per §4.6's "Announcement
// parsing" rule. Messages the source documents:
//
//	-version 1 -event AppCreate -mem_start <addr> -user_entry_pt <addr>
//	-version 1 -event ThreadCreate -natp <addr>
//	-version 1 -event ThreadExit -natp <addr> -exit_code <n>
//	-version 1 -event AppExit -exit_code <n>
func (t *Thread) onAnnouncement(ev *debugapi.Event, pc ProcessContext) GuestEventKind {
	msg := string(ev.DebugString)
	if !strings.HasPrefix(msg, nexeAnnouncementPrefix) {
		return NotGuest
	}
	t.isGuest = true
	args := parseAnnouncementArgs(msg)
	switch args["-event"] {
	case "AppCreate":
		memBase, _ := parseHexAddr(args["-mem_start"])
		entry, _ := parseHexAddr(args["-user_entry_pt"])
		pc.RecordAppCreate(memBase, entry)
		return AppStarted
	case "ThreadCreate":
		return ThreadStarting
	}
	return ThreadStarting
}

func parseAnnouncementArgs(msg string) map[string]string {
	fields := strings.Fields(msg)
	args := make(map[string]string)
	for i := 0; i+1 < len(fields); i++ {
		if strings.HasPrefix(fields[i], "-") {
			args[fields[i]] = fields[i+1]
		}
	}
	return args
}

func parseHexAddr(s string) (uint64, bool) {
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

// onBreakpointException implements the armed-breakpoint half of the
// Running row: roll the IP back by one byte so the client sees it exactly
// at the trap address, and remember which breakpoint triggered. The
// breakpoint itself is left armed here — its
// trap byte stays in memory until the client actually resumes through it
// (continueFromBreakpoint), so a memory read taken while halted still
// observes the trap instruction.
func (t *Thread) onBreakpointException(ev *debugapi.Event, pc ProcessContext) {
	// The trap fires after the INT3 byte executes, so the reported fault
	// address is one past where the breakpoint was planted.
	trapAddr := ev.FaultAddr - 1
	br, ok := pc.BreakpointAt(trapAddr)
	if !ok {
		return
	}
	t.triggeredBreakpointAddr = br.Address()
	t.hasTriggeredBreakpoint = true
	t.setIP(pc, trapAddr)
}

// onSingleStep implements the ContinuingFromBreakpoint row: on the
// single-step event that results from the breakpoint-resume handoff,
// rearm the breakpoint, clear the flag, and silently resume — the client
// never sees this internal round-trip.
func (t *Thread) onSingleStep(pc ProcessContext) {
	if t.state != ContinuingFromBreakpoint || !t.hasTriggeredBreakpoint {
		t.state = Halted
		return
	}
	if br, ok := pc.BreakpointAt(t.triggeredBreakpointAddr); ok {
		br.Rearm(memAccessorFunc{pc})
	}
	t.hasTriggeredBreakpoint = false
	t.setSingleStepFlag(pc, false)
	pc.DebugAPI().ContinueEvent(pc.PID(), t.id, debugapi.Handled)
	t.state = Running
}

// Continue resumes a Halted thread per §4.6's client-triggered column. It
// returns false if the thread is not Halted.
func (t *Thread) Continue(option ContinueOption, pc ProcessContext) bool {
	if t.state != Halted {
		return false
	}
	if t.hasTriggeredBreakpoint {
		ip := t.ip(pc)
		if ip == t.triggeredBreakpointAddr {
			return t.continueFromBreakpoint(pc)
		}
		// IP was moved off the triggered breakpoint (e.g. by a register
		// write); it was never disarmed, so there is nothing left to do
		// but stop treating it as pending.
		t.hasTriggeredBreakpoint = false
	}
	if option == SingleStep {
		t.setSingleStepFlag(pc, true)
	}
	status := debugapi.Handled
	if option == ContinueAndPassException {
		status = debugapi.NotHandled
	}
	t.state = Running
	return pc.DebugAPI().ContinueEvent(pc.PID(), t.id, status) == nil
}

// continueFromBreakpoint runs the invisible handoff documented in §4.6:
// disarm, enable single-step, continue; the resulting single-step event is
// handled by onSingleStep, which rearms and silently resumes.
func (t *Thread) continueFromBreakpoint(pc ProcessContext) bool {
	if br, ok := pc.BreakpointAt(t.triggeredBreakpointAddr); ok {
		br.Disarm(memAccessorFunc{pc})
	}
	t.state = ContinuingFromBreakpoint
	t.setSingleStepFlag(pc, true)
	return pc.DebugAPI().ContinueEvent(pc.PID(), t.id, debugapi.Handled) == nil
}

func (t *Thread) ip(pc ProcessContext) uint64 {
	regs, err := pc.DebugAPI().GetRegisters(pc.PID(), t.id)
	if err != nil {
		return 0
	}
	return regs.Rip
}

func (t *Thread) setIP(pc ProcessContext, ip uint64) {
	regs, err := pc.DebugAPI().GetRegisters(pc.PID(), t.id)
	if err != nil {
		return
	}
	regs.Rip = ip
	pc.DebugAPI().SetRegisters(pc.PID(), t.id, regs)
}

// setSingleStepFlag toggles EFLAGS/RFLAGS bit 8 through the context
// read-modify-write path, since the facade exposes no separate call for
// it (§4.2).
func (t *Thread) setSingleStepFlag(pc ProcessContext, enable bool) {
	regs, err := pc.DebugAPI().GetRegisters(pc.PID(), t.id)
	if err != nil {
		return
	}
	if enable {
		regs.Eflags |= debugapi.TrapFlag
	} else {
		regs.Eflags &^= debugapi.TrapFlag
	}
	pc.DebugAPI().SetRegisters(pc.PID(), t.id, regs)
}

// memAccessorFunc adapts a ProcessContext to the memAccessor interface
// Breakpoint needs.
type memAccessorFunc struct{ pc ProcessContext }

func (m memAccessorFunc) ReadMemory(addr uint64, size int) ([]byte, error) {
	return m.pc.ReadMemory(addr, size)
}

func (m memAccessorFunc) WriteMemory(addr uint64, data []byte) error {
	return m.pc.WriteMemory(addr, data)
}
