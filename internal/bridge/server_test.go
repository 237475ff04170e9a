// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bridge

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sandboxdbg/rspbridge/internal/debugapi"
	"github.com/sandboxdbg/rspbridge/internal/debuggee"
	"github.com/sandboxdbg/rspbridge/internal/rsp"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

const guestAnnouncement = "{7AA7C9CF-89EC-4ed3-8DAD-6DC84302AB11} -version 1 -event AppCreate -mem_start c0000000 -user_entry_pt 20000"

// newHaltedGuestServer builds a Server whose single process already has a
// guest thread (tid 2) halted on its AppCreate announcement, the starting
// point for S1/S2/S4/S5/S6.
func newHaltedGuestServer(t *testing.T) (*Server, *debugapi.Fake, *debuggee.Process) {
	t.Helper()
	api := debugapi.NewFake()
	api.PushEvent(debugapi.Event{Kind: debugapi.EventDebugString, PID: 1, TID: 2, DebugString: []byte(guestAnnouncement)})

	engine := debuggee.NewEngine(api)
	process, err := engine.StartProcess([]string{"/bin/guest"}, "")
	if err != nil {
		t.Fatalf("StartProcess: %v", err)
	}
	if _, err := engine.Pump(time.Millisecond); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if !process.IsHalted() {
		t.Fatalf("expected process halted after AppCreate announcement")
	}
	s := NewServer(testLogger(), engine, process, Options{})
	return s, api, process
}

// TestQueryStopReasonBeforeAnyContinueReportsInitialHalt covers S1: a
// freshly-attached client queries '?' before ever issuing 'c' and sees the
// halt the process is already sitting on.
func TestQueryStopReasonBeforeAnyContinueReportsInitialHalt(t *testing.T) {
	s, _, process := newHaltedGuestServer(t)
	_ = process

	reply, hasReply := s.HandlePacket(rsp.QueryStopReason{})
	if !hasReply {
		t.Fatalf("expected an immediate reply to '?'")
	}
	if _, ok := reply.(rsp.SignalledReply); !ok {
		t.Fatalf("expected a SignalledReply default before any continue, got %#v", reply)
	}
}

// TestBreakpointSetHitAndMemoryInspected covers S2: a software breakpoint
// is set at a guest-relative address, the client continues, the OS
// reports the resulting breakpoint exception, and a later memory read at
// the translated flat address observes the trap byte.
func TestBreakpointSetHitAndMemoryInspected(t *testing.T) {
	s, api, process := newHaltedGuestServer(t)

	const guestAddr = 0x20080
	const flatAddr = 0xc0020080
	api.SetMemory(flatAddr, []byte{0x55})

	reply, hasReply := s.HandlePacket(rsp.InsertBreakpoint{Kind: rsp.SoftwareBreakpoint, Addr: guestAddr, Len: 1})
	if !hasReply {
		t.Fatalf("expected an immediate OK for Z0")
	}
	if _, ok := reply.(rsp.OKReply); !ok {
		t.Fatalf("expected OKReply, got %#v", reply)
	}
	if api.Memory[flatAddr] != 0xcc {
		t.Fatalf("expected trap byte armed at %#x, got %#x", flatAddr, api.Memory[flatAddr])
	}

	reply, hasReply = s.HandlePacket(rsp.ContinueCmd{})
	if hasReply {
		t.Fatalf("expected 'c' to defer its reply until the debuggee actually halts again")
	}
	if reply != nil {
		t.Fatalf("expected a nil deferred reply, got %#v", reply)
	}

	api.PushEvent(debugapi.Event{
		Kind: debugapi.EventException, Exception: debugapi.ExcBreakpoint,
		PID: 1, TID: 2, FaultAddr: flatAddr + 1,
	})
	if err := s.pumpOnce(time.Millisecond); err != nil {
		t.Fatalf("pumpOnce: %v", err)
	}
	if s.lastStop == nil {
		t.Fatalf("expected a stop reply to be recorded after the breakpoint fires")
	}
	if sig, ok := s.lastStop.(rsp.SignalledReply); !ok || sig.Signal != rsp.SIGTRAP {
		t.Fatalf("expected SignalledReply{SIGTRAP}, got %#v", s.lastStop)
	}
	if !process.IsHalted() {
		t.Fatalf("expected process halted on the breakpoint")
	}

	reply, hasReply = s.HandlePacket(rsp.ReadMemory{Addr: guestAddr, Len: 1})
	if !hasReply {
		t.Fatalf("expected an immediate reply to 'm'")
	}
	blob, ok := reply.(rsp.MemoryBlob)
	if !ok || len(blob.Data) != 1 || blob.Data[0] != 0xcc {
		t.Fatalf("expected MemoryBlob{0xcc}, got %#v", reply)
	}
}

// TestIsThreadAliveOnUnknownThreadReportsThreadIsDead covers S4: querying
// an unknown thread id reports kErrorThreadIsDead (E0a).
func TestIsThreadAliveOnUnknownThreadReportsThreadIsDead(t *testing.T) {
	s, _, _ := newHaltedGuestServer(t)

	reply, hasReply := s.HandlePacket(rsp.IsThreadAlive{TID: 1234})
	if !hasReply {
		t.Fatalf("expected an immediate reply to 'T'")
	}
	errReply, ok := reply.(rsp.ErrorReply)
	if !ok || errReply.Code != rsp.ErrThreadIsDead {
		t.Fatalf("expected ErrorReply{ErrThreadIsDead}, got %#v", reply)
	}
	if string(errReply.Encode()) != "E0a" {
		t.Fatalf("expected wire form E0a, got %q", errReply.Encode())
	}
}

// TestHardwareBreakpointRequestIsUnsupported covers S5: a hardware
// breakpoint request (an explicit Non-goal) is answered with the empty
// packet, not an error.
func TestHardwareBreakpointRequestIsUnsupported(t *testing.T) {
	s, _, _ := newHaltedGuestServer(t)

	reply, hasReply := s.HandlePacket(rsp.InsertBreakpoint{Kind: rsp.HardwareBreakpoint, Addr: 0, Len: 1})
	if !hasReply {
		t.Fatalf("expected an immediate reply")
	}
	if _, ok := reply.(rsp.EmptyReply); !ok {
		t.Fatalf("expected EmptyReply for an unsupported hardware breakpoint, got %#v", reply)
	}
}

// TestContinueFromBreakpointIsTransparent covers S6: resuming from a
// halted breakpoint produces exactly one further stop reply, with no
// spurious notification for the internal single-step handoff.
func TestContinueFromBreakpointIsTransparent(t *testing.T) {
	s, api, process := newHaltedGuestServer(t)

	const guestAddr = 0x20080
	const flatAddr = 0xc0020080
	api.SetMemory(flatAddr, []byte{0x55})
	if _, hasReply := s.HandlePacket(rsp.InsertBreakpoint{Kind: rsp.SoftwareBreakpoint, Addr: guestAddr, Len: 1}); !hasReply {
		t.Fatalf("expected immediate OK for Z0")
	}

	api.Regs[2] = debugapi.Regs{}
	if _, hasReply := s.HandlePacket(rsp.ContinueCmd{}); hasReply {
		t.Fatalf("expected 'c' to defer its reply")
	}
	api.PushEvent(debugapi.Event{
		Kind: debugapi.EventException, Exception: debugapi.ExcBreakpoint,
		PID: 1, TID: 2, FaultAddr: flatAddr + 1,
	})
	if err := s.pumpOnce(time.Millisecond); err != nil {
		t.Fatalf("pumpOnce: %v", err)
	}
	firstStop := s.lastStop
	if firstStop == nil {
		t.Fatalf("expected the breakpoint hit to produce a stop reply")
	}

	// Client resumes from the breakpoint; internally this is disarm,
	// single-step, rearm, silently run again, all before any further
	// client-visible reply.
	if _, hasReply := s.HandlePacket(rsp.ContinueCmd{}); hasReply {
		t.Fatalf("expected the resuming 'c' to defer its reply")
	}
	api.PushEvent(debugapi.Event{Kind: debugapi.EventException, Exception: debugapi.ExcSingleStep, PID: 1, TID: 2})
	if err := s.pumpOnce(time.Millisecond); err != nil {
		t.Fatalf("pumpOnce (single-step handoff): %v", err)
	}
	if s.lastStop != firstStop {
		t.Fatalf("expected no new stop reply recorded for the internal single-step handoff")
	}
	if process.IsHalted() {
		t.Fatalf("expected the thread to have silently resumed running, not stayed halted")
	}
	if api.Memory[flatAddr] != 0xcc {
		t.Fatalf("expected the breakpoint rearmed after the handoff, got %#x", api.Memory[flatAddr])
	}
}

// TestGuestThreadListExcludesHostThreads covers P8: qfThreadInfo only ever
// names guest threads, never the host thread that never announced itself.
func TestGuestThreadListExcludesHostThreads(t *testing.T) {
	s, api, process := newHaltedGuestServer(t)
	process.AddThread(99) // a host thread that never announces

	api.PushEvent(debugapi.Event{Kind: debugapi.EventException, Exception: debugapi.ExcOther, PID: 1, TID: 99})
	if err := s.pumpOnce(time.Millisecond); err != nil {
		t.Fatalf("pumpOnce: %v", err)
	}

	reply, hasReply := s.HandlePacket(rsp.ThreadInfoFirst{})
	if !hasReply {
		t.Fatalf("expected an immediate reply to qfThreadInfo")
	}
	list, ok := reply.(rsp.ThreadListReply)
	if !ok {
		t.Fatalf("expected ThreadListReply, got %#v", reply)
	}
	for _, tid := range list.TIDs {
		if tid == 99 {
			t.Fatalf("host thread 99 leaked into the guest thread list: %v", list.TIDs)
		}
	}
	if len(list.TIDs) != 1 || list.TIDs[0] != 2 {
		t.Fatalf("expected only guest thread 2, got %v", list.TIDs)
	}
}

// TestThreadInfoSequenceEndsWithBareL covers scenario S3: qfThreadInfo
// replies with the full guest thread list and no trailing terminator, and
// the qsThreadInfo that follows replies with the bare end-of-list "l".
func TestThreadInfoSequenceEndsWithBareL(t *testing.T) {
	s, _, _ := newHaltedGuestServer(t)

	first, hasReply := s.HandlePacket(rsp.ThreadInfoFirst{})
	if !hasReply {
		t.Fatalf("expected an immediate reply to qfThreadInfo")
	}
	if string(first.Encode()) != "m2" {
		t.Fatalf("qfThreadInfo got %q, want m2", first.Encode())
	}

	next, hasReply := s.HandlePacket(rsp.ThreadInfoNext{})
	if !hasReply {
		t.Fatalf("expected an immediate reply to qsThreadInfo")
	}
	if string(next.Encode()) != "l" {
		t.Fatalf("qsThreadInfo got %q, want l", next.Encode())
	}
}

// TestAddressTranslationIsIdempotent covers P9: translating an address
// already in the flat host range a second time must not shift it again.
func TestAddressTranslationIsIdempotent(t *testing.T) {
	s, _, _ := newHaltedGuestServer(t)
	flat := s.translateAddr(0x20080)
	flatAgain := s.translateAddr(flat)
	if flat != flatAgain {
		t.Fatalf("address translation is not idempotent: %#x != %#x", flat, flatAgain)
	}
}
