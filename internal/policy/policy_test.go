// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package policy

import (
	"testing"

	"github.com/sandboxdbg/rspbridge/internal/debugapi"
	"github.com/sandboxdbg/rspbridge/internal/debuggee"
)

func TestGuestAnnouncementWeaklyHalts(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventDebugString}
	d := Decide(ev, debuggee.AppStarted, true)
	if !d.IsHaltDecision() || d.Strength != Weak || d.Pass {
		t.Fatalf("got %+v", d)
	}
}

func TestNonGuestDebugStringDoesNotHalt(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventDebugString}
	d := Decide(ev, debuggee.NotGuest, false)
	if d.IsHaltDecision() {
		t.Fatalf("got %+v, expected no halt", d)
	}
}

func TestThreadNamingExceptionDoesNotHalt(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventException, Exception: debugapi.ExcThreadNaming}
	d := Decide(ev, debuggee.NotGuest, true)
	if d.IsHaltDecision() || d.Pass {
		t.Fatalf("got %+v", d)
	}
}

func TestBreakpointOnGuestThreadStronglyHaltsWithoutPass(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventException, Exception: debugapi.ExcBreakpoint}
	d := Decide(ev, debuggee.NotGuest, true)
	if !d.IsHaltDecision() || d.Strength != Strong || d.Pass {
		t.Fatalf("got %+v", d)
	}
}

func TestOtherExceptionOnGuestThreadHaltsAndPasses(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventException, Exception: debugapi.ExcAccessViolation}
	d := Decide(ev, debuggee.NotGuest, true)
	if !d.IsHaltDecision() || !d.Pass {
		t.Fatalf("got %+v", d)
	}
}

func TestExceptionOnHostThreadDoesNotHaltButPasses(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventException, Exception: debugapi.ExcAccessViolation}
	d := Decide(ev, debuggee.NotGuest, false)
	if d.IsHaltDecision() || !d.Pass {
		t.Fatalf("got %+v", d)
	}
}

func TestGuestThreadExitHalts(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventThreadExited}
	d := Decide(ev, debuggee.NotGuest, true)
	if !d.IsHaltDecision() {
		t.Fatalf("got %+v, expected halt for guest thread exit", d)
	}
}

func TestHostThreadExitDoesNotHalt(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventThreadExited}
	d := Decide(ev, debuggee.NotGuest, false)
	if d.IsHaltDecision() {
		t.Fatalf("got %+v, expected no halt for host thread exit", d)
	}
}

func TestProcessExitAlwaysHalts(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventProcessExited}
	d := Decide(ev, debuggee.NotGuest, false)
	if !d.IsHaltDecision() || d.Strength != Strong {
		t.Fatalf("got %+v, want a strong halt decision", d)
	}
}

func TestFallbackRuleDoesNotHalt(t *testing.T) {
	ev := &debugapi.Event{Kind: debugapi.EventThreadCreated}
	d := Decide(ev, debuggee.NotGuest, false)
	if d.IsHaltDecision() {
		t.Fatalf("got %+v, expected the default rule 6 don't-halt decision", d)
	}
}

func TestCombineStrongerWinsOverWeaker(t *testing.T) {
	var d Decision
	d.Combine(Decision{Strength: Weak, Halt: false})
	d.Combine(Decision{Strength: Strong, Halt: true})
	if !d.IsHaltDecision() || d.Strength != Strong {
		t.Fatalf("got %+v, expected the strong decision to win", d)
	}
}

func TestCombineEqualStrengthDisagreementPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for equal-strength disagreeing decisions")
		}
	}()
	var d Decision
	d.Combine(Decision{Strength: Weak, Halt: true})
	d.Combine(Decision{Strength: Weak, Halt: false})
}
