// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package policy decides whether a debug event should halt the debuggee and
// whether a passed-through exception should be delivered to it, grounded on
// debug_continue_policy.cc's StandardContinuePolicy/DecisionToContinue.
package policy

import (
	"fmt"

	"github.com/sandboxdbg/rspbridge/internal/debugapi"
	"github.com/sandboxdbg/rspbridge/internal/debuggee"
)

// Strength is how strongly a decision should resist being overwritten by a
// later, weaker one.
type Strength int

const (
	NoDecision Strength = iota
	Weak
	Strong
)

// Decision is a (halt, pass-exception) pair tagged with how strongly it
// should stick.
type Decision struct {
	Strength Strength
	Halt     bool
	Pass     bool
}

// Combine merges other into d following the original's Combine rule:
// identical decisions are a no-op, a stronger decision always wins, and a
// weaker one never overwrites a stronger one already held. Two decisions
// of equal, non-zero strength that disagree are a programming error — the
// six rules below are supposed to be mutually exclusive within one event —
// so Combine panics rather than silently picking one.
func (d *Decision) Combine(other Decision) {
	if other == *d {
		return
	}
	if other.Strength == d.Strength {
		if d.Strength == NoDecision {
			return
		}
		panic(fmt.Sprintf("policy: equal-strength decisions disagree: %+v vs %+v", *d, other))
	}
	if other.Strength == Strong || d.Strength == NoDecision {
		*d = other
	}
}

// IsHaltDecision reports whether d actually calls for a halt.
func (d Decision) IsHaltDecision() bool {
	return d.Strength != NoDecision && d.Halt
}

// Decide applies the six ordered rules of spec §4.9 to one raw debug event
// plus its derived guest-event classification and the thread's guest/host
// classification, producing the single Decision that should gate whether
// the process is reported halted to the protocol layer.
func Decide(ev *debugapi.Event, guestEvent debuggee.GuestEventKind, isGuestThread bool) Decision {
	var d Decision

	// Rule 1: a recognised guest announcement weakly halts.
	if guestEvent != debuggee.NotGuest {
		d.Combine(Decision{Strength: Weak, Halt: true, Pass: false})
	}

	// Rule 2: any other debug-string event weakly doesn't halt.
	if ev.Kind == debugapi.EventDebugString && guestEvent == debuggee.NotGuest {
		d.Combine(Decision{Strength: Weak, Halt: false, Pass: false})
	}

	// Rule 3: exception events.
	if ev.Kind == debugapi.EventException {
		switch {
		case isThreadNamingException(ev):
			d.Combine(Decision{Strength: Weak, Halt: false, Pass: false})
		case ev.Exception == debugapi.ExcBreakpoint && isGuestThread:
			d.Combine(Decision{Strength: Strong, Halt: true, Pass: false})
		case isGuestThread:
			d.Combine(Decision{Strength: Weak, Halt: true, Pass: true})
		default:
			d.Combine(Decision{Strength: Weak, Halt: false, Pass: true})
		}
	}

	// Rule 4: thread exit.
	if ev.Kind == debugapi.EventThreadExited {
		d.Combine(Decision{Strength: Weak, Halt: isGuestThread, Pass: false})
	}

	// Rule 5: process exit always halts, strongly, so a later weak rule
	// (e.g. rule 2's debug-string handling racing the same event) can
	// never suppress the client's final stop reply.
	if ev.Kind == debugapi.EventProcessExited {
		d.Combine(Decision{Strength: Strong, Halt: true, Pass: false})
	}

	// Rule 6: anything un-handled by rules 1-5 gets the default don't-halt,
	// don't-pass decision. Only applies if nothing above matched, since it
	// is a fallback rather than a vote to be combined with the others.
	if d.Strength == NoDecision {
		d.Combine(Decision{Strength: Weak, Halt: false, Pass: false})
	}

	return d
}

func isThreadNamingException(ev *debugapi.Event) bool {
	return ev.Exception == debugapi.ExcThreadNaming
}
