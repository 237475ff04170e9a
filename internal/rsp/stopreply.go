// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsp

import "github.com/sandboxdbg/rspbridge/internal/debugapi"

// Signal numbers the stop-reply mapper emits; these are the values the
// wire protocol expects regardless of host OS, matching the original's
// table in rsp_stop_from_debug_event.cc.
const (
	SIGINT  = 2
	SIGILL  = 4
	SIGTRAP = 5
	SIGBUS  = 7
	SIGFPE  = 8
	SIGSEGV = 11
	SIGSTOP = 19
	SIGSYS  = 31
)

// FromEvent converts a normalised OS debug event into its protocol
// stop-reply packet, per the source's fixed event-to-signal table. pid is
// included on exit/termination so the reply can carry ";process:<pid>".
func FromEvent(ev *debugapi.Event, includePID bool) Packet {
	switch ev.Kind {
	case debugapi.EventException:
		return SignalledReply{Signal: signalForException(ev.Exception)}
	case debugapi.EventConsoleInterrupt:
		return SignalledReply{Signal: SIGINT}
	case debugapi.EventThreadCreated, debugapi.EventThreadExited,
		debugapi.EventDebugString, debugapi.EventProcessCreated:
		return SignalledReply{Signal: SIGSTOP}
	case debugapi.EventProcessExited:
		if ev.Signaled {
			return TerminatedReply{Signal: ev.ExitCode, PID: ev.PID, HasPID: includePID}
		}
		return ExitedReply{Code: ev.ExitCode, PID: ev.PID, HasPID: includePID}
	case debugapi.EventDebuggerDied:
		return TerminatedReply{Signal: SIGSYS, PID: ev.PID, HasPID: includePID}
	default:
		return SignalledReply{Signal: 0}
	}
}

func signalForException(exc debugapi.ExceptionKind) int {
	switch exc {
	case debugapi.ExcBreakpoint, debugapi.ExcSingleStep:
		return SIGTRAP
	case debugapi.ExcAccessViolation, debugapi.ExcStackOverflow:
		return SIGSEGV
	case debugapi.ExcDatatypeMisalignment:
		return SIGBUS
	case debugapi.ExcFloatOrIntDivideOverflow:
		return SIGFPE
	case debugapi.ExcIllegalInstruction, debugapi.ExcPrivInstruction:
		return SIGILL
	default:
		return 0
	}
}
