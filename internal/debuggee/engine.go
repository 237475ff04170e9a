// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debuggee

import (
	"time"

	"github.com/pkg/errors"

	"github.com/sandboxdbg/rspbridge/internal/debugapi"
)

// stopPollTimeout bounds each individual wait during Stop's shutdown drain,
// mirroring the original's kWaitOnExitMs.
const stopPollTimeout = 300 * time.Millisecond

// Engine is the single entry point driving every debuggee process: start,
// attach, the event pump, and shutdown. Grounded on
// debug_execution_engine.cc's ExecutionEngine.
type Engine struct {
	api       debugapi.DebugAPI
	processes map[int]*Process
	order     []int
}

// NewEngine returns an engine with no processes yet.
func NewEngine(api debugapi.DebugAPI) *Engine {
	return &Engine{api: api, processes: make(map[int]*Process)}
}

// StartProcess launches argv[0] under the debugger and begins tracking it.
func (e *Engine) StartProcess(argv []string, workDir string) (*Process, error) {
	pid, err := e.api.Launch(argv, workDir)
	if err != nil {
		return nil, errors.Wrap(err, "launch")
	}
	p := e.addProcess(pid)
	return p, nil
}

// AttachToProcess begins debugging an already-running process.
func (e *Engine) AttachToProcess(pid int) (*Process, error) {
	if err := e.api.Attach(pid); err != nil {
		return nil, errors.Wrap(err, "attach")
	}
	return e.addProcess(pid), nil
}

func (e *Engine) addProcess(pid int) *Process {
	p := NewProcess(pid, e.api)
	e.processes[pid] = p
	e.order = append(e.order, pid)
	return p
}

// Process looks up a tracked process by pid.
func (e *Engine) Process(pid int) (*Process, bool) {
	p, ok := e.processes[pid]
	return p, ok
}

// ProcessIDs returns every tracked process id, insertion order.
func (e *Engine) ProcessIDs() []int {
	out := make([]int, len(e.order))
	copy(out, e.order)
	return out
}

// removeDeadProcesses drops every process that has exited, matching
// RemoveDeadProcesses's std::partition/erase pattern.
func (e *Engine) removeDeadProcesses() {
	var kept []int
	for _, pid := range e.order {
		p := e.processes[pid]
		if p.IsDead() {
			delete(e.processes, pid)
			continue
		}
		kept = append(kept, pid)
	}
	e.order = kept
}

// Alive reports whether any tracked process is still alive, reaping dead
// ones first.
func (e *Engine) Alive() bool {
	e.removeDeadProcesses()
	return len(e.order) > 0
}

// PumpResult reports the outcome of one Pump call, everything a policy
// layer (C9) or protocol server (C10) needs to decide whether to surface a
// halt to the client.
type PumpResult struct {
	Event      *debugapi.Event
	GuestEvent GuestEventKind
	// IsGuestThread is the OS-thread's classification at the moment the
	// event was applied (after any announcement this very event carried).
	IsGuestThread bool
	Halted        bool // the owning process is now halted
}

// Pump waits up to timeout for the next debug event and dispatches it to
// its process. A zero PumpResult (Event == nil) means the wait timed out or
// the event belonged to an untracked process.
func (e *Engine) Pump(timeout time.Duration) (PumpResult, error) {
	e.removeDeadProcesses()
	ev, err := e.api.WaitForEvent(timeout)
	if err != nil {
		return PumpResult{}, errors.Wrap(err, "wait for event")
	}
	if ev == nil {
		return PumpResult{}, nil
	}
	p, known := e.processes[ev.PID]
	if !known {
		return PumpResult{}, nil
	}
	isGuest := false
	if th, ok := p.GetThread(ev.TID); ok {
		isGuest = th.IsGuest() // kept for exit events, which remove the thread
	}
	guestEvent := p.OnDebugEvent(ev)
	if th, ok := p.GetThread(ev.TID); ok {
		isGuest = th.IsGuest()
	}
	return PumpResult{
		Event:         ev,
		GuestEvent:    guestEvent,
		IsGuestThread: isGuest,
		Halted:        p.IsHalted(),
	}, nil
}

// Stop kills every tracked process and drains their exit events, bounded
// by stopPollTimeout per iteration, matching ExecutionEngine::Stop.
func (e *Engine) Stop() {
	for _, pid := range e.order {
		p := e.processes[pid]
		p.Kill()
	}
	for len(e.order) > 0 {
		e.removeDeadProcesses()
		if len(e.order) == 0 {
			break
		}
		res, err := e.Pump(stopPollTimeout)
		if err != nil {
			break
		}
		if !res.Halted {
			break // timed out waiting for processes to shut down
		}
		if p, ok := e.processes[res.Event.PID]; ok {
			p.Continue(ContinueAndPassException)
		}
	}
}

// DetachAll detaches from every tracked process without killing it, and
// forgets them.
func (e *Engine) DetachAll() {
	for _, pid := range e.order {
		e.api.Detach(pid)
	}
	e.processes = make(map[int]*Process)
	e.order = nil
}
