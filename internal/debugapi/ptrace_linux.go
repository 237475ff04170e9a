// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// nexeAnnouncementPrefix matches internal/debuggee's copy of the same
	// fixed UUID (the two packages can't share the constant directly
	// without an import cycle, since debuggee already depends on
	// debugapi).
	nexeAnnouncementPrefix  = "{7AA7C9CF-89EC-4ed3-8DAD-6DC84302AB11}"
	maxAnnouncementReadSize = 256
)

// LinuxPtrace is the concrete DebugAPI backed by Linux ptrace(2). The
// platform constrains every wait/continue call for a traced process to the
// thread that attached it, so all ptrace work is funnelled through a single
// dedicated goroutine that calls runtime.LockOSThread — the same pattern as
// the teacher's ptraceRun, generalized from one fixed pid to the whole
// debuggee tree.
type LinuxPtrace struct {
	fc chan func() error
	ec chan error
}

// NewLinuxPtrace starts the dedicated ptrace goroutine and returns a ready
// DebugAPI. Callers must not use it concurrently from goroutines other than
// the one holding it; the engine (C8) is the sole caller.
func NewLinuxPtrace() *LinuxPtrace {
	p := &LinuxPtrace{
		fc: make(chan func() error),
		ec: make(chan error),
	}
	go p.run()
	return p
}

func (p *LinuxPtrace) run() {
	runtime.LockOSThread()
	for f := range p.fc {
		p.ec <- f()
	}
}

func (p *LinuxPtrace) call(f func() error) error {
	p.fc <- f
	return <-p.ec
}

func (p *LinuxPtrace) Launch(argv []string, dir string) (pid int, err error) {
	err = p.call(func() error {
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Dir = dir
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
		if err := cmd.Start(); err != nil {
			return errors.Wrap(err, "launch")
		}
		pid = cmd.Process.Pid
		var status unix.WaitStatus
		if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
			return errors.Wrap(err, "launch: initial wait")
		}
		return unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACECLONE|unix.PTRACE_O_TRACEEXEC)
	})
	return pid, err
}

func (p *LinuxPtrace) Attach(pid int) error {
	return p.call(func() error {
		if err := unix.PtraceAttach(pid); err != nil {
			return errors.Wrap(err, "attach")
		}
		var status unix.WaitStatus
		if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
			return errors.Wrap(err, "attach: initial wait")
		}
		return unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACECLONE|unix.PTRACE_O_TRACEEXEC)
	})
}

func (p *LinuxPtrace) Detach(pid int) error {
	return p.call(func() error {
		return errors.Wrap(unix.PtraceDetach(pid), "detach")
	})
}

// WaitForEvent polls with WNOHANG so the single event loop's suspension
// point stays bounded by timeout, the way §5 requires, since unix.Wait4
// has no native timeout argument.
func (p *LinuxPtrace) WaitForEvent(timeout time.Duration) (*Event, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 2 * time.Millisecond
	for {
		var ev *Event
		err := p.call(func() error {
			var status unix.WaitStatus
			wpid, err := unix.Wait4(-1, &status, unix.WALL|unix.WNOHANG, nil)
			if err != nil {
				if err == unix.ECHILD {
					return nil
				}
				return errors.Wrap(err, "wait4")
			}
			if wpid == 0 {
				return nil
			}
			ev = eventFromStatus(wpid, status)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		time.Sleep(pollInterval)
	}
}

func eventFromStatus(pid int, status unix.WaitStatus) *Event {
	switch {
	case status.Exited():
		return &Event{Kind: EventProcessExited, PID: pid, TID: pid, ExitCode: status.ExitStatus()}
	case status.Signaled():
		return &Event{Kind: EventProcessExited, PID: pid, TID: pid, ExitCode: int(status.Signal()), Signaled: true}
	case status.Stopped():
		return eventFromStopSignal(pid, status.StopSignal())
	default:
		return &Event{Kind: EventNone, PID: pid, TID: pid}
	}
}

// eventFromStopSignal classifies a SIGTRAP stop by first checking for the
// host's announcement convention (linux_debug_server/debug_api.cc's
// ReadDebugString): the host points %rax at a UUID-prefixed string and
// traps, rather than raising a real breakpoint exception. Every other
// SIGTRAP is an ordinary breakpoint trap.
func eventFromStopSignal(pid int, sig unix.Signal) *Event {
	if sig == unix.SIGTRAP {
		if msg, ok := readAnnouncement(pid); ok {
			return &Event{Kind: EventDebugString, PID: pid, TID: pid, DebugString: []byte(msg)}
		}
	}
	ev := &Event{Kind: EventException, PID: pid, TID: pid}
	switch sig {
	case unix.SIGTRAP:
		ev.Exception = ExcBreakpoint
	case unix.SIGSEGV:
		ev.Exception = ExcAccessViolation
	case unix.SIGBUS:
		ev.Exception = ExcDatatypeMisalignment
	case unix.SIGFPE:
		ev.Exception = ExcFloatOrIntDivideOverflow
	case unix.SIGILL:
		ev.Exception = ExcIllegalInstruction
	default:
		ev.Exception = ExcOther
	}
	return ev
}

// readAnnouncement mirrors ReadDebugString: on the announcement
// convention, the trapped thread's %rax holds the address of a
// NUL-terminated, UUID-prefixed string in the tracee's own memory.
func readAnnouncement(pid int) (string, bool) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &regs); err != nil {
		return "", false
	}
	buf := make([]byte, maxAnnouncementReadSize)
	n, err := unix.PtracePeekData(pid, uintptr(regs.Rax), buf)
	if err != nil || n < len(nexeAnnouncementPrefix) {
		return "", false
	}
	buf = buf[:n]
	if !bytes.HasPrefix(buf, []byte(nexeAnnouncementPrefix)) {
		return "", false
	}
	if end := bytes.IndexByte(buf, 0); end >= 0 {
		buf = buf[:end]
	}
	return string(buf), true
}

func (p *LinuxPtrace) ContinueEvent(pid, tid int, status ContinueStatus) error {
	return p.call(func() error {
		sig := 0
		if status == NotHandled {
			sig = int(unix.SIGTRAP)
		}
		return errors.Wrap(unix.PtraceCont(tid, sig), "continue")
	})
}

func (p *LinuxPtrace) ReadMemory(pid int, addr uint64, size int) ([]byte, error) {
	out := make([]byte, size)
	err := p.call(func() error {
		n, err := unix.PtracePeekData(pid, uintptr(addr), out)
		if err != nil {
			return errors.Wrap(err, "peek")
		}
		if n != size {
			return fmt.Errorf("peeked %d bytes, want %d", n, size)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *LinuxPtrace) WriteMemory(pid int, addr uint64, data []byte) error {
	return p.call(func() error {
		n, err := unix.PtracePokeData(pid, uintptr(addr), data)
		if err != nil {
			return errors.Wrap(err, "poke")
		}
		if n != len(data) {
			return fmt.Errorf("poked %d bytes, want %d", n, len(data))
		}
		return nil
	})
}

// FlushInstructionCache is a no-op on Linux: ptrace's POKETEXT already
// invalidates the icache entry for the written word. Kept as an explicit
// call, mirroring the original's Windows FlushInstructionCache step, so a
// future non-Linux facade has an obvious place to plug one in.
func (p *LinuxPtrace) FlushInstructionCache(pid int, addr uint64, size int) error {
	return nil
}

func (p *LinuxPtrace) GetRegisters(pid, tid int) (*Regs, error) {
	var regs unix.PtraceRegs
	err := p.call(func() error {
		return errors.Wrap(unix.PtraceGetRegs(tid, &regs), "getregs")
	})
	if err != nil {
		return nil, err
	}
	return fromPtraceRegs(&regs), nil
}

func (p *LinuxPtrace) SetRegisters(pid, tid int, regs *Regs) error {
	native := toPtraceRegs(regs)
	return p.call(func() error {
		return errors.Wrap(unix.PtraceSetRegs(tid, native), "setregs")
	})
}

func (p *LinuxPtrace) RequestBreak(pid int) error {
	return p.call(func() error {
		return errors.Wrap(unix.Kill(pid, unix.SIGSTOP), "break")
	})
}

func (p *LinuxPtrace) TerminateThread(pid, tid int) error {
	return p.call(func() error {
		return errors.Wrap(unix.Tgkill(pid, tid, unix.SIGKILL), "terminate")
	})
}

func (p *LinuxPtrace) WordSizeInBits(pid int) int {
	return 64
}

func fromPtraceRegs(r *unix.PtraceRegs) *Regs {
	return &Regs{
		R15: r.R15, R14: r.R14, R13: r.R13, R12: r.R12,
		Rbp: r.Rbp, Rbx: r.Rbx, R11: r.R11, R10: r.R10,
		R9: r.R9, R8: r.R8, Rax: r.Rax, Rcx: r.Rcx,
		Rdx: r.Rdx, Rsi: r.Rsi, Rdi: r.Rdi, OrigRax: r.Orig_rax,
		Rip: r.Rip, Cs: r.Cs, Eflags: r.Eflags, Rsp: r.Rsp,
		Ss: r.Ss, FsBase: r.Fs_base, GsBase: r.Gs_base,
		Ds: r.Ds, Es: r.Es, Fs: r.Fs, Gs: r.Gs,
	}
}

func toPtraceRegs(r *Regs) *unix.PtraceRegs {
	return &unix.PtraceRegs{
		R15: r.R15, R14: r.R14, R13: r.R13, R12: r.R12,
		Rbp: r.Rbp, Rbx: r.Rbx, R11: r.R11, R10: r.R10,
		R9: r.R9, R8: r.R8, Rax: r.Rax, Rcx: r.Rcx,
		Rdx: r.Rdx, Rsi: r.Rsi, Rdi: r.Rdi, Orig_rax: r.OrigRax,
		Rip: r.Rip, Cs: r.Cs, Eflags: r.Eflags, Rsp: r.Rsp,
		Ss: r.Ss, Fs_base: r.FsBase, Gs_base: r.GsBase,
		Ds: r.Ds, Es: r.Es, Fs: r.Fs, Gs: r.Gs,
	}
}
