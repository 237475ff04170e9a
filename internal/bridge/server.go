// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bridge is the protocol server (C10): it owns the listen socket,
// the single client connection, the execution engine, and the focused
// process/thread bookkeeping the wire commands reference by H<spec> and
// never by an address of their own. Grounded on debug_server.cc's
// DebugServer, generalized from its single-client COM-port loop to a TCP
// listener and from its Windows DebugAPI to internal/debugapi.
package bridge

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sandboxdbg/rspbridge/internal/debugapi"
	"github.com/sandboxdbg/rspbridge/internal/debuggee"
	"github.com/sandboxdbg/rspbridge/internal/policy"
	"github.com/sandboxdbg/rspbridge/internal/regs"
	"github.com/sandboxdbg/rspbridge/internal/rsp"
)

// pollInterval bounds both the engine's wait-for-event call and the
// client socket's read deadline, so the one goroutine driving both can
// interleave them without blocking indefinitely on either.
const pollInterval = 50 * time.Millisecond

const defaultMaxPacketSize = 4096

// targetDescriptorXML is the fixed qXfer:features:read:target.xml document;
// this bridge always exposes amd64 guest registers (internal/regs.AMD64),
// so there is nothing to negotiate per connection.
const targetDescriptorXML = `<target version="1.0"><architecture>i386:x86-64</architecture></target>`

// Options configures a Server.
type Options struct {
	// MaxPacketSize is advertised to the client via qSupported.
	MaxPacketSize int
	// CompatibilityMode defers accepting a client connection until the
	// guest's own entry point has been reached: it auto-arms a breakpoint
	// there on the first guest announcement and only accepts a client on
	// the listen socket once that breakpoint fires, so an attaching client always
	// sees a guest already loaded and halted at its own main entry.
	CompatibilityMode bool
}

// Server dispatches RSP commands against one debuggee process tracked by
// an Engine. It is deliberately split into a pure HandlePacket (testable
// without any socket) and the Serve/serveConn socket loop that feeds it.
type Server struct {
	log     *logrus.Logger
	engine  *debuggee.Engine
	process *debuggee.Process
	opts    Options

	focusContinue rsp.ThreadSpec // Hc
	focusOther    rsp.ThreadSpec // Hg

	continuePending bool       // client asked to resume, no reply sent yet
	lastStop        rsp.Packet // answers a '?' before the first continue

	compatEntryArmed bool // compatibility-mode entry breakpoint placed

	conn net.Conn
}

// NewServer wires a Server to an already-started or already-attached
// process. The caller owns starting/attaching process via Engine; Server
// only ever resumes, halts and inspects it.
func NewServer(log *logrus.Logger, engine *debuggee.Engine, process *debuggee.Process, opts Options) *Server {
	if opts.MaxPacketSize <= 0 {
		opts.MaxPacketSize = defaultMaxPacketSize
	}
	return &Server{
		log:           log,
		engine:        engine,
		process:       process,
		opts:          opts,
		focusContinue: rsp.AnyThread,
		focusOther:    rsp.AnyThread,
	}
}

// Serve runs the server against ln: in compatibility mode it first pumps
// the engine alone until the guest reaches its entry point, then accepts
// exactly one client and serves it until that client disconnects or the
// debuggee dies.
func (s *Server) Serve(ln net.Listener) error {
	if s.opts.CompatibilityMode {
		if err := s.runCompatPreface(); err != nil {
			return errors.Wrap(err, "bridge: compatibility-mode preface")
		}
	}
	conn, err := ln.Accept()
	if err != nil {
		return errors.Wrap(err, "bridge: accept")
	}
	return s.serveConn(conn)
}

// runCompatPreface pumps the engine with no client connected, arming the
// guest's entry-point breakpoint the first time any guest thread
// announces itself, and returns once that breakpoint has fired and left
// the process halted (so the client Accept sees a ready guest).
func (s *Server) runCompatPreface() error {
	for {
		if s.process.IsDead() {
			return errors.New("debuggee exited before reaching its guest entry point")
		}
		if err := s.pumpOnce(pollInterval); err != nil {
			return err
		}
		if !s.process.IsHalted() {
			continue
		}
		if s.compatEntryArmed {
			entry := s.process.ToFlatAddress(s.process.GuestEntryPoint())
			if th, ok := s.process.HaltedThread(); ok {
				if r, err := s.process.DebugAPI().GetRegisters(s.process.PID(), th.ID()); err == nil && r.Rip == entry {
					return nil
				}
			}
		}
		// No client is connected yet to resume any other halt (such as the
		// announcement that armed the entry breakpoint), so resume it here.
		s.process.Continue(debuggee.ContinueNormally)
	}
}

// serveConn is the interleaved loop: each iteration pumps the engine once
// (non-blocking past pollInterval) and reads whatever client bytes have
// arrived in the same window, feeding them through a Packetizer.
func (s *Server) serveConn(conn net.Conn) error {
	s.conn = conn
	defer func() { s.conn = nil }()

	framer := rsp.NewPacketizer()
	framer.OnPacket = func(body []byte, valid bool) {
		if !valid {
			conn.Write([]byte{'-'})
			return
		}
		conn.Write([]byte{'+'})
		reply, hasReply := s.dispatchBody(body)
		if hasReply {
			s.writeReply(reply)
		}
	}
	framer.OnBreak = func() {
		s.process.Kill()
	}

	buf := make([]byte, 4096)
	for {
		if err := s.pumpOnce(pollInterval); err != nil {
			return err
		}
		if s.process.IsDead() {
			return nil
		}

		conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return errors.Wrap(err, "bridge: client read")
		}
		for _, b := range buf[:n] {
			framer.Feed(b)
		}
	}
}

// pumpOnce drives one Engine.Pump call, applies the continue-decision
// policy, and either auto-resumes the process silently or, if the client
// is owed a reply (continuePending), sends the resulting stop reply.
func (s *Server) pumpOnce(timeout time.Duration) error {
	res, err := s.engine.Pump(timeout)
	if err != nil {
		return errors.Wrap(err, "bridge: pump")
	}
	if res.Event == nil {
		return nil
	}

	if s.process.TakeCompatibilityConflict() {
		s.log.WithField("pid", s.process.PID()).Error("rejected second AppCreate: compatibility mode already armed")
		if s.conn != nil && s.continuePending {
			s.writeReply(errorReply(rsp.Lifecycle(rsp.ErrCompatibilityModeAlreadyArmed)))
			s.continuePending = false
		}
		return nil
	}

	if s.opts.CompatibilityMode && !s.compatEntryArmed && res.GuestEvent != debuggee.NotGuest {
		s.armCompatEntryBreakpoint()
	}

	// A process exit leaves no halted thread behind, but it still goes
	// through the policy (rule 5) so the client gets its exit stop reply.
	if !res.Halted && res.Event.Kind != debugapi.EventProcessExited {
		return nil
	}

	d := policy.Decide(res.Event, res.GuestEvent, res.IsGuestThread)
	if !d.IsHaltDecision() {
		option := debuggee.ContinueNormally
		if d.Pass {
			option = debuggee.ContinueAndPassException
		}
		s.process.Continue(option)
		return nil
	}

	s.lastStop = rsp.FromEvent(res.Event, true)
	if s.continuePending {
		s.writeReply(s.lastStop)
		s.continuePending = false
	}
	return nil
}

// armCompatEntryBreakpoint places the guest entry-point breakpoint once
// the guest memory base has been recorded; a failure to arm it (the flat
// address not yet mapped) is logged and retried on the next announcement.
func (s *Server) armCompatEntryBreakpoint() {
	if _, ok := s.process.GuestMemoryBase(); !ok {
		return
	}
	entry := s.process.ToFlatAddress(s.process.GuestEntryPoint())
	if err := s.process.SetBreakpoint(entry); err != nil {
		s.log.WithError(err).WithField("addr", entry).Error("failed to arm compatibility-mode entry breakpoint")
		return
	}
	s.compatEntryArmed = true
}

func (s *Server) writeReply(p rsp.Packet) {
	if s.conn == nil {
		return
	}
	s.conn.Write(rsp.Frame(p.Encode()))
}

// dispatchBody decodes one framed command body and runs it through
// HandlePacket, turning a decode failure into the matching E<hh> reply.
func (s *Server) dispatchBody(body []byte) (rsp.Packet, bool) {
	p, err := rsp.Decode(body)
	if err != nil {
		code := 0
		if rerr, ok := err.(*rsp.Error); ok {
			if c, has := rerr.WireCode(); has {
				code = c
			}
		}
		return rsp.ErrorReply{Code: code}, true
	}
	return s.HandlePacket(p)
}

// HandlePacket is the pure command dispatcher: given one decoded command,
// it returns the reply to send and whether a reply should be sent at all
// (c and s are answered only later, from pumpOnce, once the debuggee
// actually halts again).
func (s *Server) HandlePacket(p rsp.Packet) (rsp.Packet, bool) {
	switch cmd := p.(type) {
	case rsp.QueryStopReason:
		if s.lastStop == nil {
			return rsp.SignalledReply{Signal: rsp.SIGSTOP}, true
		}
		return s.lastStop, true

	case rsp.ContinueCmd:
		return s.doContinue(debuggee.ContinueNormally)

	case rsp.StepCmd:
		return s.doContinue(debuggee.SingleStep)

	case rsp.SetThreadForContinue:
		if cmd.Thread == rsp.AllThreads {
			return rsp.ErrorReply{Code: rsp.ErrSetFocusToAllThreadsIsNotSupported}, true
		}
		s.focusContinue = cmd.Thread
		return rsp.OKReply{}, true

	case rsp.SetThreadForOther:
		if cmd.Thread == rsp.AllThreads {
			return rsp.ErrorReply{Code: rsp.ErrSetFocusToAllThreadsIsNotSupported}, true
		}
		s.focusOther = cmd.Thread
		return rsp.OKReply{}, true

	case rsp.QueryCurrentThread:
		tid, ok := s.resolveThread(s.focusContinue)
		if !ok {
			return errorReply(rsp.NotHalted(rsp.ErrNoFocusedThread)), true
		}
		return rsp.CurrentThreadReply{Thread: rsp.ThreadSpec(tid)}, true

	case rsp.IsThreadAlive:
		th, ok := s.process.GetThread(int(cmd.TID))
		if !ok || !th.IsGuest() || th.State() == debuggee.Dead {
			return errorReply(rsp.Lifecycle(rsp.ErrThreadIsDead)), true
		}
		return rsp.OKReply{}, true

	case rsp.ThreadInfoFirst:
		return rsp.ThreadListReply{TIDs: toUint64s(s.process.GuestThreadIDs())}, true

	case rsp.ThreadInfoNext:
		// The full guest thread list is always returned by the first
		// qfThreadInfo reply; qsThreadInfo has nothing left to add.
		return rsp.ThreadListReply{}, true

	case rsp.ReadRegisters:
		return s.doReadRegisters()

	case rsp.WriteRegisters:
		return s.doWriteRegisters(cmd)

	case rsp.ReadMemory:
		return s.doReadMemory(cmd)

	case rsp.WriteMemory:
		return s.doWriteMemory(cmd)

	case rsp.QuerySupported:
		return rsp.SupportedFeaturesReply{
			PacketSize: s.opts.MaxPacketSize,
			Features: []rsp.Feature{
				{Name: "qXfer:libraries:read", Mark: '+'},
				{Name: "qXfer:features:read", Mark: '+'},
			},
		}, true

	case rsp.XferFeaturesRead:
		return s.doXferFeatures(cmd)

	case rsp.QueryOffsets:
		base, _ := s.process.GuestMemoryBase()
		return rsp.OffsetsReply{Text: base, Data: base}, true

	case rsp.InsertBreakpoint:
		return s.doInsertBreakpoint(cmd)

	case rsp.RemoveBreakpoint:
		return s.doRemoveBreakpoint(cmd)

	default:
		// Unknown, and anything else not recognised above: the empty
		// packet tells a well-behaved client the command is unsupported.
		return rsp.EmptyReply{}, true
	}
}

// errorReply turns a *rsp.Error into the wire reply it names: an E<hh>
// reply when the error carries a wire code, or the empty packet when it
// doesn't (KindUnsupported, answered the same way as an unrecognised
// command).
func errorReply(err *rsp.Error) rsp.Packet {
	if code, ok := err.WireCode(); ok {
		return rsp.ErrorReply{Code: code}
	}
	return rsp.EmptyReply{}
}

func (s *Server) doContinue(option debuggee.ContinueOption) (rsp.Packet, bool) {
	if !s.process.Continue(option) {
		return errorReply(rsp.NotHalted(rsp.ErrNoFocusedThread)), true
	}
	s.continuePending = true
	return nil, false
}

func (s *Server) doReadRegisters() (rsp.Packet, bool) {
	tid, ok := s.resolveThread(s.focusOther)
	if !ok || !s.process.IsHalted() {
		return errorReply(rsp.NotHalted(rsp.ErrNoFocusedThread)), true
	}
	r, err := s.process.DebugAPI().GetRegisters(s.process.PID(), tid)
	if err != nil {
		return errorReply(rsp.IO(rsp.ErrGetThreadContextFailed, err)), true
	}
	return rsp.RegisterBlob{Data: regs.AMD64.ToBlob(r)}, true
}

func (s *Server) doWriteRegisters(cmd rsp.WriteRegisters) (rsp.Packet, bool) {
	tid, ok := s.resolveThread(s.focusOther)
	if !ok || !s.process.IsHalted() {
		return errorReply(rsp.NotHalted(rsp.ErrNoFocusedThread)), true
	}
	var r debugapi.Regs
	regs.AMD64.FromBlob(cmd.Data, &r)
	if err := s.process.DebugAPI().SetRegisters(s.process.PID(), tid, &r); err != nil {
		return errorReply(rsp.IO(rsp.ErrSetThreadContextFailed, err)), true
	}
	return rsp.OKReply{}, true
}

func (s *Server) doReadMemory(cmd rsp.ReadMemory) (rsp.Packet, bool) {
	if !s.process.IsHalted() {
		return errorReply(rsp.NotHalted(rsp.ErrNoFocusedThread)), true
	}
	data, err := s.process.ReadMemory(s.translateAddr(cmd.Addr), cmd.Len)
	if err != nil {
		return errorReply(rsp.IO(rsp.ErrReadMemoryFailed, err)), true
	}
	return rsp.MemoryBlob{Data: data}, true
}

// doWriteMemory rejects an inbound write larger than the packet size this
// server advertised via qSupported, matching the original's
// kErrorPacketIsTooLarge check on WriteMemoryCommand.
func (s *Server) doWriteMemory(cmd rsp.WriteMemory) (rsp.Packet, bool) {
	if !s.process.IsHalted() {
		return errorReply(rsp.NotHalted(rsp.ErrNoFocusedThread)), true
	}
	if len(cmd.Data) > s.opts.MaxPacketSize {
		return errorReply(rsp.TooLarge()), true
	}
	if err := s.process.WriteMemory(s.translateAddr(cmd.Addr), cmd.Data); err != nil {
		return errorReply(rsp.IO(rsp.ErrWriteMemoryFailed, err)), true
	}
	return rsp.OKReply{}, true
}

// doInsertBreakpoint supports only software breakpoints (kind 0); hardware
// breakpoints and watchpoints are an explicit Non-goal and answered with
// the empty packet, same as any other unrecognised command.
func (s *Server) doInsertBreakpoint(cmd rsp.InsertBreakpoint) (rsp.Packet, bool) {
	if cmd.Kind != rsp.SoftwareBreakpoint {
		return errorReply(rsp.Unsupported()), true
	}
	if !s.process.IsHalted() {
		return errorReply(rsp.NotHalted(rsp.ErrNoFocusedThread)), true
	}
	if err := s.process.SetBreakpoint(s.translateAddr(cmd.Addr)); err != nil {
		return errorReply(rsp.IO(rsp.ErrWriteMemoryFailed, err)), true
	}
	return rsp.OKReply{}, true
}

func (s *Server) doRemoveBreakpoint(cmd rsp.RemoveBreakpoint) (rsp.Packet, bool) {
	if cmd.Kind != rsp.SoftwareBreakpoint {
		return errorReply(rsp.Unsupported()), true
	}
	if !s.process.IsHalted() {
		return errorReply(rsp.NotHalted(rsp.ErrNoFocusedThread)), true
	}
	s.process.RemoveBreakpoint(s.translateAddr(cmd.Addr))
	return rsp.OKReply{}, true
}

func (s *Server) doXferFeatures(cmd rsp.XferFeaturesRead) (rsp.Packet, bool) {
	if cmd.File != "target.xml" {
		return rsp.EmptyReply{}, true
	}
	doc := []byte(targetDescriptorXML)
	if cmd.Offset >= len(doc) {
		return rsp.XferChunk{}, true
	}
	end := cmd.Offset + cmd.Length
	more := end < len(doc)
	if end > len(doc) {
		end = len(doc)
	}
	return rsp.XferChunk{Data: doc[cmd.Offset:end], More: more}, true
}

// translateAddr maps a guest-relative address into the flat host address
// space exactly once: an address already at or past the guest memory base
// is assumed already flat and passed through unchanged, so repeated
// translation is idempotent.
func (s *Server) translateAddr(addr uint64) uint64 {
	base, ok := s.process.GuestMemoryBase()
	if ok && addr < base {
		return base + addr
	}
	return addr
}

// resolveThread turns an H-command ThreadSpec into a concrete tid:
// AnyThread prefers the currently halted thread, falling back to the
// first known guest thread; AllThreads is never resolvable (rejected
// earlier, at Hc/Hg time, but handled here too for qC/g/G's own use of
// the stored focus).
func (s *Server) resolveThread(spec rsp.ThreadSpec) (int, bool) {
	switch spec {
	case rsp.AnyThread:
		if th, ok := s.process.HaltedThread(); ok {
			return th.ID(), true
		}
		ids := s.process.GuestThreadIDs()
		if len(ids) > 0 {
			return ids[0], true
		}
		return 0, false
	case rsp.AllThreads:
		return 0, false
	default:
		return int(spec), true
	}
}

func toUint64s(ids []int) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}
