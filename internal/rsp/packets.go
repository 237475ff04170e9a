// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sandboxdbg/rspbridge/internal/blob"
)

// Packet is the tagged-variant type over every supported command and reply.
// Each concrete type carries exactly the fields its wire form encodes and
// knows how to serialise itself; parsing is done by the free function
// Decode (for commands, self-describing) and DecodeReply (for replies,
// which need a type hint because the wire form is not self-describing).
type Packet interface {
	// Encode renders the packet body (without the $...#cs envelope).
	Encode() []byte
}

// ReplyHint tells DecodeReply which variant to parse a reply payload as.
type ReplyHint int

const (
	HintNone ReplyHint = iota
	HintRegisterBlob
	HintMemoryBlob
	HintXfer
)

// ---- inbound commands ----

type QueryStopReason struct{}

func (QueryStopReason) Encode() []byte { return []byte("?") }

type ContinueCmd struct{}

func (ContinueCmd) Encode() []byte { return []byte("c") }

type StepCmd struct{}

func (StepCmd) Encode() []byte { return []byte("s") }

type ReadRegisters struct{}

func (ReadRegisters) Encode() []byte { return []byte("g") }

type WriteRegisters struct{ Data []byte }

func (p WriteRegisters) Encode() []byte {
	return append([]byte("G"), []byte(hexEncode(p.Data))...)
}

type ReadMemory struct {
	Addr uint64
	Len  int
}

func (p ReadMemory) Encode() []byte {
	return []byte(fmt.Sprintf("m%x,%x", p.Addr, p.Len))
}

type WriteMemory struct {
	Addr uint64
	Len  int
	Data []byte
}

func (p WriteMemory) Encode() []byte {
	return []byte(fmt.Sprintf("M%x,%x:%s", p.Addr, p.Len, hexEncode(p.Data)))
}

// ThreadSpec is the argument of an H command: an explicit tid, AllThreads
// (-1) or AnyThread (0).
type ThreadSpec int64

const (
	AnyThread ThreadSpec = 0
	AllThreads ThreadSpec = -1
)

type SetThreadForContinue struct{ Thread ThreadSpec }

func (p SetThreadForContinue) Encode() []byte {
	return []byte("Hc" + threadSpecString(p.Thread))
}

type SetThreadForOther struct{ Thread ThreadSpec }

func (p SetThreadForOther) Encode() []byte {
	return []byte("Hg" + threadSpecString(p.Thread))
}

func threadSpecString(t ThreadSpec) string {
	if t == AllThreads {
		return "-1"
	}
	return strconv.FormatInt(int64(t), 16)
}

type QueryCurrentThread struct{}

func (QueryCurrentThread) Encode() []byte { return []byte("qC") }

type IsThreadAlive struct{ TID uint64 }

func (p IsThreadAlive) Encode() []byte { return []byte(fmt.Sprintf("T%x", p.TID)) }

type ThreadInfoFirst struct{}

func (ThreadInfoFirst) Encode() []byte { return []byte("qfThreadInfo") }

type ThreadInfoNext struct{}

func (ThreadInfoNext) Encode() []byte { return []byte("qsThreadInfo") }

// Feature is one entry of a qSupported feature-list, e.g. "multiprocess+".
type Feature struct {
	Name  string
	Value string // non-empty only when Mark == '='
	Mark  byte   // one of '+', '-', '?', '='
}

type QuerySupported struct{ Features []Feature }

func (p QuerySupported) Encode() []byte {
	parts := make([]string, len(p.Features))
	for i, f := range p.Features {
		if f.Mark == '=' {
			parts[i] = f.Name + "=" + f.Value
		} else {
			parts[i] = f.Name + string(f.Mark)
		}
	}
	return []byte("qSupported:" + strings.Join(parts, ";"))
}

type XferFeaturesRead struct {
	File   string
	Offset int
	Length int
}

func (p XferFeaturesRead) Encode() []byte {
	return []byte(fmt.Sprintf("qXfer:features:read:%s:%x,%x", p.File, p.Offset, p.Length))
}

type QueryOffsets struct{}

func (QueryOffsets) Encode() []byte { return []byte("qOffsets") }

// BreakpointKind is the Z/z command's leading type digit: 0 is a software
// breakpoint (the only one this bridge implements); 1-4 name hardware
// breakpoints and watchpoints, which Non-goals exclude.
type BreakpointKind int

const (
	SoftwareBreakpoint BreakpointKind = iota
	HardwareBreakpoint
	WriteWatchpoint
	ReadWatchpoint
	AccessWatchpoint
)

type InsertBreakpoint struct {
	Kind BreakpointKind
	Addr uint64
	Len  int
}

func (p InsertBreakpoint) Encode() []byte {
	return []byte(fmt.Sprintf("Z%x,%x,%x", int(p.Kind), p.Addr, p.Len))
}

type RemoveBreakpoint struct {
	Kind BreakpointKind
	Addr uint64
	Len  int
}

func (p RemoveBreakpoint) Encode() []byte {
	return []byte(fmt.Sprintf("z%x,%x,%x", int(p.Kind), p.Addr, p.Len))
}

// OffsetsReply answers qOffsets with the guest's text and data section
// base addresses, both set to the recorded guest memory base since the
// guest's linear memory has no separate text/data split visible here.
type OffsetsReply struct {
	Text uint64
	Data uint64
}

func (p OffsetsReply) Encode() []byte {
	return []byte(fmt.Sprintf("Text=%x;Data=%x", p.Text, p.Data))
}

// Unknown is any recognised-as-framed but otherwise unsupported command; the
// server answers it with the empty packet.
type Unknown struct{ Raw []byte }

func (p Unknown) Encode() []byte { return p.Raw }

// Decode parses an inbound command packet body. Commands are
// self-describing: the leading character(s) identify the variant.
func Decode(body []byte) (Packet, error) {
	s := string(body)
	switch {
	case s == "?":
		return QueryStopReason{}, nil
	case s == "c":
		return ContinueCmd{}, nil
	case s == "s":
		return StepCmd{}, nil
	case s == "g":
		return ReadRegisters{}, nil
	case strings.HasPrefix(s, "G"):
		data, err := hexDecode(s[1:])
		if err != nil {
			return nil, Protocol(err)
		}
		return WriteRegisters{Data: data}, nil
	case strings.HasPrefix(s, "m"):
		return parseReadMemory(s[1:])
	case strings.HasPrefix(s, "M"):
		return parseWriteMemory(s[1:])
	case strings.HasPrefix(s, "Hc"):
		t, err := parseThreadSpec(s[2:])
		if err != nil {
			return nil, Protocol(err)
		}
		return SetThreadForContinue{Thread: t}, nil
	case strings.HasPrefix(s, "Hg"):
		t, err := parseThreadSpec(s[2:])
		if err != nil {
			return nil, Protocol(err)
		}
		return SetThreadForOther{Thread: t}, nil
	case s == "qC":
		return QueryCurrentThread{}, nil
	case strings.HasPrefix(s, "T"):
		tid, err := strconv.ParseUint(s[1:], 16, 64)
		if err != nil {
			return nil, Protocol(err)
		}
		return IsThreadAlive{TID: tid}, nil
	case s == "qfThreadInfo":
		return ThreadInfoFirst{}, nil
	case s == "qsThreadInfo":
		return ThreadInfoNext{}, nil
	case strings.HasPrefix(s, "qSupported"):
		return parseQuerySupported(s)
	case strings.HasPrefix(s, "qXfer:features:read:"):
		return parseXferFeaturesRead(s)
	case s == "qOffsets":
		return QueryOffsets{}, nil
	case strings.HasPrefix(s, "Z"):
		return parseBreakpointCmd(s[1:], true)
	case strings.HasPrefix(s, "z"):
		return parseBreakpointCmd(s[1:], false)
	default:
		return Unknown{Raw: body}, nil
	}
}

func parseThreadSpec(s string) (ThreadSpec, error) {
	if s == "-1" {
		return AllThreads, nil
	}
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad thread id %q: %w", s, err)
	}
	return ThreadSpec(v), nil
}

func parseReadMemory(s string) (Packet, error) {
	addr, length, err := parseAddrLen(s)
	if err != nil {
		return nil, Protocol(err)
	}
	return ReadMemory{Addr: addr, Len: length}, nil
}

func parseWriteMemory(s string) (Packet, error) {
	head, hexData, found := strings.Cut(s, ":")
	if !found {
		return nil, Protocol(fmt.Errorf("M command missing ':'"))
	}
	addr, length, err := parseAddrLen(head)
	if err != nil {
		return nil, Protocol(err)
	}
	data, err := hexDecode(hexData)
	if err != nil {
		return nil, Protocol(err)
	}
	return WriteMemory{Addr: addr, Len: length, Data: data}, nil
}

func parseAddrLen(s string) (addr uint64, length int, err error) {
	addrStr, lenStr, found := strings.Cut(s, ",")
	if !found {
		return 0, 0, fmt.Errorf("missing ','")
	}
	addr, err = strconv.ParseUint(addrStr, 16, 64)
	if err != nil {
		return 0, 0, err
	}
	l, err := strconv.ParseUint(lenStr, 16, 64)
	if err != nil {
		return 0, 0, err
	}
	return addr, int(l), nil
}

func parseBreakpointCmd(s string, insert bool) (Packet, error) {
	kindStr, rest, found := strings.Cut(s, ",")
	if !found {
		return nil, Protocol(fmt.Errorf("Z/z command missing ','"))
	}
	kind, err := strconv.ParseInt(kindStr, 16, 64)
	if err != nil {
		return nil, Protocol(err)
	}
	addr, length, err := parseAddrLen(rest)
	if err != nil {
		return nil, Protocol(err)
	}
	if insert {
		return InsertBreakpoint{Kind: BreakpointKind(kind), Addr: addr, Len: length}, nil
	}
	return RemoveBreakpoint{Kind: BreakpointKind(kind), Addr: addr, Len: length}, nil
}

func parseQuerySupported(s string) (Packet, error) {
	rest := strings.TrimPrefix(s, "qSupported")
	rest = strings.TrimPrefix(rest, ":")
	if rest == "" {
		return QuerySupported{}, nil
	}
	var feats []Feature
	for _, tok := range strings.Split(rest, ";") {
		if tok == "" {
			continue
		}
		if name, val, found := strings.Cut(tok, "="); found {
			feats = append(feats, Feature{Name: name, Value: val, Mark: '='})
			continue
		}
		mark := tok[len(tok)-1]
		feats = append(feats, Feature{Name: tok[:len(tok)-1], Mark: mark})
	}
	return QuerySupported{Features: feats}, nil
}

func parseXferFeaturesRead(s string) (Packet, error) {
	rest := strings.TrimPrefix(s, "qXfer:features:read:")
	file, offLen, found := strings.Cut(rest, ":")
	if !found {
		return nil, Protocol(fmt.Errorf("qXfer:features:read missing offset/length"))
	}
	off, length, err := parseAddrLen(offLen)
	if err != nil {
		return nil, Protocol(err)
	}
	return XferFeaturesRead{File: file, Offset: int(off), Length: length}, nil
}

// ---- outbound replies ----

type OKReply struct{}

func (OKReply) Encode() []byte { return []byte("OK") }

type EmptyReply struct{}

func (EmptyReply) Encode() []byte { return nil }

type ErrorReply struct{ Code int }

func (p ErrorReply) Encode() []byte { return []byte(fmt.Sprintf("E%02x", p.Code&0xff)) }

type SignalledReply struct{ Signal int }

func (p SignalledReply) Encode() []byte { return []byte(fmt.Sprintf("S%02x", p.Signal&0xff)) }

type ExitedReply struct {
	Code   int
	PID    int
	HasPID bool
}

func (p ExitedReply) Encode() []byte {
	if p.HasPID {
		return []byte(fmt.Sprintf("W%02x;process:%x", p.Code&0xff, p.PID))
	}
	return []byte(fmt.Sprintf("W%02x", p.Code&0xff))
}

type TerminatedReply struct {
	Signal int
	PID    int
	HasPID bool
}

func (p TerminatedReply) Encode() []byte {
	if p.HasPID {
		return []byte(fmt.Sprintf("X%02x;process:%x", p.Signal&0xff, p.PID))
	}
	return []byte(fmt.Sprintf("X%02x", p.Signal&0xff))
}

// ConsoleOutput models the `O<...>` reply. This server never constructs one
// (it has no inferior console stream of its own to relay) but the codec can
// still decode one if it is ever received, for protocol completeness.
type ConsoleOutput struct{ Data []byte }

func (p ConsoleOutput) Encode() []byte { return append([]byte("O"), []byte(hexEncode(p.Data))...) }

type RegisterBlob struct{ Data []byte }

func (p RegisterBlob) Encode() []byte { return []byte(hexEncode(p.Data)) }

type MemoryBlob struct{ Data []byte }

func (p MemoryBlob) Encode() []byte { return []byte(hexEncode(p.Data)) }

// XferChunk is an l<body> (last chunk) or m<body> (more follows) Xfer reply.
type XferChunk struct {
	Data []byte
	More bool
}

func (p XferChunk) Encode() []byte {
	prefix := byte('l')
	if p.More {
		prefix = 'm'
	}
	return append([]byte{prefix}, p.Data...)
}

type CurrentThreadReply struct{ Thread ThreadSpec }

func (p CurrentThreadReply) Encode() []byte {
	return []byte("QC" + threadSpecString(p.Thread))
}

// ThreadListReply is the m<tid>,<tid>,... reply to qfThreadInfo, or the
// bare "l" end-of-list reply to qsThreadInfo. The ids carry no trailing
// terminator: qfThreadInfo returns the whole list in one reply and the
// following qsThreadInfo always answers "l" (no more threads).
type ThreadListReply struct{ TIDs []uint64 }

func (p ThreadListReply) Encode() []byte {
	if len(p.TIDs) == 0 {
		return []byte("l")
	}
	parts := make([]string, len(p.TIDs))
	for i, t := range p.TIDs {
		parts[i] = strconv.FormatUint(t, 16)
	}
	return []byte("m" + strings.Join(parts, ","))
}

// SupportedFeaturesReply is the reply to qSupported.
type SupportedFeaturesReply struct {
	PacketSize int
	Features   []Feature
}

func (p SupportedFeaturesReply) Encode() []byte {
	parts := []string{fmt.Sprintf("PacketSize=%x", p.PacketSize)}
	for _, f := range p.Features {
		if f.Mark == '=' {
			parts = append(parts, f.Name+"="+f.Value)
		} else {
			parts = append(parts, f.Name+string(f.Mark))
		}
	}
	return []byte(strings.Join(parts, ";"))
}

// DecodeReply parses an outbound reply payload given a type hint; replies
// are not self-describing the way commands are.
func DecodeReply(body []byte, hint ReplyHint) (Packet, error) {
	s := string(body)
	switch {
	case s == "OK":
		return OKReply{}, nil
	case s == "":
		return EmptyReply{}, nil
	case strings.HasPrefix(s, "E") && len(s) == 3:
		code, err := strconv.ParseUint(s[1:], 16, 8)
		if err != nil {
			return nil, Protocol(err)
		}
		return ErrorReply{Code: int(code)}, nil
	case strings.HasPrefix(s, "S") && len(s) == 3:
		sig, err := strconv.ParseUint(s[1:], 16, 8)
		if err != nil {
			return nil, Protocol(err)
		}
		return SignalledReply{Signal: int(sig)}, nil
	case strings.HasPrefix(s, "W"):
		return parseExitedReply(s)
	case strings.HasPrefix(s, "X"):
		return parseTerminatedReply(s)
	case strings.HasPrefix(s, "O"):
		data, err := hexDecode(s[1:])
		if err != nil {
			return nil, Protocol(err)
		}
		return ConsoleOutput{Data: data}, nil
	case strings.HasPrefix(s, "l"):
		return XferChunk{Data: body[1:], More: false}, nil
	case strings.HasPrefix(s, "m") && hint == HintXfer:
		return XferChunk{Data: body[1:], More: true}, nil
	case strings.HasPrefix(s, "QC"):
		t, err := parseThreadSpec(s[2:])
		if err != nil {
			return nil, Protocol(err)
		}
		return CurrentThreadReply{Thread: t}, nil
	case strings.HasPrefix(s, "m"):
		return parseThreadListReply(s)
	default:
		switch hint {
		case HintRegisterBlob:
			data, err := hexDecode(s)
			if err != nil {
				return nil, Protocol(err)
			}
			return RegisterBlob{Data: data}, nil
		case HintMemoryBlob:
			data, err := hexDecode(s)
			if err != nil {
				return nil, Protocol(err)
			}
			return MemoryBlob{Data: data}, nil
		}
		return nil, Protocol(fmt.Errorf("unrecognised reply %q", s))
	}
}

func parseExitedReply(s string) (Packet, error) {
	body, procPart, hasProc := strings.Cut(s[1:], ";")
	code, err := strconv.ParseUint(body, 16, 8)
	if err != nil {
		return nil, Protocol(err)
	}
	r := ExitedReply{Code: int(code)}
	if hasProc {
		pid, err := parseProcessSuffix(procPart)
		if err != nil {
			return nil, Protocol(err)
		}
		r.PID, r.HasPID = pid, true
	}
	return r, nil
}

func parseTerminatedReply(s string) (Packet, error) {
	body, procPart, hasProc := strings.Cut(s[1:], ";")
	sig, err := strconv.ParseUint(body, 16, 8)
	if err != nil {
		return nil, Protocol(err)
	}
	r := TerminatedReply{Signal: int(sig)}
	if hasProc {
		pid, err := parseProcessSuffix(procPart)
		if err != nil {
			return nil, Protocol(err)
		}
		r.PID, r.HasPID = pid, true
	}
	return r, nil
}

func parseProcessSuffix(s string) (int, error) {
	s = strings.TrimPrefix(s, "process:")
	v, err := strconv.ParseUint(s, 16, 32)
	return int(v), err
}

func parseThreadListReply(s string) (Packet, error) {
	body := strings.TrimPrefix(s, "m")
	body = strings.TrimSuffix(body, "l")
	if body == "" {
		return ThreadListReply{}, nil
	}
	var tids []uint64
	for _, tok := range strings.Split(body, ",") {
		v, err := strconv.ParseUint(tok, 16, 64)
		if err != nil {
			return nil, Protocol(err)
		}
		tids = append(tids, v)
	}
	return ThreadListReply{TIDs: tids}, nil
}

// hexEncode and hexDecode hand the bulk (whole-string) hex conversion the
// wire format needs for register/memory blobs off to internal/blob, which
// the packetizer's per-byte streaming decode (hexNibble) doesn't share.
func hexEncode(b []byte) string {
	return blob.New(b).ToHexString()
}

func hexDecode(s string) ([]byte, error) {
	bl, err := blob.FromHexString(s)
	if err != nil {
		return nil, err
	}
	return bl.Bytes(), nil
}
