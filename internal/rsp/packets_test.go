// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsp

import (
	"reflect"
	"testing"
)

func TestCommandDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		QueryStopReason{},
		ContinueCmd{},
		StepCmd{},
		ReadRegisters{},
		WriteRegisters{Data: []byte{0x01, 0x02, 0x03}},
		ReadMemory{Addr: 0xc00020080, Len: 1},
		WriteMemory{Addr: 0xc00020080, Len: 1, Data: []byte{0xcc}},
		SetThreadForContinue{Thread: ThreadSpec(0x10)},
		SetThreadForContinue{Thread: AllThreads},
		SetThreadForOther{Thread: ThreadSpec(2)},
		QueryCurrentThread{},
		IsThreadAlive{TID: 0x1234},
		ThreadInfoFirst{},
		ThreadInfoNext{},
		QueryOffsets{},
	}
	for _, p := range cases {
		body := p.Encode()
		got, err := Decode(body)
		if err != nil {
			t.Fatalf("Decode(%q): %v", body, err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Fatalf("Decode(%q) = %#v, want %#v", body, got, p)
		}
	}
}

func TestDecodeMemoryCommands(t *testing.T) {
	got, err := Decode([]byte("mc00020080,1"))
	if err != nil {
		t.Fatal(err)
	}
	want := ReadMemory{Addr: 0xc00020080, Len: 1}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}

	got, err = Decode([]byte("Mc00020080,1:cc"))
	if err != nil {
		t.Fatal(err)
	}
	wantW := WriteMemory{Addr: 0xc00020080, Len: 1, Data: []byte{0xcc}}
	gotW := got.(WriteMemory)
	if gotW.Addr != wantW.Addr || gotW.Len != wantW.Len || string(gotW.Data) != string(wantW.Data) {
		t.Fatalf("got %+v want %+v", gotW, wantW)
	}
}

func TestDecodeUnknownIsEmptyReplyCandidate(t *testing.T) {
	got, err := Decode([]byte("QStartNoAckMode"))
	if err != nil {
		t.Fatal(err)
	}
	u, ok := got.(Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %#v", got)
	}
	if string(u.Raw) != "QStartNoAckMode" {
		t.Fatalf("got %q", u.Raw)
	}
	// The server answers any Unknown with the empty packet.
	if string(EmptyReply{}.Encode()) != "" {
		t.Fatalf("expected empty reply body")
	}
}

func TestBreakpointCommandDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		InsertBreakpoint{Kind: SoftwareBreakpoint, Addr: 0xc0020080, Len: 1},
		RemoveBreakpoint{Kind: SoftwareBreakpoint, Addr: 0xc0020080, Len: 1},
		InsertBreakpoint{Kind: HardwareBreakpoint, Addr: 0, Len: 1},
	}
	for _, p := range cases {
		body := p.Encode()
		got, err := Decode(body)
		if err != nil {
			t.Fatalf("Decode(%q): %v", body, err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Fatalf("Decode(%q) = %#v, want %#v", body, got, p)
		}
	}
}

func TestDecodeInsertBreakpoint(t *testing.T) {
	got, err := Decode([]byte("Z0,c0020080,1"))
	if err != nil {
		t.Fatal(err)
	}
	want := InsertBreakpoint{Kind: SoftwareBreakpoint, Addr: 0xc0020080, Len: 1}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestDecodeRemoveBreakpointMissingComma(t *testing.T) {
	if _, err := Decode([]byte("z0")); err == nil {
		t.Fatalf("expected an error for a malformed z command")
	}
}

func TestQuerySupportedRoundTrip(t *testing.T) {
	body := "qSupported:multiprocess+;swbreak-;xmlRegisters=i386"
	p, err := Decode([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	qs := p.(QuerySupported)
	if len(qs.Features) != 3 {
		t.Fatalf("got %d features, want 3: %+v", len(qs.Features), qs.Features)
	}
	if qs.Features[0].Name != "multiprocess" || qs.Features[0].Mark != '+' {
		t.Fatalf("got %+v", qs.Features[0])
	}
	if qs.Features[2].Name != "xmlRegisters" || qs.Features[2].Value != "i386" || qs.Features[2].Mark != '=' {
		t.Fatalf("got %+v", qs.Features[2])
	}
	if string(qs.Encode()) != body {
		t.Fatalf("got %q want %q", qs.Encode(), body)
	}
}

func TestXferFeaturesReadDecode(t *testing.T) {
	p, err := Decode([]byte("qXfer:features:read:target.xml:0,3fb"))
	if err != nil {
		t.Fatal(err)
	}
	x := p.(XferFeaturesRead)
	if x.File != "target.xml" || x.Offset != 0 || x.Length != 0x3fb {
		t.Fatalf("got %+v", x)
	}
}

func TestErrorReplyEncode(t *testing.T) {
	// Scenario S4: kErrorThreadIsDead, decimal 10 -> "E0a".
	got := ErrorReply{Code: 10}.Encode()
	if string(got) != "E0a" {
		t.Fatalf("got %q want E0a", got)
	}
}

func TestThreadListReplyRoundTrip(t *testing.T) {
	r := ThreadListReply{TIDs: []uint64{2, 0x10}}
	if string(r.Encode()) != "m2,10" {
		t.Fatalf("got %q", r.Encode())
	}
	empty := ThreadListReply{}
	if string(empty.Encode()) != "l" {
		t.Fatalf("got %q want l", empty.Encode())
	}
}

// TestGuestThreadListTerminatesWithBareL is scenario S3: qfThreadInfo
// returns the full guest thread list with no trailing terminator, and the
// qsThreadInfo that follows answers with the bare end-of-list "l".
func TestGuestThreadListTerminatesWithBareL(t *testing.T) {
	first := ThreadListReply{TIDs: []uint64{2, 0x10}}
	if string(first.Encode()) != "m2,10" {
		t.Fatalf("qfThreadInfo got %q, want m2,10", first.Encode())
	}
	next := ThreadListReply{}
	if string(next.Encode()) != "l" {
		t.Fatalf("qsThreadInfo got %q, want l", next.Encode())
	}
}

func TestSupportedFeaturesReplyEncode(t *testing.T) {
	r := SupportedFeaturesReply{
		PacketSize: 0x7cf,
		Features:   []Feature{{Name: "qXfer:libraries:read", Mark: '+'}, {Name: "qXfer:features:read", Mark: '+'}},
	}
	want := "PacketSize=7cf;qXfer:libraries:read+;qXfer:features:read+"
	if string(r.Encode()) != want {
		t.Fatalf("got %q want %q", r.Encode(), want)
	}
}

func TestDecodeReplyExitedAndTerminated(t *testing.T) {
	p, err := DecodeReply([]byte("W00"), HintNone)
	if err != nil {
		t.Fatal(err)
	}
	if p.(ExitedReply).Code != 0 {
		t.Fatalf("got %+v", p)
	}
	p, err = DecodeReply([]byte("X0b;process:1"), HintNone)
	if err != nil {
		t.Fatal(err)
	}
	x := p.(TerminatedReply)
	if x.Signal != 0x0b || !x.HasPID || x.PID != 1 {
		t.Fatalf("got %+v", x)
	}
}

func TestDecodeReplyBlobsNeedHint(t *testing.T) {
	p, err := DecodeReply([]byte("deadbeef"), HintMemoryBlob)
	if err != nil {
		t.Fatal(err)
	}
	mb := p.(MemoryBlob)
	if string(mb.Data) != string([]byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("got %x", mb.Data)
	}
}
