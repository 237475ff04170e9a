// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsp

import "testing"

func feed(p *Packetizer, s string) {
	for i := 0; i < len(s); i++ {
		p.Feed(s[i])
	}
}

func TestFrameUnframeRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("OK"),
		[]byte("S05"),
		[]byte{0x00, 0x01, 0xff},
	}
	for _, body := range cases {
		wire := Frame(body)
		var got []byte
		var valid bool
		var gotPacket bool
		p := NewPacketizer()
		p.OnPacket = func(b []byte, v bool) { got = b; valid = v; gotPacket = true }
		for _, b := range wire {
			p.Feed(b)
		}
		if !gotPacket {
			t.Fatalf("no packet emitted for %x", body)
		}
		if !valid {
			t.Fatalf("checksum invalid for %x (wire %s)", body, wire)
		}
		if string(got) != string(body) {
			t.Fatalf("got %x want %x", got, body)
		}
	}
}

func TestFrameEscapesSpecialBytes(t *testing.T) {
	body := []byte{'$', '#', '*', '}', 0x03, 200}
	wire := Frame(body)
	inner := wire[1 : len(wire)-3] // strip leading $ and trailing #cs
	for i := 0; i < len(inner); i++ {
		b := inner[i]
		if b == '}' {
			i++ // the byte after an escape marker is an escaped byte (b^0x20)
			continue
		}
		switch b {
		case '$', '#', '*', 0x03:
			t.Fatalf("unescaped special byte %q in wire form %x", b, wire)
		}
		if b > 126 {
			t.Fatalf("unescaped high byte %x in wire form %x", b, wire)
		}
	}
	var got []byte
	var valid bool
	p := NewPacketizer()
	p.OnPacket = func(b []byte, v bool) { got = b; valid = v }
	feedBytes(p, wire)
	if !valid || string(got) != string(body) {
		t.Fatalf("round-trip failed: got %x valid=%v want %x", got, valid, body)
	}
}

func feedBytes(p *Packetizer, b []byte) {
	for _, c := range b {
		p.Feed(c)
	}
}

func TestRunLengthExpansion(t *testing.T) {
	// "0*#" feeds a single '0' followed by a run-length repeat of 6 more
	// (the run-length count byte, value 35, means 35-29=6 repeats), for a
	// total of seven '0' bytes. That count byte is itself the '#' character,
	// but it is consumed here by the run-length state, not as the frame
	// terminator: the state machine returns to stateBody afterward and a
	// second, real '#' is required to end the frame, followed by the
	// checksum over the bytes as transmitted (see below).
	var got []byte
	var valid bool
	p := NewPacketizer()
	p.OnPacket = func(b []byte, v bool) { got = b; valid = v }
	want := []byte("0000000") // seven '0's

	// The checksum is the mod-256 sum of the bytes as transmitted between
	// '$' and the terminating '#' — '0', '*' and the run-length count byte
	// itself — not of the run-length-expanded body.
	transmitted := []byte{'0', '*', '#'}
	var sum byte
	for _, b := range transmitted {
		sum += b
	}
	// '$' '0' '*' '#'(run-length count=6) '#'(frame terminator) <checksum>
	full := []byte{'$', '0', '*', '#', '#'}
	full = append(full, hexDigit(sum>>4), hexDigit(sum&0xf))
	feedBytes(p, full)
	if !valid {
		t.Fatalf("checksum invalid, got body %q", got)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBreakByte(t *testing.T) {
	p := NewPacketizer()
	var brk bool
	p.OnBreak = func() { brk = true }
	p.Feed(0x03)
	if !brk {
		t.Fatalf("expected break callback")
	}
}

func TestAckBytesIgnored(t *testing.T) {
	p := NewPacketizer()
	called := false
	p.OnBadByte = func(b byte) { called = true }
	p.Feed('+')
	p.Feed('-')
	if called {
		t.Fatalf("ack bytes should be silently ignored")
	}
}

func TestUnexpectedByteInIdle(t *testing.T) {
	p := NewPacketizer()
	var bad byte
	p.OnBadByte = func(b byte) { bad = b }
	p.Feed('z')
	if bad != 'z' {
		t.Fatalf("expected bad byte callback for 'z', got %q", bad)
	}
}

func TestInvalidChecksumReportedInvalid(t *testing.T) {
	p := NewPacketizer()
	var valid bool
	var gotPacket bool
	p.OnPacket = func(b []byte, v bool) { valid = v; gotPacket = true }
	feed(p, "$OK#00") // wrong checksum for "OK" (should be 0x4f+0x4b=0x9a)
	if !gotPacket {
		t.Fatalf("expected packet emission even on bad checksum")
	}
	if valid {
		t.Fatalf("expected checksum to be reported invalid")
	}
}
