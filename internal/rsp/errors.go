// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rsp

import "fmt"

// Kind classifies an error the core can produce.
type Kind int

const (
	KindFraming Kind = iota
	KindProtocol
	KindNotHalted
	KindIO
	KindTooLarge
	KindLifecycle
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindProtocol:
		return "protocol"
	case KindNotHalted:
		return "not-halted"
	case KindIO:
		return "io"
	case KindTooLarge:
		return "too-large"
	case KindLifecycle:
		return "lifecycle"
	case KindUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Wire error codes, one per failure the protocol can name in an E<hh> reply.
// Values match the original debug-server's numbering so scenario S4's
// "kErrorThreadIsDead" (decimal 10) produces the same wire byte.
const (
	ErrNoFocusedThread                     = 1
	ErrNoFocusedProcess                    = 2
	ErrSetFocusToAllThreadsIsNotSupported  = 3
	ErrReadMemoryFailed                    = 4
	ErrPacketIsTooLarge                    = 5
	ErrWriteMemoryFailed                   = 6
	ErrGetThreadContextFailed              = 7
	ErrSetThreadContextFailed              = 8
	ErrSingleStepFailed                    = 9
	ErrThreadIsDead                        = 10
	ErrCompatibilityModeAlreadyArmed       = 11
)

// Error is a core error annotated with a Kind and, where the protocol
// defines one, a wire error code for an E<hh> reply.
type Error struct {
	Kind Kind
	Code int // valid only when HasCode is true
	HasCode bool
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// WireCode returns the protocol's E<hh> error code for e, if any.
// KindUnsupported has no wire code (the empty-packet reply is used instead)
// and KindFraming never reaches the wire (the framer recovers locally).
func (e *Error) WireCode() (code int, ok bool) {
	return e.Code, e.HasCode
}

func newErr(kind Kind, code int, hasCode bool, cause error) *Error {
	return &Error{Kind: kind, Code: code, HasCode: hasCode, Err: cause}
}

func NotHalted(code int) *Error     { return newErr(KindNotHalted, code, true, nil) }
func Protocol(cause error) *Error   { return newErr(KindProtocol, 0, false, cause) }
func IO(code int, cause error) *Error { return newErr(KindIO, code, true, cause) }
func TooLarge() *Error              { return newErr(KindTooLarge, ErrPacketIsTooLarge, true, nil) }
func Lifecycle(code int) *Error     { return newErr(KindLifecycle, code, true, nil) }
func Unsupported() *Error           { return newErr(KindUnsupported, 0, false, nil) }
