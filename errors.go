package zhe

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Error is a structured engine error carrying the failed operation, the
// peer and conduit it concerns (where applicable), and a classification
// code drawn from spec.md §7's error-kind table.
type Error struct {
	Op        string // operation that failed, e.g. "handle_packet", "write"
	PeerID    string // peer id hex, "" if not peer-specific
	ConduitID int    // conduit id, -1 if not conduit-specific
	Code      Code
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	switch {
	case e.PeerID != "" && e.ConduitID >= 0:
		return fmt.Sprintf("zhe: %s (op=%s peer=%s conduit=%d)", msg, e.Op, e.PeerID, e.ConduitID)
	case e.PeerID != "":
		return fmt.Sprintf("zhe: %s (op=%s peer=%s)", msg, e.Op, e.PeerID)
	case e.Op != "":
		return fmt.Sprintf("zhe: %s (op=%s)", msg, e.Op)
	default:
		return fmt.Sprintf("zhe: %s", msg)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Code classifies an Error per spec.md §7's error-kind table.
type Code string

const (
	CodeMalformedMessage      Code = "malformed message"
	CodePeerIDInvalid         Code = "peer id too long or zero"
	CodeConduitIDOutOfRange   Code = "conduit id out of range"
	CodeBrokerDResultFailed   Code = "broker DRESULT reported non-zero status"
	CodeDeclareWindowFull     Code = "reliable window has no room for a DRESULT reply"
	CodeReliableWriteFull     Code = "reliable transmit window full"
	CodeTransportSendFailed   Code = "transport send failed"
	CodeSubscriberXmitNeeded  Code = "subscriber xmitneed unmet"
	CodeICGCBNoSpace          Code = "icgcb: allocation exceeds total free space"
)

// NewError constructs an Error with no peer/conduit context.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, ConduitID: -1, Code: code, Msg: msg}
}

// NewPeerError constructs an Error scoped to a peer.
func NewPeerError(op, peerID string, code Code, msg string) *Error {
	return &Error{Op: op, PeerID: peerID, ConduitID: -1, Code: code, Msg: msg}
}

// NewConduitError constructs an Error scoped to a peer's conduit.
func NewConduitError(op, peerID string, conduitID int, code Code, msg string) *Error {
	return &Error{Op: op, PeerID: peerID, ConduitID: conduitID, Code: code, Msg: msg}
}

// WrapFatal wraps inner with a stack trace via pkg/errors and classifies it
// under code, for the two unconditionally-fatal paths spec.md §7 names:
// transport send failure, and a broker DRESULT carrying non-zero status.
// Engine panics with the wrapped *Error at these two call sites; a host
// embedding Engine.Loop in its own driver loop is expected to recover at
// its outermost boundary if it wants to log and exit cleanly rather than
// crash.
func WrapFatal(op string, code Code, inner error) *Error {
	return &Error{Op: op, ConduitID: -1, Code: code, Msg: inner.Error(), Inner: pkgerrors.WithStack(inner)}
}

// IsCode reports whether err is, or wraps, an *Error with the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
