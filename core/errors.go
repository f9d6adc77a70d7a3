package core

// These errors are reported to the callers of the routing machinery.
// Routing itself never fails for data-shape reasons: a value that's
// missing or of the wrong type just doesn't match.

import (
	"errors"

	"github.com/Comcast/corral/value"
)

const (
	// NoReplyFault is the fault name sent to a requester when a
	// session ends without answering.
	NoReplyFault = "NoReply"

	// UnknownOperationFault is the fault name sent to a requester
	// when the operation isn't declared.
	UnknownOperationFault = "UnknownOperation"

	// NotCorrelatedFault is the fault name sent to a requester when
	// the message matches no session and can't start one.
	NotCorrelatedFault = "CorrelationError"
)

// ErrMailboxClosed occurs when delivering to, or receiving from, a
// session that has ended.
var ErrMailboxClosed = errors.New("mailbox closed")

// UnknownOperation occurs when a message names an operation the
// process does not declare.
type UnknownOperation struct {
	Process   string
	Operation string
}

func (e *UnknownOperation) Error() string {
	return `operation "` + e.Operation + `" not declared by process "` + e.Process + `"`
}

// NotCorrelated occurs when a message matches no live session and no
// new session can be started for it.
type NotCorrelated struct {
	Process   string
	Operation string
}

func (e *NotCorrelated) Error() string {
	return `message for "` + e.Operation + `" matches no session of process "` + e.Process + `"`
}

// SessionFault is an uncaught fault raised by a session body.  It is
// fatal to that session only.
type SessionFault struct {
	Name  string
	Value *value.Value
}

func (e *SessionFault) Error() string {
	if e.Value.IsDefined() {
		return `fault "` + e.Name + `": ` + e.Value.String()
	}
	return `fault "` + e.Name + `"`
}

// NotAwaitingReply occurs when a session replies to a message that it
// didn't receive or already answered.
type NotAwaitingReply struct {
	Session string
	Id      uint64
}

func (e *NotAwaitingReply) Error() string {
	return "session " + e.Session + " isn't awaiting a reply for that message"
}
