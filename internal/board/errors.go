package board

import (
	"fmt"
)

// FaultCode classifies a board-level failure the way go-ublk's UblkErrorCode
// classifies kernel-facing errors: a small closed set the caller can branch
// on with errors.Is, independent of the human-readable message.
type FaultCode string

const (
	// HardwareUnavailable means Open failed; the board must be treated as
	// closed and never used (spec.md §4.1).
	HardwareUnavailable FaultCode = "hardware_unavailable"
	// Aborted means a hard stop was requested while a wait was pending.
	Aborted FaultCode = "aborted"
	// Stopped means a cooperative stop completed while a wait was pending.
	Stopped FaultCode = "stopped"
	// Timeout means WaitDone's deadline elapsed (not used on the real-time
	// path, which waits indefinitely, but available for tests).
	Timeout FaultCode = "timeout"
	// QueueEmpty means the circular buffer had nothing queued.
	QueueEmpty FaultCode = "queue_empty"
	// InternalWaitFailed covers any other failure surfaced by the wait
	// primitive itself.
	InternalWaitFailed FaultCode = "internal_wait_failed"
)

// Fault is the structured error type returned by Board operations. It
// carries the board index and the category so callers can distinguish
// setup failures (fatal for the mode transition, per spec.md §7) from
// per-wait failures (which only abandon the current accumulation cycle).
type Fault struct {
	Op    string
	Board int
	Code  FaultCode
	Inner error
}

func (f *Fault) Error() string {
	if f.Inner != nil {
		return fmt.Sprintf("board[%d]: %s: %s: %v", f.Board, f.Op, f.Code, f.Inner)
	}
	return fmt.Sprintf("board[%d]: %s: %s", f.Board, f.Op, f.Code)
}

func (f *Fault) Unwrap() error { return f.Inner }

// Is allows errors.Is(err, &board.Fault{Code: board.Aborted}) style
// comparisons by comparing fault codes rather than pointer identity.
func (f *Fault) Is(target error) bool {
	other, ok := target.(*Fault)
	if !ok {
		return false
	}
	return f.Code == other.Code
}

// newFault is a convenience constructor used throughout the package.
func newFault(op string, boardIdx int, code FaultCode, inner error) *Fault {
	return &Fault{Op: op, Board: boardIdx, Code: code, Inner: inner}
}

// IsSetupFault reports whether code belongs to the "fatal for this mode
// transition" class described in spec.md §7 (open/allocate/circular-setup),
// as opposed to a per-wait fault that only abandons the current cycle.
func IsSetupFault(code FaultCode) bool {
	return code == HardwareUnavailable
}
