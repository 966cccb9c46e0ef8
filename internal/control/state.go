// Package control implements the mode state machine and command
// grammar of spec.md §4.6/§6: parsing the fixed ASCII command language,
// serializing (program, status) transitions, and wiring the board/LUT
// set to the right accumulation engine for the requested mode.
package control

import "fmt"

// Program is the top-level acquisition mode (spec.md §4.6).
type Program int

const (
	ProgramNone Program = iota
	ProgramStream
	ProgramAveraging
)

func (p Program) String() string {
	switch p {
	case ProgramStream:
		return "stream"
	case ProgramAveraging:
		return "avging"
	default:
		return "none"
	}
}

// Status is the secondary state of spec.md §4.6.
type Status int

const (
	StatusClosed Status = iota
	StatusOpened
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusOpened:
		return "opened"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "closed"
	}
}

// State is the process-wide (program, status) tuple of spec.md §4.6.
type State struct {
	Program Program
	Status  Status
}

// Initial is the state before any command has been handled.
var Initial = State{Program: ProgramNone, Status: StatusClosed}

func (s State) String() string {
	return fmt.Sprintf("(%s, %s)", s.Program, s.Status)
}
