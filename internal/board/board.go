// Package board provides the frame-grabber abstraction described in
// spec.md §4.1: the only place the vendor capture SDK is touched. The
// vendor SDK itself is out of scope (spec.md §1), so this package defines
// the interface the rest of the acquisition core depends on, plus a
// Simulated implementation used by tests and by any deployment that has
// no physical frame-grabber board attached.
package board

import (
	"context"
	"sync"
	"time"
)

// FrameWidth and FrameHeight are the fixed sensor dimensions for both
// cameras (spec.md §1).
const (
	FrameWidth  = 1024
	FrameHeight = 1024
	FramePixels = FrameWidth * FrameHeight

	// StreamRingDepth and AveragingRingDepth are the two ring sizes the
	// control plane chooses between on mode entry (spec.md §3).
	StreamRingDepth    = 1984
	AveragingRingDepth = 1032
)

// RunState mirrors the BFBOOL Start/Stop/Abort/Pause/Cleanup quintet
// queried by BiControlStatusGet in the original source, collapsed into a
// single enum since the five original booleans are mutually exclusive in
// practice.
type RunState int

const (
	StateClosed RunState = iota
	StateOpened
	StateRunning
	StatePaused
	StateStopping
	StateAborting
	StateCleanup
)

// CaptureCounters reports the cumulative captured/missed frame counts
// exposed by the vendor SDK's BiCaptureStatusGet (spec.md §4.1).
type CaptureCounters struct {
	Captured uint64
	Missed   uint64
}

// Board is the per-frame-grabber abstraction. All operations are
// synchronous from the caller's point of view; Start/Stop/Pause/Resume/
// Abort are asynchronous with respect to in-flight frames, matching the
// vendor SDK's own async semantics (spec.md §4.1).
type Board interface {
	// Index returns the board's 0-based identity (Cam0 or Cam1).
	Index() int

	// SetBuffers allocates a ring of n pinned capture buffers. Must be
	// called before Start. n is chosen by the caller to match the mode
	// (StreamRingDepth or AveragingRingDepth).
	SetBuffers(n int) error

	Start() error
	Stop() error
	Pause() error
	Resume() error
	Abort() error

	// WaitDone blocks until the next frame is ready, acquisition is
	// cleaned up, or ctx is cancelled. A cancelled ctx surfaces as an
	// InternalWaitFailed fault, not a Go context error, so callers can
	// keep treating every wait outcome uniformly per spec.md §7.
	WaitDone(ctx context.Context) (*FrameHandle, error)

	// QueueSize returns the number of frames still buffered behind the
	// one just returned by WaitDone -- the lag signal of spec.md §3/§8.3.
	QueueSize() int

	CaptureCounters() CaptureCounters

	// WaitError blocks until an asynchronous board error occurs or ctx
	// is cancelled (spec.md §4.1, §5: "board-error drain threads").
	WaitError(ctx context.Context) error

	// Close releases all buffers and closes the board. After Close the
	// board must not be used (spec.md §3).
	Close() error

	// DumpRing returns verbatim byte copies of the most recently
	// captured raw frames, most-recent last, for stream mode's stop-time
	// ring flush (spec.md §4.4/§6).
	DumpRing() [][]byte
}

// FrameHandle references one completed raw frame still owned by the
// board's memory. It must be released back to the board exactly once
// (spec.md §3, §8.3).
type FrameHandle struct {
	// Pixels is a 1024x1024 row-major view of 16-bit raw samples. It
	// remains valid only until Release is called.
	Pixels []uint16

	Sequence  uint64
	Timestamp time.Time

	release func(*FrameHandle) error
	once    sync.Once
	err     error
}

// Release returns the handle to the board's free list. Calling it more
// than once is a safe no-op, matching go4vl's Frame.Release discipline.
func (h *FrameHandle) Release() error {
	h.once.Do(func() {
		if h.release != nil {
			h.err = h.release(h)
		}
	})
	return h.err
}
