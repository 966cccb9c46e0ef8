// Package accum implements the accumulation engine of spec.md §4.3/§4.4:
// the two acquisition workers (one per board), the two double-buffered
// accumulation regions X/Y, and the four readiness events that hand
// completed regions off to the persistence workers.
package accum

import (
	"sync"
	"time"

	"github.com/ncar-hao/kcor-socketcam/internal/board"
)

// PixelsPerFrame is the per-camera raw frame size.
const PixelsPerFrame = board.FramePixels

// numQuads is the number of spatially-cycled LUT states per frame
// (spec.md §4.2/§4.3).
const numQuads = 4

// EntriesPerCamera is the width of one camera's half of a Region
// (4 quads x PixelsPerFrame), per spec.md §3's invariant
// "len(AccumRegion) = pixels x 4 quad_states x 2 cameras".
const EntriesPerCamera = PixelsPerFrame * numQuads

// EntriesPerRegion is the total Region length.
const EntriesPerRegion = EntriesPerCamera * 2

// Region is the 32-bit accumulation buffer of spec.md §3: "32-bit
// unsigned buffer of pixels x 8 entries laid out [cam0_q0, cam0_q1,
// cam0_q2, cam0_q3, cam1_q0, ...]". Each camera's 4*pixels half is
// itself four PixelsPerFrame-wide temporal blocks, one per quad
// sub-frame (block q = accum[q*pixels : (q+1)*pixels]); a single
// integration captures one sub-frame per block, repeated iiN_limit
// times with += accumulation. Within a block, the four LUTs still cycle
// spatially every four positions (spec.md §4.3 step 3: "accum[4j+q] +=
// lut[c][q][raw[4j+q]]"), matching original_source's
// GetImgAndApplyLut[01].h: pAvg resets to the half's start once per
// integration, then advances one whole sub-frame (pixels entries) per
// quad-loop iteration while the inner jj loop cycles the same four LUT
// pointers over each sub-frame's pixels.
type Region struct {
	Data      []uint32
	Timestamp time.Time
}

// NewRegion allocates a zeroed region.
func NewRegion() *Region {
	return &Region{Data: make([]uint32, EntriesPerRegion)}
}

// CameraOffset returns the start of camera cam's half of the region,
// per spec.md §3's "cam0's halves occupy the first 4x pixels, cam1's the
// second 4x" invariant.
func CameraOffset(cam int) int {
	return cam * EntriesPerCamera
}

// Zero clears the region in place (spec.md §4.5 step 6, §8 invariant 2).
func (r *Region) Zero() {
	for i := range r.Data {
		r.Data[i] = 0
	}
}

// ReadyEvent is an auto-reset single-producer/single-consumer signal
// (spec.md §3/§5): the acquisition worker signals it once per completed
// accumulation cycle; the paired writer worker waits on it (ANDed with
// its sibling event for the other camera) before draining the region.
//
// It is implemented as a capacity-1 channel rather than a condition
// variable, mirroring go4vl's context-aware wait idiom in
// v4l2.WaitForRead(ctx, d) used throughout capture_frames.go: Wait
// selects on the channel and a caller-supplied done channel (callers
// pass ctx.Done()) so every blocked waiter can be released during
// teardown (spec.md §5).
type ReadyEvent struct {
	ch chan struct{}
}

// NewReadyEvent returns an unsignaled event.
func NewReadyEvent() *ReadyEvent {
	return &ReadyEvent{ch: make(chan struct{}, 1)}
}

// Signal marks the event ready. Signaling an already-ready event is a
// no-op (auto-reset semantics: only one pending "ready" is ever queued).
func (e *ReadyEvent) Signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the event is signaled or done is closed, consuming
// the signal (auto-reset). It returns false if done fired first.
func (e *ReadyEvent) Wait(done <-chan struct{}) bool {
	select {
	case <-e.ch:
		return true
	case <-done:
		return false
	}
}

// LagCounter accumulates the per-region, per-camera queue-size readings
// reported by the board at each wait-completion (spec.md §3, §4.3 step
// 2: "if a lag is reported, add it to lag_counter").
type LagCounter struct {
	mu    sync.Mutex
	value int
}

func (l *LagCounter) Add(n int) {
	if n == 0 {
		return
	}
	l.mu.Lock()
	l.value += n
	l.mu.Unlock()
}

// Reset returns the accumulated value and zeros it, matching
// threadsforwriting.h's "send message ... then BuffQszX0 = BuffQszX1 = 0".
func (l *LagCounter) Reset() int {
	l.mu.Lock()
	v := l.value
	l.value = 0
	l.mu.Unlock()
	return v
}
