package accum

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ncar-hao/kcor-socketcam/internal/board"
	"github.com/ncar-hao/kcor-socketcam/internal/logging"
	"github.com/ncar-hao/kcor-socketcam/internal/lut"
)

// RegionID names the two alternating regions an acquisition worker
// cycles between, per spec.md §4.3's "local x_or_y ∈ {X, Y} alternating
// variable, initially X".
type RegionID int

const (
	RegionX RegionID = iota
	RegionY
)

// unexported aliases kept for readability at call sites within this file.
const (
	regionX = RegionX
	regionY = RegionY
)

type xy = RegionID

// Flags carries the two process-wide cooperative signals spec.md §5
// lists: the global keep_running flag (cleared at shutdown) and the
// mode-specific keep_running_cam flag (cleared by a gentle-stop or a
// plain stop of the averaging mode). RunStream consults ShouldStop
// between frames; RunAveraging consults it between accumulation cycles
// and checks only IsCleanup between frames. Neither is observed while
// blocked in wait_done (spec.md §3).
type Flags struct {
	cleanup atomic.Bool
	stop    atomic.Bool
}

func (f *Flags) SetCleanup()     { f.cleanup.Store(true) }
func (f *Flags) SetStop()        { f.stop.Store(true) }
func (f *Flags) ClearStop()      { f.stop.Store(false) }
func (f *Flags) IsCleanup() bool { return f.cleanup.Load() }
func (f *Flags) ShouldStop() bool {
	return f.cleanup.Load() || f.stop.Load()
}

// Engine owns the two double-buffered accumulation regions, the four
// readiness events, the per-region lag counters, and the board/LUT
// references the acquisition workers need (spec.md §3, §4.3, §5). One
// Engine exists per running mode session; control.Machine constructs a
// fresh one each time averaging or streaming is (re)armed.
type Engine struct {
	RegionX *Region
	RegionY *Region

	// events[xy][cam] — four auto-reset readiness events, one per
	// (region, camera), per spec.md §5.
	events [2][2]*ReadyEvent
	lag    [2][2]*LagCounter

	Boards [2]board.Board
	LUTs   *lut.Set

	Flags *Flags

	numIntegrations atomic.Int64

	Logger *logging.Logger

	// Teardown is invoked exactly once, by Cam0's worker only, after its
	// outer averaging loop exits (spec.md §4.3's Cam0-elected teardown).
	// It is expected to stop/close both boards as needed and re-arm the
	// control plane; Cam1's worker never calls it.
	Teardown func(eng *Engine)
}

// NewEngine builds an Engine around fresh, zeroed regions.
func NewEngine(boards [2]board.Board, luts *lut.Set, numIntegrations int, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	e := &Engine{
		RegionX: NewRegion(),
		RegionY: NewRegion(),
		Boards:  boards,
		LUTs:    luts,
		Flags:   &Flags{},
		Logger:  logger,
	}
	for x := 0; x < 2; x++ {
		for c := 0; c < 2; c++ {
			e.events[x][c] = NewReadyEvent()
			e.lag[x][c] = &LagCounter{}
		}
	}
	e.numIntegrations.Store(int64(numIntegrations))
	return e
}

// SetNumIntegrations updates the visible num_integrations value.
// Per spec.md §3, an in-flight cycle captured its own snapshot at cycle
// start and is unaffected; only the next cycle observes the new value.
func (e *Engine) SetNumIntegrations(n int) {
	e.numIntegrations.Store(int64(n))
}

// Event returns the readiness event for (region, cam), used by
// persistence workers to wait on a pair.
func (e *Engine) Event(region xy, cam int) *ReadyEvent { return e.events[region][cam] }

// EventX0, EventX1, EventY0, EventY1 name the four events the way
// spec.md's concurrency section does, for callers outside this package.
func (e *Engine) EventX0() *ReadyEvent { return e.events[regionX][0] }
func (e *Engine) EventX1() *ReadyEvent { return e.events[regionX][1] }
func (e *Engine) EventY0() *ReadyEvent { return e.events[regionY][0] }
func (e *Engine) EventY1() *ReadyEvent { return e.events[regionY][1] }

// LagFor returns the per-(region, camera) lag counter the acquisition
// worker adds to and the persistence worker drains via Reset.
func (e *Engine) LagFor(region xy, cam int) *LagCounter { return e.lag[region][cam] }

func regionFor(e *Engine, x xy) *Region {
	if x == regionX {
		return e.RegionX
	}
	return e.RegionY
}

// RunAveraging is the acquisition worker of spec.md §4.3, parameterized
// by camera index cam. It must be launched once per camera against a
// shared Engine; the two goroutines race harmlessly on region access
// because each only ever touches its own camera half (spec.md §5:
// "Cam0 and Cam1 halves of a region are independent").
func (e *Engine) RunAveraging(ctx context.Context, cam int) {
	side := regionX
	b := e.Boards[cam]

	for !e.Flags.IsCleanup() && !e.Flags.ShouldStop() {
		region := regionFor(e, side)
		ev := e.events[side][cam]
		lagCounter := e.lag[side][cam]

		if cam == 0 {
			region.Timestamp = time.Now().UTC()
		}

		limit := int(e.numIntegrations.Load())
		if limit <= 0 {
			limit = 1
		}

		offset := CameraOffset(cam)
		aborted := false

		// Each integration captures one sub-frame per quad state (spec.md
		// §4.3 step 3: "Repeat iiN_limit x 4 times"), landing sub-frame q
		// in its own PixelsPerFrame-wide temporal block of this camera's
		// half; the same four LUTs cycle spatially within every block, per
		// original_source's GetImgAndApplyLut0.h (pAvg resets to the start
		// of the half once per integration, then walks all four blocks in
		// turn as the four quad sub-frames arrive).
		for i := 0; i < limit; i++ {
			for q := 0; q < numQuads; q++ {
				h, err := b.WaitDone(ctx)
				if err != nil {
					// spec.md §7: zero this worker's half of the region
					// and abandon the cycle; no data is emitted for it.
					zeroCameraHalf(region, offset)
					e.Logger.Warnf("accum: cam%d wait_done: %v", cam, err)
					aborted = true
					break
				}

				if n := b.QueueSize(); n > 0 {
					lagCounter.Add(n)
				}

				if e.Flags.IsCleanup() {
					h.Release() //nolint:errcheck
					return
				}

				block := offset + q*PixelsPerFrame
				accumulateFrame(region.Data[block:block+PixelsPerFrame], h.Pixels, e.LUTs, cam)
				if relErr := h.Release(); relErr != nil {
					e.Logger.Warnf("accum: cam%d release: %v", cam, relErr)
				}
			}
			if aborted {
				break
			}
		}

		if !aborted {
			ev.Signal()
		}

		if side == regionX {
			side = regionY
		} else {
			side = regionX
		}
	}

	if cam == 0 && e.Teardown != nil {
		e.Teardown(e)
	}
}

// accumulateFrame applies spec.md §4.3 step 3's spatial LUT cycling to a
// single captured sub-frame: accum[4j+q] += lut[cam][q][raw[4j+q]] for j
// over pixels/4 groups. accum must already be sliced to the one
// PixelsPerFrame-wide temporal block this sub-frame belongs to.
func accumulateFrame(accum []uint32, raw []uint16, luts *lut.Set, cam int) {
	groups := len(raw) / numQuads
	for j := 0; j < groups; j++ {
		base := j * numQuads
		for q := 0; q < numQuads; q++ {
			accum[base+q] += luts.Apply(cam, q, raw[base+q])
		}
	}
}

func zeroCameraHalf(r *Region, offset int) {
	for i := offset; i < offset+EntriesPerCamera; i++ {
		r.Data[i] = 0
	}
}

// RunStream is the stream-mode acquisition worker of spec.md §4.4:
// structurally identical to RunAveraging but without accumulation.
// Frames are not persisted here; persistence happens from the board's
// own ring at stop (see internal/persist).
func (e *Engine) RunStream(ctx context.Context, cam int) {
	b := e.Boards[cam]
	for !e.Flags.IsCleanup() && !e.Flags.ShouldStop() {
		h, err := b.WaitDone(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || e.Flags.IsCleanup() {
				return
			}
			e.Logger.Warnf("accum: stream cam%d wait_done: %v", cam, err)
			continue
		}
		if n := b.QueueSize(); n > 0 {
			e.lag[regionX][cam].Add(n)
		}
		if e.Flags.IsCleanup() {
			h.Release() //nolint:errcheck
			return
		}
		if relErr := h.Release(); relErr != nil {
			e.Logger.Warnf("accum: stream cam%d release: %v", cam, relErr)
		}
	}
}
