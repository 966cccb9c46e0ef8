package accum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncar-hao/kcor-socketcam/internal/board"
	"github.com/ncar-hao/kcor-socketcam/internal/lut"
)

// scenario 1 of spec.md §8: cold start, one averaging cycle, LUT
// lut[c][q][v] = v+1, raw[i] = i mod 4096, iiN_limit = 4.
func TestRunAveraging_ColdStartOneCycle(t *testing.T) {
	luts := lut.NewSet()
	for c := 0; c < lut.NumCameras; c++ {
		for q := 0; q < lut.NumQuads; q++ {
			for v := 0; v < lut.Size; v++ {
				luts[c][q][v] = uint32(v) + 1
			}
		}
	}

	b0 := board.NewSimulated(0)
	b1 := board.NewSimulated(1)
	require.NoError(t, b0.SetBuffers(board.AveragingRingDepth))
	require.NoError(t, b1.SetBuffers(board.AveragingRingDepth))
	require.NoError(t, b0.Start())
	require.NoError(t, b1.Start())

	raw := make([]uint16, board.FramePixels)
	for i := range raw {
		raw[i] = uint16(i % lut.Size)
	}

	const iiN = 4
	// One sub-frame per quad state, per integration (spec.md §4.3 step
	// 3's "Repeat iiN_limit x 4 times"): 16 frames per board for iiN=4,
	// matching scenario 1's "Feed 4x4=16 synthetic frames per board".
	const subFrames = iiN * numQuads
	for i := 0; i < subFrames; i++ {
		require.NoError(t, b0.Feed(raw))
		require.NoError(t, b1.Feed(raw))
	}

	eng := NewEngine([2]board.Board{b0, b1}, luts, iiN, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done0 := make(chan struct{})
	done1 := make(chan struct{})
	go func() { eng.RunAveraging(ctx, 0); close(done0) }()
	go func() { eng.RunAveraging(ctx, 1); close(done1) }()

	require.True(t, eng.EventX0().Wait(ctx.Done()))
	require.True(t, eng.EventX1().Wait(ctx.Done()))

	eng.Flags.SetCleanup()
	<-done0
	<-done1

	// Every one of the four temporal blocks must be fully populated, not
	// just the first -- each block received its own iiN sub-frames.
	offset0 := CameraOffset(0)
	groups := board.FramePixels / numQuads
	for blk := 0; blk < numQuads; blk++ {
		base := offset0 + blk*board.FramePixels
		for j := 0; j < groups; j++ {
			for q := 0; q < numQuads; q++ {
				pos := j*numQuads + q
				want := uint32(iiN) * (uint32(raw[pos]) + 1)
				got := eng.RegionX.Data[base+pos]
				require.Equalf(t, want, got, "block=%d j=%d q=%d", blk, j, q)
			}
		}
	}
}

func TestAccumulateFrame_SpatialQuadCycling(t *testing.T) {
	luts := lut.NewSet()
	for q := 0; q < lut.NumQuads; q++ {
		for v := 0; v < lut.Size; v++ {
			luts[0][q][v] = uint32(q) * 1000
		}
	}
	accum := make([]uint32, numQuads)
	raw := []uint16{0, 0, 0, 0}
	accumulateFrame(accum, raw, luts, 0)
	assert.Equal(t, []uint32{0, 1000, 2000, 3000}, accum)
}

func TestRunAveraging_WaitErrorZeroesHalfAndContinues(t *testing.T) {
	luts := lut.NewSet()
	b0 := board.NewSimulated(0)
	b1 := board.NewSimulated(1)
	require.NoError(t, b0.SetBuffers(4))
	require.NoError(t, b1.SetBuffers(4))
	require.NoError(t, b0.Start())
	require.NoError(t, b1.Start())

	eng := NewEngine([2]board.Board{b0, b1}, luts, 2, nil)
	eng.RegionX.Data[CameraOffset(0)] = 42

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() { eng.RunAveraging(ctx, 0); close(done) }()

	<-ctx.Done()
	eng.Flags.SetCleanup()
	<-done

	assert.Equal(t, uint32(0), eng.RegionX.Data[CameraOffset(0)])
}

func TestReadyEvent_AutoReset(t *testing.T) {
	ev := NewReadyEvent()
	ev.Signal()
	ev.Signal() // second signal before consumption is a no-op

	done := make(chan struct{})
	assert.True(t, ev.Wait(done))

	select {
	case <-ev.ch:
		t.Fatal("event should have consumed its single pending signal")
	default:
	}
}

func TestLagCounter_AddAndReset(t *testing.T) {
	var l LagCounter
	l.Add(3)
	l.Add(2)
	assert.Equal(t, 5, l.Reset())
	assert.Equal(t, 0, l.Reset())
}
