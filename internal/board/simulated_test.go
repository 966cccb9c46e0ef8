package board

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedN(t *testing.T, b *Simulated, n int) {
	t.Helper()
	frame := make([]uint16, FramePixels)
	for i := 0; i < n; i++ {
		require.NoError(t, b.Feed(frame))
	}
}

func TestSimulated_FeedWaitDoneRelease(t *testing.T) {
	b := NewSimulated(0)
	require.NoError(t, b.SetBuffers(4))
	require.NoError(t, b.Start())
	feedN(t, b, 1)

	ctx := context.Background()
	h, err := b.WaitDone(ctx)
	require.NoError(t, err)
	assert.Len(t, h.Pixels, FramePixels)

	require.NoError(t, h.Release())
	require.NoError(t, h.Release()) // idempotent, per spec.md §8 invariant 3
}

func TestSimulated_FeedDropsWhenRingFull(t *testing.T) {
	b := NewSimulated(1)
	require.NoError(t, b.SetBuffers(2))
	require.NoError(t, b.Start())

	frame := make([]uint16, FramePixels)
	require.NoError(t, b.Feed(frame))
	require.NoError(t, b.Feed(frame))
	err := b.Feed(frame)
	assert.Error(t, err)

	counters := b.CaptureCounters()
	assert.Equal(t, uint64(2), counters.Captured)
	assert.Equal(t, uint64(1), counters.Missed)
}

func TestSimulated_AbortFailsWaitImmediately(t *testing.T) {
	b := NewSimulated(0)
	require.NoError(t, b.SetBuffers(2))
	require.NoError(t, b.Start())
	require.NoError(t, b.Abort())

	_, err := b.WaitDone(context.Background())
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, Aborted, fault.Code)
}

func TestSimulated_StopDrainsThenEmptyQueueReturnsStoppedFault(t *testing.T) {
	b := NewSimulated(0)
	require.NoError(t, b.SetBuffers(4))
	require.NoError(t, b.Start())
	feedN(t, b, 2)
	require.NoError(t, b.Stop())

	h1, err := b.WaitDone(context.Background())
	require.NoError(t, err)
	require.NoError(t, h1.Release())

	h2, err := b.WaitDone(context.Background())
	require.NoError(t, err)
	require.NoError(t, h2.Release())

	_, err = b.WaitDone(context.Background())
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, Stopped, fault.Code)
}

func TestSimulated_WaitDoneRespectsContextCancellation(t *testing.T) {
	b := NewSimulated(0)
	require.NoError(t, b.SetBuffers(2))
	require.NoError(t, b.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.WaitDone(ctx)
	require.Error(t, err)
}

func TestSimulated_DumpRingReturnsMostRecentFramesVerbatim(t *testing.T) {
	b := NewSimulated(0)
	require.NoError(t, b.SetBuffers(2))
	require.NoError(t, b.Start())

	frame := make([]uint16, FramePixels)
	frame[0], frame[1], frame[2], frame[3] = 1, 2, 3, 4
	require.NoError(t, b.Feed(frame))
	h, err := b.WaitDone(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Release())

	ring := b.DumpRing()
	require.Len(t, ring, 1)
	require.Len(t, ring[0], FramePixels*2)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0, 4, 0}, ring[0][:8])
}

func TestSimulated_InjectAndWaitError(t *testing.T) {
	b := NewSimulated(0)
	require.NoError(t, b.SetBuffers(1))

	sentinel := errFixture{"board fault"}
	b.InjectError(sentinel)

	err := b.WaitError(context.Background())
	assert.Equal(t, sentinel, err)
}

type errFixture struct{ msg string }

func (e errFixture) Error() string { return e.msg }
