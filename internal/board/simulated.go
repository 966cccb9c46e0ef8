package board

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// bytesPerPixel is the raw sample width (spec.md §1: "1024x1024 16-bit
// frames").
const bytesPerPixel = 2

// slot is one pinned capture buffer. Real frame-grabber boards hand back
// pointers into driver-pinned DMA memory (spec.md §3's FrameHandle
// "pointer to 1024x1024 16-bit pixels"); Simulated reproduces that shape
// with an anonymous mmap region per slot instead of a plain Go slice, the
// same pinned-buffer idiom go4vl uses for real V4L2 buffers in
// MapMemoryBuffers/UnmapMemoryBuffers.
type slot struct {
	raw    []byte
	pixels []uint16
}

func newSlot() (*slot, error) {
	raw, err := unix.Mmap(-1, 0, FramePixels*bytesPerPixel,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("board: mmap capture buffer: %w", err)
	}
	return &slot{
		raw:    raw,
		pixels: unsafe.Slice((*uint16)(unsafe.Pointer(&raw[0])), FramePixels),
	}, nil
}

func (s *slot) unmap() error {
	if s.raw == nil {
		return nil
	}
	err := unix.Munmap(s.raw)
	s.raw = nil
	s.pixels = nil
	return err
}

// Simulated is the software stand-in for a vendor frame-grabber board
// (spec.md §1: the vendor SDK is out of scope). It implements the same
// ring-buffer/wait/release contract as Board, backed by real mmap'd
// memory per slot, so tests and non-hardware deployments exercise the
// identical acquisition-worker code path as a real board would.
type Simulated struct {
	idx int

	mu       sync.Mutex
	state    RunState
	slots    []*slot
	freeList chan int
	queued   chan int

	captured atomic.Uint64
	missed   atomic.Uint64

	// history holds a verbatim byte copy of each recently captured raw
	// frame, most-recent last, used by stream mode's stop-time ring
	// flush (spec.md §4.4/§6: "up to min(captured, ring_depth)
	// most-recent frames per board"). pool backs those copies.
	history [][]byte
	pool    *RawFramePool

	errCh chan error
	done  chan struct{}
}

// SimulatedOption configures a Simulated board at construction time.
// Modeled on go4vl's device functional-options pattern (WithIOType,
// WithBufferSize, ...), narrowed to the handful of knobs a software
// stand-in board actually needs.
type SimulatedOption func(*Simulated)

// WithHistoryPoolCapacity overrides the default per-buffer capacity of
// the ring-history byte pool (bytesPerPixel*FramePixels). Every history
// copy is a full sensor frame (Feed zero-pads shorter input), so with a
// smaller capacity Get allocates a full-frame buffer whenever a pooled
// buffer is too small.
func WithHistoryPoolCapacity(bytes int) SimulatedOption {
	return func(b *Simulated) {
		b.pool = NewRawFramePool(bytes)
	}
}

// NewSimulated constructs a board bound to index idx (0 for Cam0, 1 for
// Cam1). It is returned already in StateClosed; callers must call
// SetBuffers before Start.
func NewSimulated(idx int, opts ...SimulatedOption) *Simulated {
	b := &Simulated{
		idx:   idx,
		state: StateClosed,
		errCh: make(chan error, 16),
		done:  make(chan struct{}),
		pool:  NewRawFramePool(FramePixels * bytesPerPixel),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Simulated) Index() int { return b.idx }

// SetBuffers allocates the ring (spec.md §4.1). Calling it while a ring
// is already allocated first tears down the previous one.
func (b *Simulated) SetBuffers(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.freeLocked(); err != nil {
		return err
	}

	slots := make([]*slot, n)
	for i := range slots {
		s, err := newSlot()
		if err != nil {
			for j := 0; j < i; j++ {
				slots[j].unmap() //nolint:errcheck
			}
			return newFault("set_buffers", b.idx, HardwareUnavailable, err)
		}
		slots[i] = s
	}
	b.slots = slots
	b.freeList = make(chan int, n)
	b.queued = make(chan int, n)
	for i := range slots {
		b.freeList <- i
	}
	for _, buf := range b.history {
		b.pool.Put(buf)
	}
	b.history = make([][]byte, 0, n)
	b.state = StateOpened
	return nil
}

func (b *Simulated) freeLocked() error {
	for _, s := range b.slots {
		if err := s.unmap(); err != nil {
			return err
		}
	}
	b.slots = nil
	return nil
}

func (b *Simulated) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateCleanup {
		return newFault("start", b.idx, InternalWaitFailed, nil)
	}
	b.state = StateRunning
	return nil
}

func (b *Simulated) Stop() error {
	b.mu.Lock()
	b.state = StateStopping
	b.mu.Unlock()
	return nil
}

func (b *Simulated) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StatePaused
	return nil
}

func (b *Simulated) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateRunning
	return nil
}

func (b *Simulated) Abort() error {
	b.mu.Lock()
	b.state = StateAborting
	b.mu.Unlock()
	return nil
}

// Feed simulates the hardware completing one frame: it copies data into
// the next free slot and marks it ready for WaitDone. If no slot is
// free, the frame is dropped and counted as missed (spec.md §4.1
// capture_counters).
func (b *Simulated) Feed(data []uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateCleanup {
		return newFault("feed", b.idx, Stopped, nil)
	}

	select {
	case i := <-b.freeList:
		n := copy(b.slots[i].pixels, data)
		if n < len(b.slots[i].pixels) {
			for j := n; j < len(b.slots[i].pixels); j++ {
				b.slots[i].pixels[j] = 0
			}
		}
		b.captured.Add(1)
		b.recordHistoryLocked(b.slots[i].pixels)
		b.queued <- i
		return nil
	default:
		b.missed.Add(1)
		return newFault("feed", b.idx, QueueEmpty, nil)
	}
}

// WaitDone blocks for the next completed frame per spec.md §4.1.
func (b *Simulated) WaitDone(ctx context.Context) (*FrameHandle, error) {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()

	switch state {
	case StateAborting:
		return nil, newFault("wait_done", b.idx, Aborted, nil)
	case StateStopping:
		select {
		case i := <-b.queued:
			return b.handleFor(i), nil
		default:
			return nil, newFault("wait_done", b.idx, Stopped, nil)
		}
	case StateCleanup:
		return nil, newFault("wait_done", b.idx, Stopped, nil)
	}

	select {
	case i := <-b.queued:
		return b.handleFor(i), nil
	case <-ctx.Done():
		return nil, newFault("wait_done", b.idx, InternalWaitFailed, ctx.Err())
	case <-b.done:
		return nil, newFault("wait_done", b.idx, Stopped, nil)
	}
}

func (b *Simulated) handleFor(i int) *FrameHandle {
	idx := i
	return &FrameHandle{
		Pixels:   b.slots[idx].pixels,
		Sequence: b.captured.Load(),
		release: func(*FrameHandle) error {
			b.freeList <- idx
			return nil
		},
	}
}

// recordHistoryLocked must be called with b.mu held. It appends a
// verbatim byte copy of pixels to the ring history, evicting the oldest
// entry once history is full (spec.md §4.4's "most-recent frames").
func (b *Simulated) recordHistoryLocked(pixels []uint16) {
	if cap(b.history) == 0 {
		return
	}
	buf := b.pool.Get(len(pixels) * 2)
	for i, v := range pixels {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	if len(b.history) == cap(b.history) {
		b.pool.Put(b.history[0])
		b.history = append(b.history[1:], buf)
	} else {
		b.history = append(b.history, buf)
	}
}

// DumpRing returns a snapshot of the most-recently captured raw frames,
// most-recent last, for stream mode's stop-time ring flush (spec.md
// §4.4/§6). The returned slices are copies; callers may retain them
// after further Feed calls.
func (b *Simulated) DumpRing() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.history))
	for i, buf := range b.history {
		cpy := make([]byte, len(buf))
		copy(cpy, buf)
		out[i] = cpy
	}
	return out
}

// QueueSize reports how many completed frames are still waiting behind
// the one most recently returned by WaitDone (spec.md §4.1/§8.3 lag
// signal).
func (b *Simulated) QueueSize() int {
	return len(b.queued)
}

func (b *Simulated) CaptureCounters() CaptureCounters {
	return CaptureCounters{Captured: b.captured.Load(), Missed: b.missed.Load()}
}

// InjectError simulates an asynchronous board error surfaced to the
// error-drain thread (spec.md §4.1, threadsforerrors.h).
func (b *Simulated) InjectError(err error) {
	select {
	case b.errCh <- err:
	default:
	}
}

func (b *Simulated) WaitError(ctx context.Context) error {
	select {
	case err := <-b.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

// Close releases all buffers and marks the board unusable (spec.md §3).
func (b *Simulated) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	b.state = StateCleanup
	return b.freeLocked()
}
