// Package persist implements the per-region persistence worker of
// spec.md §4.5: narrow (or pass through) an accumulation region, write
// it to the dated output tree, zero the region, and report lag.
package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ncar-hao/kcor-socketcam/internal/accum"
	"github.com/ncar-hao/kcor-socketcam/internal/logging"
)

// Format selects the payload width of the written cube (spec.md §4.5
// step 3 / §9's "compile-time selection in the source becomes a runtime
// or build-time configuration in the rewrite").
type Format int

const (
	// Width16 narrows each 32-bit accumulator per the law in spec.md §8:
	// out16[i] = int16((accum32[i] >> 16) - 0x8000).
	Width16 Format = iota
	// Width32 writes the unsigned 32-bit accumulator verbatim.
	Width32
)

// headerBlockBytes and headerBlocks give the zero-filled FITS-reserved
// prefix of spec.md §4.5 step 5 / §6: two 2880-byte blocks.
const (
	headerBlockBytes = 2880
	headerBlocks     = 2
)

// Sender is the narrow outbound-message capability a Writer needs; it is
// satisfied by internal/socketserv's client connection without either
// package importing the other.
type Sender interface {
	Send(msg string) error
}

// Writer is the persistence worker for one accumulation region (spec.md
// §4.5). Construct one per region (X and Y).
type Writer struct {
	Label  string // "X" or "Y", used in lag-report messages
	Region *accum.Region

	EventCam0 *accum.ReadyEvent
	EventCam1 *accum.ReadyEvent
	LagCam0   *accum.LagCounter
	LagCam1   *accum.LagCounter

	DataRoot string
	Format   Format
	Sender   Sender
	Logger   *logging.Logger

	// lastFilename names the file written by writeCube during the
	// current cycle, so the lag report (step 7) can reference it.
	lastFilename string
}

// Run loops until ctx is canceled (the global run-flag escape of
// spec.md §5), writing one cube per completed accumulation cycle.
func (w *Writer) Run(ctx context.Context) {
	logger := w.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	done := ctx.Done()

	for {
		if !w.EventCam0.Wait(done) {
			return
		}
		if !w.EventCam1.Wait(done) {
			return
		}
		select {
		case <-done:
			return
		default:
		}

		if err := w.writeCube(); err != nil {
			logger.Errorf("persist: region %s: %v", w.Label, err)
		}

		w.Region.Zero()

		n0 := w.LagCam0.Reset()
		n1 := w.LagCam1.Reset()
		if w.Sender != nil {
			msg := fmt.Sprintf("img %s lagged%s %d %d", w.lastFilename, w.Label, n0, n1)
			if err := w.Sender.Send(msg); err != nil {
				logger.Warnf("persist: lag report send failed: %v", err)
			}
		}
	}
}

func (w *Writer) writeCube() error {
	// Cleared up front so a failure below is never mistaken for this
	// cycle's file in the lag report that follows (step 7) -- it would
	// otherwise still read the previous cycle's name.
	w.lastFilename = ""

	ts := w.Region.Timestamp
	dir := filepath.Join(w.DataRoot, ts.Format("20060102"), "avg")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	name := ts.Format("20060102_150405") + "_kcor.bin"
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	var zero [headerBlockBytes]byte
	for i := 0; i < headerBlocks; i++ {
		if _, err := f.Write(zero[:]); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	payload, err := encodePayload(w.Region.Data, w.Format)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	w.lastFilename = name
	return nil
}
