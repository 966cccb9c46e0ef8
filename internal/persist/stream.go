package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DumpStreamRing writes a board's most-recently captured raw frames
// verbatim to disk (spec.md §4.4/§6): "…/HHMMSSraw/YYYYMMDD_HHMMSS/
// cam<0|1>_NNNN.raw". frames is ordered oldest-first, as returned by
// board.Board.DumpRing.
func DumpStreamRing(dataRoot string, cam int, ts time.Time, frames [][]byte) error {
	if len(frames) == 0 {
		return nil
	}
	dir := filepath.Join(dataRoot, ts.Format("150405")+"raw", ts.Format("20060102_150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist: mkdir %s: %w", dir, err)
	}
	for i, frame := range frames {
		name := fmt.Sprintf("cam%d_%04d.raw", cam, i)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			return fmt.Errorf("persist: write %s: %w", path, err)
		}
	}
	return nil
}
