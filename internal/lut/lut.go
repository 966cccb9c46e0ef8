// Package lut implements the pixel lookup-table set described in
// spec.md §4.2: eight immutable 4096-entry 32-bit tables, indexed
// lut[camera][quad], loaded once at startup.
package lut

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Size is the number of entries in each table (spec.md §4.2).
const Size = 4096

// NumCameras and NumQuads give the lut[camera][quad] indexing scheme of
// spec.md §2/§3.
const (
	NumCameras = 2
	NumQuads   = 4
)

// Table is one immutable 4096-entry 32-bit lookup table.
type Table [Size]uint32

// Set holds all eight tables, indexed Set[camera][quad].
type Set [NumCameras][NumQuads]Table

// NewSet returns a Set with every entry defaulted to 1, the "all ones"
// fallback spec.md §4.2/§7 requires when a LUT file is missing or short.
func NewSet() *Set {
	var s Set
	for c := 0; c < NumCameras; c++ {
		for q := 0; q < NumQuads; q++ {
			for i := range s[c][q] {
				s[c][q][i] = 1
			}
		}
	}
	return &s
}

// Apply returns lut[cam][quad][raw].
func (s *Set) Apply(cam, quad int, raw uint16) uint32 {
	return s[cam][quad][raw]
}

// Warning is a non-fatal condition surfaced while loading a LUT file;
// the caller (normally internal/logging) logs it and the load continues
// with the previous/default table contents in place (spec.md §4.2/§7).
type Warning struct {
	Index int
	Path  string
	Err   error
}

func (w Warning) Error() string {
	return fmt.Sprintf("lut[%d] %q: %v", w.Index, w.Path, w.Err)
}

// LoadINI implements spec.md §4.2's configuration grammar: scan a
// whitespace-tokenized file for the literal token "LUT_Names", then read
// the eight lines immediately following it as LUT file paths, assigned
// lut[cam][quad] = paths[cam*4+quad] (spec.md §6). Each path is expected
// to hold exactly Size*4 bytes (one little-endian uint32 per entry,
// matching LUT_TYPE in the original source generalized to 32 bits here);
// a missing or short file produces a Warning and leaves that table's
// current contents (the NewSet default, or whatever was loaded before)
// untouched. No further validation is performed, per spec.md §4.2.
//
// This hand-scans the file rather than using a general-purpose INI
// library: the grammar ("find a bare token, then read N literal lines")
// has no key=value/[section] structure for a generic INI parser to
// exploit, so a bufio.Scanner tokenizer is both simpler and a closer
// match to the original's own readConfig.h logic.
func LoadINI(path string, s *Set) ([]Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lut: open config %s: %w", path, err)
	}
	defer f.Close()

	paths, err := scanLutNames(f)
	if err != nil {
		return nil, err
	}

	var warnings []Warning
	for i := 0; i < NumCameras*NumQuads && i < len(paths); i++ {
		cam, quad := i/NumQuads, i%NumQuads
		if err := loadTable(paths[i], &s[cam][quad]); err != nil {
			warnings = append(warnings, Warning{Index: i, Path: paths[i], Err: err})
		}
	}
	return warnings, nil
}

// scanLutNames reads whitespace-delimited tokens until it finds the
// literal "LUT_Names", then returns the next eight whitespace-delimited
// tokens as file paths (spec.md §4.2/§6); with one path per line these
// are the eight following lines.
func scanLutNames(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)

	found := false
	for scanner.Scan() {
		if scanner.Text() == "LUT_Names" {
			found = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("lut: scanning for LUT_Names: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("lut: LUT_Names token not found")
	}

	var names []string
	for scanner.Scan() && len(names) < NumCameras*NumQuads {
		names = append(names, scanner.Text())
	}
	return names, nil
}

// loadTable reads exactly Size little-endian uint32 entries from path
// into t. A missing file or a short read is returned as an error and the
// caller leaves t's previous contents in place (spec.md §7).
func loadTable(path string, t *Table) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var buf [Size * 4]byte
	n, err := io.ReadFull(f, buf[:])
	if err != nil {
		return fmt.Errorf("reading %s: got %d of %d bytes: %w", path, n, len(buf), err)
	}
	for i := 0; i < Size; i++ {
		t[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return nil
}
