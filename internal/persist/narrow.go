package persist

import (
	"encoding/binary"
	"fmt"
)

// encodePayload renders an accumulation region's raw uint32 entries into
// the on-disk byte payload, per spec.md §4.5 step 3 / §8 invariant 5.
func encodePayload(data []uint32, format Format) ([]byte, error) {
	switch format {
	case Width16:
		return narrow16(data), nil
	case Width32:
		return raw32(data), nil
	default:
		return nil, fmt.Errorf("persist: unknown output format %d", format)
	}
}

// narrow16 applies out16[i] = int16((accum32[i] >> 16) - 0x8000) to every
// entry (spec.md §8 invariant 5): the shift discards the low 16 bits,
// the subtraction re-centers the unsigned result to a signed 16-bit
// range without saturation.
func narrow16(data []uint32) []byte {
	buf := make([]byte, len(data)*2)
	for i, v := range data {
		narrowed := int16(int32(v>>16) - 0x8000)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(narrowed))
	}
	return buf
}

// raw32 writes the accumulator verbatim, little-endian, unsigned.
func raw32(data []uint32) []byte {
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}
