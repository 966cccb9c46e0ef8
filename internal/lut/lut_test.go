package lut

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, dir, name string, n int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	buf := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(i))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestNewSet_DefaultsToAllOnes(t *testing.T) {
	s := NewSet()
	assert.Equal(t, uint32(1), s.Apply(0, 0, 0))
	assert.Equal(t, uint32(1), s.Apply(1, 3, 4095))
}

func TestLoadINI_AssignsEightTablesInOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 8; i++ {
		paths = append(paths, writeTable(t, dir, filepathName(i), Size))
	}

	cfgPath := filepath.Join(dir, "kcoConfig.ini")
	content := "SomeHeader 1\nLUT_Names\n"
	for _, p := range paths {
		content += p + "\n"
	}
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	s := NewSet()
	warnings, err := LoadINI(cfgPath, s)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, uint32(0), s.Apply(0, 0, 0))
	assert.Equal(t, uint32(4095), s.Apply(1, 3, 4095))
}

func TestLoadINI_ShortFileWarnsAndKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 8; i++ {
		if i == 5 {
			short := filepath.Join(dir, filepathName(i))
			require.NoError(t, os.WriteFile(short, make([]byte, 1024), 0o644))
			paths = append(paths, short)
			continue
		}
		paths = append(paths, writeTable(t, dir, filepathName(i), Size))
	}
	cfgPath := filepath.Join(dir, "kcoConfig.ini")
	content := "LUT_Names\n"
	for _, p := range paths {
		content += p + "\n"
	}
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	s := NewSet()
	warnings, err := LoadINI(cfgPath, s)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, 5, warnings[0].Index)

	// affected table (cam1, quad1) retains the all-ones default.
	assert.Equal(t, uint32(1), s.Apply(1, 1, 0))
}

func filepathName(i int) string {
	return "lut" + string(rune('0'+i)) + ".bin"
}
