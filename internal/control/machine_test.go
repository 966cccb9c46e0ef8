package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncar-hao/kcor-socketcam/internal/board"
	"github.com/ncar-hao/kcor-socketcam/internal/lut"
	"github.com/ncar-hao/kcor-socketcam/internal/persist"
)

type fakeSender struct{ messages []string }

func (s *fakeSender) Send(msg string) error {
	s.messages = append(s.messages, msg)
	return nil
}

func newTestMachine(t *testing.T, dir string) (*Machine, *fakeSender) {
	t.Helper()
	boards := [2]board.Board{board.NewSimulated(0), board.NewSimulated(1)}
	luts := lut.NewSet()
	sender := &fakeSender{}
	return NewMachine(boards, luts, dir, persist.Width16, sender, nil), sender
}

func TestMachine_ProgramChangeToAveragingRunning(t *testing.T) {
	m, sender := newTestMachine(t, t.TempDir())

	err := m.Dispatch(ParseCommand("avging start 4 0 0"))
	require.NoError(t, err)

	st := m.Current()
	assert.Equal(t, ProgramAveraging, st.Program)
	assert.Equal(t, StatusRunning, st.Status)
	require.Len(t, sender.messages, 1)
	assert.Equal(t, "cam ready avging", sender.messages[0])

	m.Shutdown()
	assert.Equal(t, Initial, m.Current())
}

func TestMachine_IdempotentRepeatedAvgingStart(t *testing.T) {
	m, sender := newTestMachine(t, t.TempDir())

	require.NoError(t, m.Dispatch(ParseCommand("avging start 4 0 0")))
	require.NoError(t, m.Dispatch(ParseCommand("avging start 4 0 0")))

	// same (program, status) both times: the second call is a no-op, so
	// only the first transition emits "cam ready avging".
	require.Len(t, sender.messages, 1)

	m.Shutdown()
}

func TestMachine_ModeSwitchFromAveragingToStream(t *testing.T) {
	m, sender := newTestMachine(t, t.TempDir())

	require.NoError(t, m.Dispatch(ParseCommand("avging start 4 0 0")))
	require.NoError(t, m.Dispatch(ParseCommand("stream start")))

	st := m.Current()
	assert.Equal(t, ProgramStream, st.Program)
	assert.Equal(t, StatusRunning, st.Status)
	require.Len(t, sender.messages, 2)
	assert.Equal(t, "cam ready stream", sender.messages[1])

	m.Shutdown()
}

func TestMachine_GentleStopQuiescesWithoutHardStoppingAveraging(t *testing.T) {
	m, _ := newTestMachine(t, t.TempDir())

	require.NoError(t, m.Dispatch(ParseCommand("avging start 4 0 0")))
	require.NoError(t, m.Dispatch(ParseCommand("avging gent")))

	st := m.Current()
	assert.Equal(t, ProgramAveraging, st.Program)
	assert.Equal(t, StatusStopped, st.Status)

	m.Shutdown()
}

func TestMachine_UnrecognizedCommandIsNoChange(t *testing.T) {
	m, sender := newTestMachine(t, t.TempDir())
	before := m.Current()

	require.NoError(t, m.Dispatch(ParseCommand("bogus")))

	assert.Equal(t, before, m.Current())
	assert.Empty(t, sender.messages)
}

func TestMachine_ShutdownReleasesWorkersWithinGracePeriod(t *testing.T) {
	m, _ := newTestMachine(t, t.TempDir())
	require.NoError(t, m.Dispatch(ParseCommand("avging start 4 0 0")))

	start := time.Now()
	m.Shutdown()
	assert.Less(t, time.Since(start), 3*time.Second)
}
