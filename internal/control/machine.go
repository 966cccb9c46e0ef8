package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ncar-hao/kcor-socketcam/internal/accum"
	"github.com/ncar-hao/kcor-socketcam/internal/board"
	"github.com/ncar-hao/kcor-socketcam/internal/config"
	"github.com/ncar-hao/kcor-socketcam/internal/logging"
	"github.com/ncar-hao/kcor-socketcam/internal/lut"
	"github.com/ncar-hao/kcor-socketcam/internal/persist"
)

// Sender is the outbound message capability the machine uses to emit
// "cam ready ..." and similar notifications (spec.md §6).
type Sender interface {
	Send(msg string) error
}

// session bundles everything a running mode needs torn down together:
// the accumulation engine (built in both modes), the WaitGroup counting
// its acquisition workers plus, in averaging mode, the two persistence
// workers, and the cancel func that releases every blocked goroutine at
// shutdown (spec.md §5's "signals all four readiness events").
type session struct {
	engine       *accum.Engine
	cancel       context.CancelFunc
	workersAll   sync.WaitGroup
	avgImageDump bool
}

// Machine is the single owner of (program, status) (spec.md §4.6). All
// transitions run under mu, matching "all state transitions are
// serialized: the command socket thread executes them to completion
// before accepting the next command."
type Machine struct {
	mu    sync.Mutex
	state State

	boards   [2]board.Board
	luts     *lut.Set
	dataRoot string
	format   persist.Format

	sender Sender
	logger *logging.Logger

	cur *session
}

// NewMachine constructs a Machine in the initial (NONE, CLOSED) state.
func NewMachine(boards [2]board.Board, luts *lut.Set, dataRoot string, format persist.Format, sender Sender, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Machine{
		state:    Initial,
		boards:   boards,
		luts:     luts,
		dataRoot: dataRoot,
		format:   format,
		sender:   sender,
		logger:   logger,
	}
}

// Current returns the current (program, status) tuple.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Dispatch applies one parsed command (spec.md §4.6). Kind must be
// CmdStream or CmdAvging; CmdQuit is handled by the caller via Shutdown,
// CmdNoChange requires no action.
func (m *Machine) Dispatch(cmd Command) error {
	if cmd.Kind == CmdNoChange {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dp := ProgramNone
	switch cmd.Kind {
	case CmdStream:
		dp = ProgramStream
	case CmdAvging:
		dp = ProgramAveraging
	}
	ds := cmd.Status

	cp, cs := m.state.Program, m.state.Status

	if dp != cp {
		return m.programChangeLocked(dp, ds, cmd)
	}
	if ds != cs {
		return m.statusChangeLocked(ds, cmd)
	}
	return nil
}

// programChangeLocked implements spec.md §4.6 rule 1.
func (m *Machine) programChangeLocked(dp Program, ds Status, cmd Command) error {
	if m.state.Program != ProgramNone {
		m.teardownSessionLocked()
	}

	switch dp {
	case ProgramStream:
		if err := m.openStreamLocked(); err != nil {
			return err
		}
		m.state = State{Program: ProgramStream, Status: StatusOpened}
		if ds == StatusRunning {
			m.startRunningLocked()
		}
		return m.sendLocked("cam ready stream")

	case ProgramAveraging:
		if err := m.openAveragingLocked(cmd); err != nil {
			return err
		}
		m.state = State{Program: ProgramAveraging, Status: StatusOpened}
		if ds == StatusRunning {
			m.startRunningLocked()
		}
		return m.sendLocked("cam ready avging")

	default: // ProgramNone: nothing beyond the shutdown already performed.
		m.state = Initial
		return nil
	}
}

// statusChangeLocked implements spec.md §4.6 rule 2.
func (m *Machine) statusChangeLocked(ds Status, cmd Command) error {
	switch ds {
	case StatusRunning:
		m.startRunningLocked()
	case StatusStopped:
		if cmd.Gentle {
			m.gentleStopLocked()
		} else {
			m.hardStopLocked()
		}
	}
	return nil
}

func (m *Machine) startRunningLocked() {
	now := time.Now().UTC()
	if m.cur != nil && m.cur.engine != nil {
		m.cur.engine.RegionX.Timestamp = now
		m.cur.engine.RegionY.Timestamp = now
	}
	for _, b := range m.boards {
		_ = b.Start()
	}
	m.state.Status = StatusRunning
}

// hardStopLocked implements the plain STOPPED transition (spec.md §4.6
// rule 2's "→ STOPPED"): stop both boards, clear the cooperative flag,
// and flush/dump the board rings per the program in effect.
func (m *Machine) hardStopLocked() {
	for _, b := range m.boards {
		_ = b.Stop()
	}
	if m.cur != nil && m.cur.engine != nil {
		m.cur.engine.Flags.SetStop()
	}

	switch m.state.Program {
	case ProgramStream:
		m.flushRingsLocked()
	case ProgramAveraging:
		if m.cur != nil && m.cur.avgImageDump {
			m.flushRingsLocked()
		}
	}

	m.state.Status = StatusStopped
}

// flushRingsLocked dumps both boards' ring buffers as raw per-frame
// files (spec.md §4.4/§6) and reports completion on the shared socket.
func (m *Machine) flushRingsLocked() {
	ts := time.Now().UTC()
	counts := [2]int{}
	for cam, b := range m.boards {
		frames := b.DumpRing()
		counts[cam] = len(frames)
		if err := persist.DumpStreamRing(m.dataRoot, cam, ts, frames); err != nil {
			m.logger.Warnf("control: flush cam%d ring: %v", cam, err)
		}
	}
	label := "stream"
	if m.state.Program == ProgramAveraging {
		label = "avging"
	}
	m.sendLocked(fmt.Sprintf("write %s done %d %d", label, counts[0], counts[1])) //nolint:errcheck
}

// gentleStopLocked implements "→ GENTLE-STOP": clears the cooperative
// flag only, letting acquisition workers self-teardown per §4.3. For
// STREAM this is semantically a hard stop, per the spec.
func (m *Machine) gentleStopLocked() {
	if m.state.Program == ProgramStream {
		m.hardStopLocked()
		return
	}
	if m.cur != nil && m.cur.engine != nil {
		m.cur.engine.Flags.SetStop()
	}
	m.state.Status = StatusStopped
}

// teardownSessionLocked stops and closes both boards and releases the
// current session's goroutines (spec.md §4.6 rule 1: "if cp != NONE,
// stop the boards then close them regardless of cs").
func (m *Machine) teardownSessionLocked() {
	for _, b := range m.boards {
		_ = b.Stop()
	}
	if m.cur != nil {
		if m.cur.engine != nil {
			m.cur.engine.Flags.SetCleanup()
		}
		if m.cur.cancel != nil {
			m.cur.cancel()
		}
		m.cur = nil
	}
	for _, b := range m.boards {
		_ = b.Close()
	}
}

func (m *Machine) openStreamLocked() error {
	for _, b := range m.boards {
		if err := b.SetBuffers(board.StreamRingDepth); err != nil {
			return fmt.Errorf("control: open stream boards: %w", err)
		}
	}
	eng := accum.NewEngine(m.boards, m.luts, 0, m.logger)
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{engine: eng, cancel: cancel}
	for cam := 0; cam < 2; cam++ {
		cam := cam
		sess.workersAll.Add(1)
		go func() {
			defer sess.workersAll.Done()
			eng.RunStream(ctx, cam)
		}()
	}
	m.cur = sess
	return nil
}

func (m *Machine) openAveragingLocked(cmd Command) error {
	for _, b := range m.boards {
		if err := b.SetBuffers(board.AveragingRingDepth); err != nil {
			return fmt.Errorf("control: open averaging boards: %w", err)
		}
	}

	numIntegrations := cmd.NumIntegrations
	if numIntegrations <= 0 {
		numIntegrations = config.DefaultNumIntegrations
	}
	if cmd.StartingQuadState != 0 {
		// spec.md §9(a): the original never consumes qIndxStart in the
		// inner loop; its effect is undefined. We only flag the fact it
		// was supplied non-zero.
		m.logger.Warnf("control: avging start received non-zero StartingQuadState=%d; has no effect", cmd.StartingQuadState)
	}

	eng := accum.NewEngine(m.boards, m.luts, numIntegrations, m.logger)
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{engine: eng, cancel: cancel, avgImageDump: cmd.DoAvgImageDump}

	eng.Teardown = func(e *accum.Engine) {
		m.onAveragingTeardown()
	}

	writerX := &persist.Writer{
		Label: "X", Region: eng.RegionX,
		EventCam0: eng.EventX0(), EventCam1: eng.EventX1(),
		LagCam0: eng.LagFor(accum.RegionX, 0), LagCam1: eng.LagFor(accum.RegionX, 1),
		DataRoot: m.dataRoot, Format: m.format, Sender: m.sender, Logger: m.logger,
	}
	writerY := &persist.Writer{
		Label: "Y", Region: eng.RegionY,
		EventCam0: eng.EventY0(), EventCam1: eng.EventY1(),
		LagCam0: eng.LagFor(accum.RegionY, 0), LagCam1: eng.LagFor(accum.RegionY, 1),
		DataRoot: m.dataRoot, Format: m.format, Sender: m.sender, Logger: m.logger,
	}

	for cam := 0; cam < 2; cam++ {
		cam := cam
		sess.workersAll.Add(1)
		go func() {
			defer sess.workersAll.Done()
			eng.RunAveraging(ctx, cam)
		}()
	}
	sess.workersAll.Add(2)
	go func() { defer sess.workersAll.Done(); writerX.Run(ctx) }()
	go func() { defer sess.workersAll.Done(); writerY.Run(ctx) }()

	m.cur = sess
	return nil
}

// onAveragingTeardown is Cam0's worker's elected teardown action (spec.md
// §4.3's closing paragraph): stop/close both boards if still running and
// reset the state machine to (NONE, CLOSED). This runs the transition
// directly rather than re-posting a synthetic "averaging stop" command
// through the socket command path, since Go's mutex-guarded Machine has
// no re-entrancy hazard to work around the way the original's
// thread-safe command queue did; the effect -- re-arming (NONE, CLOSED)
// -- is identical.
func (m *Machine) onAveragingTeardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Program != ProgramAveraging {
		return
	}
	sess := m.cur
	for _, b := range m.boards {
		_ = b.Stop()
		_ = b.Close()
	}
	m.cur = nil
	m.state = Initial
	if sess != nil && sess.cancel != nil {
		// Releases writerX/writerY, blocked in EventCam0/1.Wait(ctx.Done()),
		// which otherwise never see this session end.
		sess.cancel()
	}
}

func (m *Machine) sendLocked(msg string) error {
	if m.sender == nil {
		return nil
	}
	return m.sender.Send(msg)
}

// Shutdown implements spec.md §4.6's quit path: clear the run flag,
// stop and close both boards, and release every blocked goroutine. It
// waits up to the spec's 3-second grace delay for workers to exit.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	sess := m.cur
	for _, b := range m.boards {
		_ = b.Stop()
	}
	if sess != nil {
		if sess.engine != nil {
			sess.engine.Flags.SetCleanup()
		}
		if sess.cancel != nil {
			sess.cancel()
		}
	}
	m.mu.Unlock()

	if sess != nil {
		done := make(chan struct{})
		go func() { sess.workersAll.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			m.logger.Warnf("control: shutdown grace period elapsed with workers still running")
		}
	}

	m.mu.Lock()
	for _, b := range m.boards {
		_ = b.Close()
	}
	m.cur = nil
	m.state = Initial
	m.mu.Unlock()
}
