package socketserv

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncar-hao/kcor-socketcam/internal/control"
)

type recordingDispatcher struct {
	notify chan struct{}
	cmds []control.Command
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{notify: make(chan struct{}, 16)}
}

func (d *recordingDispatcher) Dispatch(cmd control.Command) error {
	d.cmds = append(d.cmds, cmd)
	d.notify <- struct{}{}
	return nil
}

func TestServer_EchoesAckAndDispatches(t *testing.T) {
	disp := newRecordingDispatcher()
	var quit bool
	srv := NewServer("127.0.0.1:0", 16, disp, func() { quit = true }, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Addr = ln.Addr().String()
	require.NoError(t, ln.Close())

	go srv.ListenAndServe() //nolint:errcheck
	defer srv.Close()

	var conn net.Conn
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("tcp", srv.Addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	msg := make([]byte, 16)
	copy(msg, "stream start")
	_, err = conn.Write(msg)
	require.NoError(t, err)

	ack := make([]byte, 16)
	_, err = readFull(conn, ack)
	require.NoError(t, err)
	assert.Contains(t, string(ack), "cam stream start")

	select {
	case <-disp.notify:
	case <-time.After(time.Second):
		t.Fatal("dispatch was not called")
	}
	require.Len(t, disp.cmds, 1)
	assert.Equal(t, control.CmdStream, disp.cmds[0].Kind)
	assert.False(t, quit)
}

func TestConn_SendWithoutClientErrors(t *testing.T) {
	c := &Conn{messageSize: 16}
	err := c.Send("hello")
	assert.Error(t, err)
}
