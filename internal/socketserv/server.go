// Package socketserv implements the single-client TCP control-plane
// server of spec.md §4.7: one accept goroutine, 0-1 receive goroutine,
// fixed-size message reads, and a shared, mutex-guarded connection used
// for every outbound message the rest of the system emits.
package socketserv

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/ncar-hao/kcor-socketcam/internal/control"
	"github.com/ncar-hao/kcor-socketcam/internal/logging"
)

// Dispatcher is the command sink a Server feeds parsed commands to; it
// is satisfied by *control.Machine plus a quit hook.
type Dispatcher interface {
	Dispatch(cmd control.Command) error
}

// Conn is the single shared client connection, guarded by a mutex so
// every component that emits an outbound message (the control plane's
// "cam ready ..." acks, the persistence workers' lag reports) can write
// without tearing frames (spec.md §5: "client socket is shared for
// output by every component ... the implementer must pick one [policy]
// and honor it consistently").
type Conn struct {
	mu          sync.Mutex
	nc          net.Conn
	messageSize int
}

// Send pads or truncates msg to messageSize bytes and writes it whole.
// A short write is treated as a connection failure per spec.md §4.7.
func (c *Conn) Send(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return fmt.Errorf("socketserv: no client connected")
	}
	buf := make([]byte, c.messageSize)
	copy(buf, msg)
	n, err := c.nc.Write(buf)
	if err != nil {
		return fmt.Errorf("socketserv: write: %w", err)
	}
	if n < c.messageSize {
		c.nc.Close()
		c.nc = nil
		return fmt.Errorf("socketserv: short write (%d of %d bytes), connection closed", n, c.messageSize)
	}
	return nil
}

func (c *Conn) setActive(nc net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil && c.nc != nc {
		c.nc.Close()
	}
	c.nc = nc
}

func (c *Conn) clearIfCurrent(nc net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nc {
		c.nc = nil
	}
}

// Server is the accept loop of spec.md §4.7: a single-client TCP
// listener where a fresh accept immediately supersedes any prior client
// (the receive goroutine for the old connection exits on its next read
// error once the socket is closed).
type Server struct {
	Addr        string
	MessageSize int
	Dispatcher  Dispatcher
	OnQuit      func()
	Logger      *logging.Logger

	Conn *Conn

	listener net.Listener
}

// NewServer constructs a Server sharing its Conn so callers (the
// control plane, persistence workers) can hold a Sender reference
// before the listener ever accepts a client.
func NewServer(addr string, messageSize int, dispatcher Dispatcher, onQuit func(), logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		Addr:        addr,
		MessageSize: messageSize,
		Dispatcher:  dispatcher,
		OnQuit:      onQuit,
		Logger:      logger,
		Conn:        &Conn{messageSize: messageSize},
	}
}

// ListenAndServe binds the listener and runs the accept loop until the
// listener is closed (normally via Close from the shutdown path).
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("socketserv: listen %s: %w", s.Addr, err)
	}
	s.listener = ln

	for {
		nc, err := ln.Accept()
		if err != nil {
			return nil // listener closed: accept loop exits quietly
		}
		s.Conn.setActive(nc)
		go s.receiveLoop(nc)
	}
}

// Close stops the accept loop; in-flight connections are closed too.
func (s *Server) Close() error {
	s.Conn.setActive(nil)
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// receiveLoop is the 0-1 receive goroutine of spec.md §4.7: one fixed-
// size read per iteration, an immediate ack, then synchronous dispatch.
// A read error or disconnect terminates only this goroutine; the accept
// loop keeps listening for the next client.
func (s *Server) receiveLoop(nc net.Conn) {
	defer nc.Close()
	defer s.Conn.clearIfCurrent(nc)

	buf := make([]byte, s.MessageSize)
	for {
		if _, err := readFull(nc, buf); err != nil {
			return
		}

		text := string(bytes.TrimRight(buf, "\x00"))
		if err := s.Conn.Send("cam " + text); err != nil {
			s.Logger.Warnf("socketserv: ack failed: %v", err)
			return
		}

		cmd := control.ParseCommand(text)
		if cmd.Kind == control.CmdQuit {
			s.Logger.Infof("socketserv: quit received")
			if s.OnQuit != nil {
				s.OnQuit()
			}
			continue
		}
		if err := s.Dispatcher.Dispatch(cmd); err != nil {
			s.Logger.Warnf("socketserv: dispatch %q: %v", text, err)
		}
	}
}

func readFull(nc net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
