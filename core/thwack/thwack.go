// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package thwack provides a line based management protocol over a unix
// socket.
package thwack

import (
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/worker"
)

const cmdQuit = "QUIT"

// StatusCode is a reply status code.
type StatusCode int

const (
	// StatusServiceReady greets every new connection.
	StatusServiceReady StatusCode = 220

	// StatusOk signals that a command completed.
	StatusOk StatusCode = 250

	// StatusUnknownCommand is sent for an unregistered command.
	StatusUnknownCommand StatusCode = 500

	// StatusSyntaxError is sent for malformed arguments.
	StatusSyntaxError StatusCode = 501

	// StatusTransactionFailed is sent when the command failed.
	StatusTransactionFailed StatusCode = 554
)

var statusToString = map[StatusCode]string{
	StatusServiceReady:      "Service ready",
	StatusOk:                "Requested action ok, completed",
	StatusUnknownCommand:    "Syntax error, command unrecognised",
	StatusSyntaxError:       "Syntax error in parameters or arguments",
	StatusTransactionFailed: "Transaction failed",
}

// errQuit closes the connection after a QUIT.
var errQuit = errors.New("thwack: peer requested disconnection")

// CommandHandlerFn handles one command line.  It sends its own reply and
// returns an error only to drop the connection.
type CommandHandlerFn func(c *Conn, args []string) error

// Config configures a Server.
type Config struct {
	// Path is the unix socket path.
	Path string

	// ServiceName is shown in the greeting banner.
	ServiceName string

	// Log is the server logger.
	Log *logging.Logger
}

// Server is a management interface instance.
type Server struct {
	worker.Worker

	cfg      *Config
	l        net.Listener
	log      *logging.Logger
	handlers map[string]CommandHandlerFn

	connsLock sync.Mutex
	conns     map[uint64]*Conn
	connID    uint64
}

// New returns a Server with only QUIT registered.  Start must be called
// to accept connections.
func New(cfg *Config) *Server {
	s := &Server{
		cfg:      cfg,
		log:      cfg.Log,
		handlers: make(map[string]CommandHandlerFn),
		conns:    make(map[uint64]*Conn),
	}
	s.RegisterCommand(cmdQuit, func(c *Conn, _ []string) error {
		c.WriteReply(StatusOk)
		return errQuit
	})
	return s
}

// RegisterCommand sets the handler for cmd.  It must be called before
// Start.
func (s *Server) RegisterCommand(cmd string, fn CommandHandlerFn) {
	s.handlers[strings.ToUpper(cmd)] = fn
}

// Start binds the socket, removing a stale one, and starts accepting.
func (s *Server) Start() error {
	if err := os.Remove(s.cfg.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l, err := net.Listen("unix", s.cfg.Path)
	if err != nil {
		return err
	}
	s.l = l
	s.log.Noticef("Management interface listening on: %v", s.cfg.Path)
	s.Go(s.acceptWorker)
	return nil
}

// Halt closes the socket and every connection.
func (s *Server) Halt() {
	if s.l != nil {
		s.l.Close()
	}
	s.connsLock.Lock()
	for _, c := range s.conns {
		c.c.Close()
	}
	s.connsLock.Unlock()
	s.Worker.Halt()
}

func (s *Server) acceptWorker() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			select {
			case <-s.HaltCh():
			default:
				s.log.Errorf("Management accept failure: %v", err)
			}
			return
		}
		c := &Conn{
			s:  s,
			c:  textproto.NewConn(conn),
			id: atomic.AddUint64(&s.connID, 1),
		}
		s.connsLock.Lock()
		s.conns[c.id] = c
		s.connsLock.Unlock()
		s.Go(c.worker)
	}
}

func (s *Server) onCommand(c *Conn, line string) error {
	fields := strings.Fields(textproto.TrimString(line))
	if len(fields) == 0 {
		return c.WriteReply(StatusSyntaxError)
	}
	cmd := strings.ToUpper(fields[0])
	s.log.Debugf("Management command: %v", cmd)

	fn, ok := s.handlers[cmd]
	if !ok {
		return c.WriteReply(StatusUnknownCommand)
	}
	return fn(c, fields[1:])
}

// Conn is one management connection.
type Conn struct {
	s  *Server
	c  *textproto.Conn
	id uint64
}

// WriteReply sends status with its standard reason.
func (c *Conn) WriteReply(status StatusCode) error {
	reason, ok := statusToString[status]
	if !ok {
		return fmt.Errorf("BUG: thwack: Unknown status code: %v", status)
	}
	return c.c.PrintfLine("%v %v", status, reason)
}

// WriteData sends status followed by one line per entry.
func (c *Conn) WriteData(status StatusCode, lines []string) error {
	for _, l := range lines {
		if err := c.c.PrintfLine("%v-%v", status, l); err != nil {
			return err
		}
	}
	return c.WriteReply(status)
}

func (c *Conn) worker() {
	defer func() {
		c.c.Close()
		c.s.connsLock.Lock()
		delete(c.s.conns, c.id)
		c.s.connsLock.Unlock()
	}()

	banner := statusToString[StatusServiceReady]
	if c.s.cfg.ServiceName != "" {
		banner = c.s.cfg.ServiceName + " " + banner
	}
	if err := c.c.PrintfLine("%v %v", StatusServiceReady, banner); err != nil {
		return
	}
	for {
		l, err := c.c.ReadLine()
		if err != nil {
			return
		}
		if err = c.s.onCommand(c, l); err != nil {
			return
		}
	}
}
