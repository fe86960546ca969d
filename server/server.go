// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package server provides the lifecycle shared by the Arke authorities
// and the dead-drop store: data directory, logging, listeners, per peer
// rate limiting, the management socket and request dispatch to a role
// Handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/config"
	"github.com/arke-messenger/arke/core/log"
	"github.com/arke-messenger/arke/core/ratelimit"
	"github.com/arke-messenger/arke/core/thwack"
	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/core/worker"
	"github.com/arke-messenger/arke/internal/instrument"
)

// ErrGenerateOnly is the error returned when the server initialization
// terminates due to the `GenerateOnly` debug config option.
var ErrGenerateOnly = errors.New("server: GenerateOnly set")

// errRateLimited is sent to peers over their request budget.
var errRateLimited = wire.NewError(wire.CodeRateLimited, errors.New("server: rate limit exceeded"))

// Handler serves the requests of one role.
type Handler interface {
	// OnRequest handles req from peer.  A returned error is sent to the
	// peer as an error response; wrap it with wire.NewError to set the
	// code.
	OnRequest(ctx context.Context, peer string, req wire.Request) (wire.Response, error)
}

// Halter is implemented by handlers that hold resources.
type Halter interface {
	Halt()
}

// Statser is implemented by handlers that report state on the
// management socket.
type Statser interface {
	Stats() []string
}

// NewHandlerFn builds the role handler once logging and the data
// directory are up.  It returns ErrGenerateOnly after creating the key
// material when GenerateOnly is set.
type NewHandlerFn func(s *Server) (Handler, error)

// Server is one running role.
type Server struct {
	worker.Worker

	cfg  *config.Config
	role string

	logBackend *log.Backend
	log        *logging.Logger

	handler    Handler
	limiter    *ratelimit.Limiter
	listeners  []*listener
	management *thwack.Server

	haltedCh chan interface{}
	haltOnce sync.Once
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	d := s.cfg.Server.DataDir

	if fi, err := os.Lstat(d); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("server: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(d, dirMode); err != nil {
			return fmt.Errorf("server: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("server: DataDir '%v' is not a directory", d)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("server: DataDir '%v' has invalid permissions '%v'", d, fi.Mode())
		}
	}
	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && p != "" && !filepath.IsAbs(p) {
		p = filepath.Join(s.cfg.Server.DataDir, p)
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger(s.role)
	}
	return err
}

func (s *Server) initManagement() error {
	if !s.cfg.Management.Enable {
		return nil
	}
	s.management = thwack.New(&thwack.Config{
		Path:        s.cfg.Management.Path,
		ServiceName: s.cfg.Server.Identifier + " Arke " + s.role + " management interface",
		Log:         s.logBackend.GetLogger("mgmt"),
	})
	s.management.RegisterCommand("SHUTDOWN", func(c *thwack.Conn, _ []string) error {
		c.WriteReply(thwack.StatusOk)
		go s.Shutdown()
		return nil
	})
	s.management.RegisterCommand("ROTATE_LOG", func(c *thwack.Conn, _ []string) error {
		s.RotateLog()
		return c.WriteReply(thwack.StatusOk)
	})
	s.management.RegisterCommand("STATS", func(c *thwack.Conn, _ []string) error {
		lines := []string{
			"role " + s.role,
			fmt.Sprintf("rate_limited_peers %d", s.limiter.Len()),
		}
		if st, ok := s.handler.(Statser); ok {
			lines = append(lines, st.Stats()...)
		}
		return c.WriteData(thwack.StatusOk, lines)
	})
	return s.management.Start()
}

// Config returns the server configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// Role returns the role name.
func (s *Server) Role() string {
	return s.role
}

// LogBackend returns the logging backend.
func (s *Server) LogBackend() *log.Backend {
	return s.logBackend
}

// DataPath returns name joined to the data directory.
func (s *Server) DataPath(name string) string {
	return filepath.Join(s.cfg.Server.DataDir, name)
}

// Addresses returns the bound listener addresses as tcp URLs.
func (s *Server) Addresses() []string {
	addrs := make([]string, 0, len(s.listeners))
	for _, l := range s.listeners {
		if l != nil {
			addrs = append(addrs, "tcp://"+l.l.Addr().String())
		}
	}
	return addrs
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// RotateLog reopens the log file.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.log.Errorf("Failed to rotate log: %v", err)
		return
	}
	s.log.Notice("Log rotated.")
}

func (s *Server) halt() {
	s.log.Noticef("Starting graceful shutdown.")

	if s.management != nil {
		s.management.Halt()
		s.management = nil
	}

	// Cancel in flight requests, then stop accepting and close all
	// connections.
	s.Worker.Halt()
	for i, l := range s.listeners {
		if l != nil {
			l.halt()
			s.listeners[i] = nil
		}
	}

	if h, ok := s.handler.(Halter); ok {
		h.Halt()
	}

	s.log.Noticef("Shutdown complete.")
	close(s.haltedCh)
}

// dispatch handles one request and always produces a response.
func (s *Server) dispatch(ctx context.Context, peer string, req wire.Request) wire.Response {
	start := time.Now()
	action := string(req.Action())
	if !s.limiter.Allow(peerHost(peer), start) {
		instrument.RateLimited(s.role)
		instrument.Request(s.role, action, wire.StatusError, time.Since(start))
		return wire.NewErrorResponse(errRateLimited)
	}

	resp, err := s.handler.OnRequest(ctx, peer, req)
	if err == nil && resp == nil {
		err = wire.Errorf(wire.CodeInternal, "server: no response to %s", action)
	}
	if err != nil {
		var we *wire.Error
		if errors.As(err, &we) && we.Code != wire.CodeInternal {
			s.log.Debugf("%s from %s refused: %v", action, peer, err)
		} else {
			s.log.Errorf("%s from %s failed: %v", action, peer, err)
		}
		instrument.Request(s.role, action, wire.StatusError, time.Since(start))
		return wire.NewErrorResponse(err)
	}
	instrument.Request(s.role, action, wire.StatusSuccess, time.Since(start))
	return resp
}

func peerHost(peer string) string {
	if i := strings.LastIndex(peer, ":"); i > 0 {
		return peer[:i]
	}
	return peer
}

// New returns a running Server for the role configured in cfg.
func New(cfg *config.Config, newHandler NewHandlerFn) (*Server, error) {
	s := new(Server)
	s.cfg = cfg
	s.role = cfg.Role()
	s.haltedCh = make(chan interface{})
	if s.role == "" {
		return nil, errors.New("server: configuration has no role")
	}

	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}
	s.log.Noticef("Arke %s '%v' starting.", s.role, s.cfg.Server.Identifier)
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Unsafe Debug logging is enabled.")
	}

	var err error
	if s.handler, err = newHandler(s); err != nil {
		if err != ErrGenerateOnly {
			s.log.Errorf("Failed to initialize %s: %v", s.role, err)
		}
		return nil, err
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	idle := time.Duration(s.cfg.Server.IdleTimeout) * time.Millisecond
	s.limiter = ratelimit.New(s.cfg.Server.RatePerSecond, s.cfg.Server.RateBurst, 10*idle)
	instrument.StartPrometheusListener(s.cfg.Server.MetricsAddress, s.logBackend.GetLogger("metrics"))

	if err = s.initManagement(); err != nil {
		s.log.Errorf("Failed to initialize management interface: %v", err)
		return nil, err
	}

	s.listeners = make([]*listener, 0, len(s.cfg.Server.Addresses))
	for i, addr := range s.cfg.Server.Addresses {
		l, err := newListener(s, i, addr, idle)
		if err != nil {
			s.log.Errorf("Failed to spawn listener on address: %v (%v).", addr, err)
			return nil, err
		}
		s.listeners = append(s.listeners, l)
	}

	isOk = true
	return s, nil
}
