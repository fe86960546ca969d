// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/wire"
)

const keepAliveInterval = 3 * time.Minute

type listener struct {
	sync.WaitGroup
	sync.Mutex

	s   *Server
	l   net.Listener
	log *logging.Logger

	idleTimeout time.Duration

	conns      *list.List
	closeAllWg sync.WaitGroup
}

func (l *listener) halt() {
	// Close the listener, wait for worker() to return.
	l.l.Close()
	l.Wait()

	// Close all connections belonging to the listener.
	l.Lock()
	for e := l.conns.Front(); e != nil; e = e.Next() {
		e.Value.(net.Conn).Close()
	}
	l.Unlock()
	l.closeAllWg.Wait()
}

func (l *listener) worker() {
	addr := l.l.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		l.l.Close() // Usually redundant, but harmless.
		l.Done()
	}()
	for {
		conn, err := l.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if e, ok := err.(net.Error); ok && !e.Timeout() {
				l.log.Errorf("Critical accept failure: %v", err)
				return
			}
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(keepAliveInterval)
		}

		l.log.Debugf("Accepted new connection: %v", conn.RemoteAddr())
		l.onNewConn(conn)
	}

	// NOTREACHED
}

func (l *listener) onNewConn(conn net.Conn) {
	l.closeAllWg.Add(1)
	l.Lock()
	e := l.conns.PushFront(conn)
	l.Unlock()

	go func() {
		defer func() {
			conn.Close()
			l.Lock()
			l.conns.Remove(e)
			l.Unlock()
			l.closeAllWg.Done()
		}()
		l.serve(conn)
	}()
}

// serve answers requests on conn until the peer hangs up, stays idle
// past the timeout or the server halts.
func (l *listener) serve(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	ctx, cancel := l.s.HaltContext(context.Background())
	defer cancel()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(l.idleTimeout)); err != nil {
			return
		}
		b, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, net.ErrClosed) {
				l.log.Debugf("Read from %v failed: %v", peer, err)
			}
			return
		}
		conn.SetReadDeadline(time.Time{})

		var resp wire.Response
		req, err := wire.DecodeRequest(b)
		if err != nil {
			l.log.Debugf("Malformed request from %v: %v", peer, err)
			resp = wire.NewErrorResponse(err)
		} else {
			resp = l.s.dispatch(ctx, peer, req)
		}

		conn.SetWriteDeadline(time.Now().Add(l.idleTimeout))
		if err := wire.WriteResponse(conn, resp); err != nil {
			l.log.Debugf("Write to %v failed: %v", peer, err)
			return
		}
	}
}

func newListener(s *Server, id int, addr string, idleTimeout time.Duration) (*listener, error) {
	hostPort, err := wire.HostPort(addr)
	if err != nil {
		return nil, err
	}
	l := &listener{
		s:           s,
		log:         s.logBackend.GetLogger(fmt.Sprintf("listener:%d", id)),
		idleTimeout: idleTimeout,
		conns:       list.New(),
	}
	if l.l, err = net.Listen("tcp", hostPort); err != nil {
		return nil, err
	}

	l.Add(1)
	go l.worker()
	return l, nil
}
