// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package directory implements the user directory: identity uniqueness,
// contact lookup, sessions and the per user unread flag.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/arke-messenger/arke/core/wire"
	"github.com/arke-messenger/arke/directory/userdb"
	"github.com/arke-messenger/arke/directory/userdb/boltuserdb"
	"github.com/arke-messenger/arke/server"
)

// Directory serves the directory actions.
type Directory struct {
	log *logging.Logger
	db  userdb.UserDB
}

// New is a server.NewHandlerFn for the directory role.
func New(s *server.Server) (server.Handler, error) {
	cfg := s.Config()
	db, err := boltuserdb.New(s.DataPath(cfg.Directory.DBFile))
	if err != nil {
		return nil, err
	}
	if cfg.Debug.GenerateOnly {
		db.Close()
		return nil, server.ErrGenerateOnly
	}
	return NewDirectory(db, s.LogBackend().GetLogger("directory")), nil
}

// NewDirectory returns a Directory over db.
func NewDirectory(db userdb.UserDB, log *logging.Logger) *Directory {
	return &Directory{log: log, db: db}
}

// Halt closes the database.
func (d *Directory) Halt() {
	d.db.Close()
}

func mapError(err error) error {
	switch {
	case errors.Is(err, userdb.ErrNoSuchUser):
		return wire.NewError(wire.CodeNotFound, err)
	case errors.Is(err, userdb.ErrUserExists):
		return wire.NewError(wire.CodeAlreadyRegistered, err)
	case errors.Is(err, userdb.ErrStaleSession):
		return wire.NewError(wire.CodeStaleSession, err)
	}
	return err
}

// OnRequest implements server.Handler.
func (d *Directory) OnRequest(ctx context.Context, peer string, req wire.Request) (wire.Response, error) {
	switch q := req.(type) {
	case *wire.CheckUniquenessRequest:
		unique := !d.db.Exists(q.IDString)
		msg := "id is unique"
		if !unique {
			msg = "id is taken"
		}
		return &wire.CheckUniquenessResponse{Status: wire.OK(msg), Unique: unique}, nil
	case *wire.AddUserRequest:
		token, err := d.db.Add(q.IDString, time.Now())
		if err != nil {
			return nil, mapError(err)
		}
		d.log.Debugf("Added user %v.", q.IDString)
		return &wire.AddUserResponse{Status: wire.OK("user added"), SessionToken: token}, nil
	case *wire.FindUserRequest:
		u, err := d.db.Get(q.IDString)
		if err != nil {
			return nil, mapError(err)
		}
		return &wire.FindUserResponse{Status: wire.OK("user found"), IDString: u.IDString, RegisteredAt: u.RegisteredAt}, nil
	case *wire.UpdateSessionRequest:
		token, err := d.db.RotateSession(q.IDString)
		if err != nil {
			return nil, mapError(err)
		}
		return &wire.UpdateSessionResponse{Status: wire.OK("session updated"), SessionToken: token}, nil
	case *wire.UnreadFlagRequest:
		return d.unreadFlag(q)
	default:
		return nil, wire.Errorf(wire.CodeInvalidAction, "directory: unsupported action %s", req.Action())
	}
}

func (d *Directory) unreadFlag(q *wire.UnreadFlagRequest) (wire.Response, error) {
	switch q.RW {
	case wire.UnreadRead:
		flag, err := d.db.Unread(q.IDString, q.SessionToken)
		if err != nil {
			return nil, mapError(err)
		}
		return &wire.UnreadFlagResponse{Status: wire.OK("get flag"), Flag: flag}, nil
	case wire.UnreadSetTrue:
		if err := d.db.MarkUnread(q.IDString); err != nil {
			return nil, mapError(err)
		}
		return &wire.UnreadFlagResponse{Status: wire.OK("set flag to true"), Flag: true}, nil
	case wire.UnreadSetFalse:
		if err := d.db.ClearUnread(q.IDString, q.SessionToken); err != nil {
			return nil, mapError(err)
		}
		return &wire.UnreadFlagResponse{Status: wire.OK("set flag to false")}, nil
	default:
		return nil, wire.NewError(wire.CodeInvalidRequest, fmt.Errorf("directory: invalid rw %q", q.RW))
	}
}
