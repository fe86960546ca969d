// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package boltuserdb implements the Arke user directory with a simple
// boltdb based backend.
package boltuserdb

import (
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/arke-messenger/arke/directory/userdb"
)

const (
	metadataBucket = "metadata"
	usersBucket    = "users"
	versionKey     = "version"
)

type boltUserDB struct {
	sync.RWMutex

	db        *bolt.DB
	userCache map[string]bool
}

func (d *boltUserDB) Exists(id string) bool {
	d.RLock()
	defer d.RUnlock()

	return d.userCache[id]
}

// update applies fn to the stored user inside one transaction.
func (d *boltUserDB) update(id string, fn func(u *userdb.User) error) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usersBucket))
		raw := bkt.Get([]byte(id))
		if raw == nil {
			return userdb.ErrNoSuchUser
		}
		u := new(userdb.User)
		if err := cbor.Unmarshal(raw, u); err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		raw, err := cbor.Marshal(u)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(id), raw)
	})
}

func checkToken(u *userdb.User, token string) error {
	if token == "" || subtle.ConstantTimeCompare([]byte(u.SessionToken), []byte(token)) != 1 {
		return userdb.ErrStaleSession
	}
	return nil
}

func (d *boltUserDB) Add(id string, now time.Time) (string, error) {
	token := uuid.New().String()
	raw, err := cbor.Marshal(&userdb.User{
		IDString:     id,
		RegisteredAt: now.Unix(),
		SessionToken: token,
	})
	if err != nil {
		return "", err
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usersBucket))
		if bkt.Get([]byte(id)) != nil {
			return userdb.ErrUserExists
		}
		return bkt.Put([]byte(id), raw)
	})
	if err != nil {
		return "", err
	}

	d.Lock()
	defer d.Unlock()
	d.userCache[id] = true
	return token, nil
}

func (d *boltUserDB) Get(id string) (*userdb.User, error) {
	var u *userdb.User
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(usersBucket)).Get([]byte(id))
		if raw == nil {
			return userdb.ErrNoSuchUser
		}
		u = new(userdb.User)
		return cbor.Unmarshal(raw, u)
	})
	return u, err
}

func (d *boltUserDB) RotateSession(id string) (string, error) {
	token := uuid.New().String()
	err := d.update(id, func(u *userdb.User) error {
		u.SessionToken = token
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (d *boltUserDB) Unread(id, token string) (bool, error) {
	u, err := d.Get(id)
	if err != nil {
		return false, err
	}
	if err = checkToken(u, token); err != nil {
		return false, err
	}
	return u.Unread, nil
}

func (d *boltUserDB) MarkUnread(id string) error {
	return d.update(id, func(u *userdb.User) error {
		u.Unread = true
		return nil
	})
}

func (d *boltUserDB) ClearUnread(id, token string) error {
	return d.update(id, func(u *userdb.User) error {
		if err := checkToken(u, token); err != nil {
			return err
		}
		u.Unread = false
		return nil
	})
}

func (d *boltUserDB) Close() {
	d.db.Sync()
	d.db.Close()
}

// New creates (or loads) a user database with the given file name f.
func New(f string) (userdb.UserDB, error) {
	var err error

	d := new(boltUserDB)
	d.db, err = bolt.Open(f, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	d.userCache = make(map[string]bool)

	if err = d.db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exists, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		uBkt, err := tx.CreateBucketIfNotExists([]byte(usersBucket))
		if err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			// Well it looks like we loaded as opposed to created.
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("userdb: incompatible version: %d", uint(b[0]))
			}

			// Populate the user cache.
			return uBkt.ForEach(func(k, v []byte) error {
				d.userCache[string(k)] = true
				return nil
			})
		}

		// We created a new database, so populate the new `metadata` bucket.
		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		d.db.Close()
		return nil, err
	}

	return d, nil
}
