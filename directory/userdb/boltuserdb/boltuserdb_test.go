// SPDX-FileCopyrightText: © 2026 The Arke Authors
// SPDX-License-Identifier: AGPL-3.0-only

package boltuserdb

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arke-messenger/arke/directory/userdb"
)

func TestUserDB(t *testing.T) {
	require := require.New(t)
	f := filepath.Join(t.TempDir(), "users.db")
	db, err := New(f)
	require.NoError(err)

	require.False(db.Exists("bob00002"))
	token, err := db.Add("bob00002", time.Unix(1700000000, 0))
	require.NoError(err)
	require.NotEmpty(token)
	require.True(db.Exists("bob00002"))

	_, err = db.Add("bob00002", time.Now())
	require.ErrorIs(err, userdb.ErrUserExists)

	u, err := db.Get("bob00002")
	require.NoError(err)
	require.Equal(int64(1700000000), u.RegisteredAt)

	_, err = db.Get("carol")
	require.ErrorIs(err, userdb.ErrNoSuchUser)
	require.ErrorIs(db.MarkUnread("carol"), userdb.ErrNoSuchUser)

	// Unread flag: anyone sets, only the session holder reads and clears.
	require.NoError(db.MarkUnread("bob00002"))
	flag, err := db.Unread("bob00002", token)
	require.NoError(err)
	require.True(flag)
	_, err = db.Unread("bob00002", "")
	require.ErrorIs(err, userdb.ErrStaleSession)

	fresh, err := db.RotateSession("bob00002")
	require.NoError(err)
	require.NotEqual(token, fresh)
	require.ErrorIs(db.ClearUnread("bob00002", token), userdb.ErrStaleSession)
	require.NoError(db.ClearUnread("bob00002", fresh))
	flag, err = db.Unread("bob00002", fresh)
	require.NoError(err)
	require.False(flag)

	// Reopen and check the cache is rebuilt.
	db.Close()
	db, err = New(f)
	require.NoError(err)
	defer db.Close()
	require.True(db.Exists("bob00002"))
}

func TestConcurrentAdd(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	defer db.Close()

	const n = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.Add("alice0001", time.Now()); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, oks)
}
