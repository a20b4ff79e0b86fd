// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macusers/internal/dto"
)

func openTemp(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "snapshots.db")
	d, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, path
}

func snapshotAt(ts time.Time, users ...dto.User) Snapshot {
	return Snapshot{TakenAt: ts, Hostname: "mac-mini", Console: "alice", Users: users}
}

func TestSaveAndGet(t *testing.T) {
	d, _ := openTemp(t)
	ctx := context.Background()

	created := time.Unix(1600000000, 0).UTC()
	alice := dto.User{
		Username: "alice", RealName: "Alice Example", UID: 501, GID: 20,
		GeneratedUID: "1A2B3C4D-0000-4000-8000-00000000A11C", HomeDir: "/Users/alice", Shell: "/bin/zsh",
		IsAdmin: true, IsVolumeOwner: true, FileVault: "yes", HasSecureToken: true, Created: &created,
		FailedLogins: 3,
	}
	bob := dto.User{Username: "bob", UID: 502, GID: 20, FileVault: "unknown"}
	taken := time.UnixMilli(1700000000123).UTC()

	id, err := d.Save(ctx, snapshotAt(taken, alice, bob))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	got, err := d.Get(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, got.ID)
	assert.Equal(t, taken, got.TakenAt)
	assert.Equal(t, "mac-mini", got.Hostname)
	assert.Equal(t, "alice", got.Console)
	assert.Equal(t, []dto.User{alice, bob}, got.Users)
}

func TestSaveKeepsGivenID(t *testing.T) {
	d, _ := openTemp(t)

	s := snapshotAt(time.Now())
	s.ID = "fixed-id"
	id, err := d.Save(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, "fixed-id", id)
	got, err := d.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, got.Users)
}

func TestSaveDuplicateIDRollsBack(t *testing.T) {
	d, _ := openTemp(t)
	ctx := context.Background()

	s := snapshotAt(time.UnixMilli(1000), dto.User{Username: "alice"})
	s.ID = "dup"
	_, err := d.Save(ctx, s)
	require.NoError(t, err)

	s.Users = append(s.Users, dto.User{Username: "bob"})
	_, err = d.Save(ctx, s)
	require.Error(t, err)

	got, err := d.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, got.Users, 1)
}

func TestGetUnknown(t *testing.T) {
	d, _ := openTemp(t)

	_, err := d.Get(context.Background(), "missing")

	assert.True(t, errors.Is(err, ErrSnapshotNotFound))
}

func TestLatest(t *testing.T) {
	d, _ := openTemp(t)
	ctx := context.Background()

	latest, err := d.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = d.Save(ctx, snapshotAt(time.UnixMilli(2000), dto.User{Username: "new"}))
	require.NoError(t, err)
	_, err = d.Save(ctx, snapshotAt(time.UnixMilli(1000), dto.User{Username: "old"}))
	require.NoError(t, err)

	latest, err = d.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "new", latest.Users[0].Username)
}

func TestList(t *testing.T) {
	d, _ := openTemp(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		users := []dto.User{{Username: "alice", IsAdmin: true}}
		for j := 0; j < i; j++ {
			users = append(users, dto.User{Username: "user"})
		}
		_, err := d.Save(ctx, snapshotAt(time.UnixMilli(int64(i*1000)), users...))
		require.NoError(t, err)
	}

	all, err := d.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3000), all[0].TakenAt.UnixMilli())
	assert.Equal(t, 4, all[0].UserCount)
	assert.Equal(t, 1, all[0].Admins)

	two, err := d.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestOpenReadOnly(t *testing.T) {
	d, path := openTemp(t)
	_, err := d.Save(context.Background(), snapshotAt(time.UnixMilli(1000), dto.User{Username: "alice"}))
	require.NoError(t, err)

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	assert.Equal(t, path, ro.Path())
	latest, err := ro.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "alice", latest.Users[0].Username)
}

func TestOpenReadOnlyMissing(t *testing.T) {
	_, err := OpenReadOnly(filepath.Join(t.TempDir(), "absent.db"))

	assert.Error(t, err)
}

func TestCopyToTemp(t *testing.T) {
	d, path := openTemp(t)
	_, err := d.Save(context.Background(), snapshotAt(time.UnixMilli(1000)))
	require.NoError(t, err)

	tmp, err := copyToTemp(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		(&DB{tempCopy: tmp}).removeTemp()
	})

	assert.FileExists(t, tmp)
	assert.Equal(t, ".db", filepath.Ext(tmp))
}
