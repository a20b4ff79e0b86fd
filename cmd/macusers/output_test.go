// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"macusers/internal/accounts"
	"macusers/internal/audit"
	"macusers/internal/db"
	"macusers/internal/dto"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

var (
	now   = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	alice = accounts.User{
		Username:        "alice",
		RealName:        "Alice Example",
		UID:             501,
		GID:             20,
		GeneratedUID:    "1A2B3C4D-0000-4000-8000-00000000A11C",
		HomeDir:         "/Users/alice",
		Shell:           "/bin/zsh",
		IsAdmin:         true,
		FileVault:       accounts.Unknown,
		PasswordLastSet: now.Add(-2 * time.Hour),
		FailedLogins:    3,
	}
)

func TestWriteFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFields(&buf, alice))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 15)
	assert.Equal(t, "username: alice", lines[0])
	assert.Equal(t, "uid: 501", lines[2])
	assert.Equal(t, "is_admin: true", lines[7])
	assert.Equal(t, "filevault: unknown", lines[10])
	assert.Equal(t, "created: ", lines[12])
	assert.Equal(t, "failed_logins: 3", lines[14])
}

func TestWriteUsersJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUsers(&buf, []accounts.User{alice}, formatJSON))

	var got []dto.User
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Username)
	assert.Equal(t, "unknown", got[0].FileVault)
}

func TestWriteUsersTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUsers(&buf, []accounts.User{alice}, formatTable))

	out := buf.String()
	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "501")
	assert.Contains(t, out, "unknown")
}

func TestWriteUsersEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUsers(&buf, nil, formatTable))

	assert.Equal(t, "No users found\n", buf.String())
}

func TestWriteUserYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUser(&buf, alice, formatYAML))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "alice", got["username"])
	assert.Equal(t, true, got["is_admin"])
}

func TestEncodeUnsupported(t *testing.T) {
	var buf bytes.Buffer

	assert.Error(t, encode(&buf, alice, "xml"))
	assert.Error(t, writeReport(&buf, &audit.Report{}, formatTable))
}

func TestWriteReport(t *testing.T) {
	report := &audit.Report{
		TakenAt:  now,
		Hostname: "mac-mini",
		Users:    dto.FromUsers([]accounts.User{alice}),
		Changes:  []audit.Change{{Kind: audit.AdminGranted, Username: "alice"}},
		ExitCode: audit.ExitPartialFailure,
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report, formatJSON))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "mac-mini", got["hostname"])
	assert.EqualValues(t, 1, got["exitCode"])
	assert.Len(t, got["changes"], 1)
}

func TestWriteSessions(t *testing.T) {
	var buf bytes.Buffer
	sessions := []accounts.Session{{Username: "alice", Terminal: "console", Started: now.Add(-3 * time.Hour)}}

	require.NoError(t, writeSessions(&buf, sessions, now))

	out := buf.String()
	assert.Contains(t, out, "console")
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "3 hours ago")
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHistory(&buf, nil, now))
	assert.Equal(t, "No snapshots stored\n", buf.String())

	buf.Reset()
	require.NoError(t, writeHistory(&buf, []db.Summary{{
		ID: "b1946ac9-2ad0-4c0b-9a4f-1f0e1b6f0a11", TakenAt: now.Add(-48 * time.Hour),
		Hostname: "mac-mini", Console: "alice", UserCount: 3, Admins: 1,
	}}, now))
	assert.Contains(t, buf.String(), "b1946ac9")
	assert.Contains(t, buf.String(), "2 days ago")
}

func TestAge(t *testing.T) {
	assert.Equal(t, "-", age(time.Time{}, now))
	assert.Equal(t, "2 hours ago", age(alice.PasswordLastSet, now))
}
