// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macusers/internal/runner"
)

func (f *fixture) expectConsoleOwner(out string) {
	f.expect(f.tools.Stat, []string{"-f", `"%Su"`, "/dev/console"}, runner.Result{Stdout: out}, nil)
}

func (f *fixture) expectLastUser(res runner.Result) {
	f.expect(f.tools.Defaults, []string{"read", "/Library/Preferences/com.apple.loginwindow.plist", "lastUserName"}, res, nil)
}

func TestConsoleName(t *testing.T) {
	f := newFixture(t)
	f.expectConsoleOwner("\"alice\"\n")

	name, err := f.dir.ConsoleName(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "alice", name)
	assert.Equal(t, 0, f.runner.callsTo("defaults"))
}

func TestConsoleNameRootFallsBackToLastUser(t *testing.T) {
	f := newFixture(t)
	f.expectConsoleOwner("\"root\"\n")
	f.expectLastUser(runner.Result{Stdout: "bob\n"})

	name, err := f.dir.ConsoleName(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "bob", name)
}

func TestConsoleNameRootWithoutLastUser(t *testing.T) {
	f := newFixture(t)
	f.expectConsoleOwner("\"root\"\n")
	f.expectLastUser(runner.Result{
		Stderr:   "The domain/default pair of (/Library/Preferences/com.apple.loginwindow.plist, lastUserName) does not exist\n",
		ExitCode: 1,
	})

	name, err := f.dir.ConsoleName(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "root", name)
}

func TestConsoleNameRootFallbackFailureKeepsRoot(t *testing.T) {
	f := newFixture(t)
	f.expectConsoleOwner("\"root\"\n")
	f.expect(f.tools.Defaults, []string{"read", "/Library/Preferences/com.apple.loginwindow.plist", "lastUserName"},
		runner.Result{}, runner.NewToolError("defaults", runner.ErrToolUnavailable, ""))

	name, err := f.dir.ConsoleName(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "root", name)
	require.NotNil(t, f.hook.LastEntry())
	assert.Equal(t, "Could not read last logged-in user", f.hook.LastEntry().Message)
}

func TestConsoleNameEmptyOwner(t *testing.T) {
	f := newFixture(t)
	f.expectConsoleOwner("\"\"\n")

	_, err := f.dir.ConsoleName(context.Background())

	assert.True(t, errors.Is(err, runner.ErrNotFound))
}

func TestConsoleNameStatFailure(t *testing.T) {
	f := newFixture(t)
	f.expect(f.tools.Stat, []string{"-f", `"%Su"`, "/dev/console"},
		runner.Result{Stderr: "stat: /dev/console: stat: No such file or directory\n", ExitCode: 1}, nil)

	_, err := f.dir.ConsoleName(context.Background())

	assert.True(t, errors.Is(err, runner.ErrNotFound))
}

func TestConsole(t *testing.T) {
	f := newFixture(t)
	f.expectConsoleOwner("\"root\"\n")
	f.expectLastUser(runner.Result{Stdout: "alice\n"})
	f.expectAccount(alice, true, false, true)
	f.expectVolumes(volumeListing)
	f.expectFileVault(runner.Result{Stdout: fileVaultListing})

	u, err := f.dir.Console(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "alice", u.Username)
	assert.True(t, u.IsAdmin)
}
