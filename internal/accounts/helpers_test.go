// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"

	"macusers/internal/runner"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) (runner.Result, error) {
	ret := m.Called(name, args)
	return ret.Get(0).(runner.Result), ret.Error(1)
}

// callsTo counts invocations of the tool with the given base name
func (m *mockRunner) callsTo(tool string) int {
	n := 0
	for _, c := range m.Calls {
		if filepath.Base(c.Arguments.String(0)) == tool {
			n++
		}
	}
	return n
}

type fixture struct {
	runner *mockRunner
	dir    *Directory
	hook   *test.Hook
	tools  Tools
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	r := &mockRunner{}
	existing := map[string]bool{
		"/bin/zsh":     true,
		"/bin/bash":    true,
		"/var/root":    true,
		"/Users/alice": true,
		"/Users/bob":   true,
	}
	dir := New(r,
		WithLogger(logger),
		WithPathCheck(func(p string) bool { return existing[p] }),
	)

	return &fixture{runner: r, dir: dir, hook: hook, tools: DefaultTools()}
}

type account struct {
	name  string
	real  string
	uid   int
	gid   int
	guid  string
	home  string
	shell string
}

var (
	alice = account{"alice", "Alice Example", 501, 20, "1A2B3C4D-0000-4000-8000-00000000A11C", "/Users/alice", "/bin/zsh"}
	bob   = account{"bob", "Bob Example", 502, 20, "5E6F7A8B-0000-4000-8000-000000000B0B", "/Users/bob", "/bin/bash"}
	root  = account{"root", "System Administrator", 0, 0, "FFFFEEEE-DDDD-CCCC-BBBB-AAAA00000000", "/var/root", "/bin/sh"}
	guest = account{"deploy", "Deploy", 601, 80, "0D0D0D0D-0000-4000-8000-000000000601", "/Users/deploy", "/bin/zsh"}
)

func recordPlist(a account) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>dsAttrTypeNative:accountPolicyData</key>
	<array>
		<string>&lt;plist version="1.0"&gt;&lt;dict&gt;&lt;key&gt;creationTime&lt;/key&gt;&lt;real&gt;1600000000&lt;/real&gt;&lt;key&gt;passwordLastSetTime&lt;/key&gt;&lt;real&gt;1650000000&lt;/real&gt;&lt;key&gt;failedLoginCount&lt;/key&gt;&lt;integer&gt;2&lt;/integer&gt;&lt;/dict&gt;&lt;/plist&gt;</string>
	</array>
	<key>dsAttrTypeStandard:GeneratedUID</key>
	<array><string>%s</string></array>
	<key>dsAttrTypeStandard:NFSHomeDirectory</key>
	<array><string>%s</string></array>
	<key>dsAttrTypeStandard:PrimaryGroupID</key>
	<array><string>%d</string></array>
	<key>dsAttrTypeStandard:RealName</key>
	<array><string>%s</string></array>
	<key>dsAttrTypeStandard:RecordName</key>
	<array><string>%s</string></array>
	<key>dsAttrTypeStandard:UniqueID</key>
	<array><string>%d</string></array>
	<key>dsAttrTypeStandard:UserShell</key>
	<array><string>%s</string></array>
</dict>
</plist>
`, a.guid, a.home, a.gid, a.real, a.name, a.uid, a.shell)
}

func (f *fixture) expect(tool string, args []string, res runner.Result, err error) *mock.Call {
	return f.runner.On("Run", tool, args).Return(res, err)
}

func (f *fixture) expectRecord(a account) {
	f.expect(f.tools.Dscl, []string{"-plist", ".", "-read", "/Users/" + a.name},
		runner.Result{Stdout: recordPlist(a)}, nil)
}

func (f *fixture) expectMembership(uid int, group string, member bool) {
	out := "user is not a member of the group\n"
	if member {
		out = "user is a member of the group\n"
	}
	f.expect(f.tools.Dsmemberutil, []string{"checkmembership", "-u", strconv.Itoa(uid), "-G", group},
		runner.Result{Stdout: out}, nil)
}

func (f *fixture) expectVolumes(out string) {
	f.expect(f.tools.Diskutil, []string{"apfs", "listUsers", "/"}, runner.Result{Stdout: out}, nil)
}

func (f *fixture) expectFileVault(res runner.Result) {
	f.expect(f.tools.Fdesetup, []string{"list"}, res, nil)
}

func (f *fixture) expectSecureToken(name string, enabled bool) {
	state := "DISABLED"
	if enabled {
		state = "ENABLED"
	}
	f.expect(f.tools.Sysadminctl, []string{"-secureTokenStatus", name},
		runner.Result{Stderr: fmt.Sprintf("2024-01-01 10:00:00.000 sysadminctl[123:456] Secure token is %s for user %s\n", state, name)}, nil)
}

// expectAccount registers everything Lookup needs for a
func (f *fixture) expectAccount(a account, admin, ssh, token bool) {
	f.expectRecord(a)
	f.expectMembership(a.uid, GroupAdmin, admin)
	f.expectMembership(a.uid, GroupSSH, ssh)
	f.expectSecureToken(a.name, token)
}

const volumeListing = `Cryptographic users for disk3s5 (3 found)
|
+-- 1A2B3C4D-0000-4000-8000-00000000A11C
|   Type: Local Open Directory User
|   Volume Owner: Yes
|
+-- 5E6F7A8B-0000-4000-8000-000000000B0B
|   Type: Local Open Directory User
|   Volume Owner: No
|
+-- EBC6C064-0000-11AA-AA11-00306543ECAC
    Type: iCloud Recovery External Key
`

const fileVaultListing = "alice,1A2B3C4D-0000-4000-8000-00000000A11C\n"
