// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

// Package accounts queries the macOS user-account database through the
// system's directory-service and security command-line tools.
package accounts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/sirupsen/logrus"

	"macusers/internal/runner"
)

// Well-known accounts, groups and shells
const (
	RootUser      = "root"
	DisabledShell = "/usr/bin/false"
	GroupAdmin    = "admin"
	GroupSSH      = "com.apple.access_ssh"
	StaffGID      = 20
)

// Tools holds the paths of the external utilities the directory invokes
type Tools struct {
	Dscl         string `mapstructure:"dscl" yaml:"dscl"`
	Stat         string `mapstructure:"stat" yaml:"stat"`
	Defaults     string `mapstructure:"defaults" yaml:"defaults"`
	Dsmemberutil string `mapstructure:"dsmemberutil" yaml:"dsmemberutil"`
	Diskutil     string `mapstructure:"diskutil" yaml:"diskutil"`
	Fdesetup     string `mapstructure:"fdesetup" yaml:"fdesetup"`
	Sysadminctl  string `mapstructure:"sysadminctl" yaml:"sysadminctl"`
}

// DefaultTools returns the stock macOS locations
func DefaultTools() Tools {
	return Tools{
		Dscl:         "/usr/bin/dscl",
		Stat:         "/usr/bin/stat",
		Defaults:     "/usr/bin/defaults",
		Dsmemberutil: "/usr/sbin/dsmemberutil",
		Diskutil:     "/usr/sbin/diskutil",
		Fdesetup:     "/usr/bin/fdesetup",
		Sysadminctl:  "/usr/sbin/sysadminctl",
	}
}

// WithDefaults fills empty paths from DefaultTools
func (t Tools) WithDefaults() Tools {
	d := DefaultTools()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&t.Dscl, d.Dscl)
	fill(&t.Stat, d.Stat)
	fill(&t.Defaults, d.Defaults)
	fill(&t.Dsmemberutil, d.Dsmemberutil)
	fill(&t.Diskutil, d.Diskutil)
	fill(&t.Fdesetup, d.Fdesetup)
	fill(&t.Sysadminctl, d.Sysadminctl)
	return t
}

// SessionSource lists login sessions from the utmpx database
type SessionSource func(ctx context.Context) ([]host.UserStat, error)

// Directory answers account queries. It owns the memoization cache for
// the slow volume and FileVault listings, so one Directory should be
// shared for the life of a command.
type Directory struct {
	runner     runner.Runner
	tools      Tools
	logger     logrus.FieldLogger
	pathExists func(string) bool
	sessions   SessionSource
	cache      atomic.Pointer[listCache]
}

// Option configures a Directory
type Option func(*Directory)

// WithTools overrides tool paths; empty entries keep their defaults
func WithTools(t Tools) Option {
	return func(d *Directory) {
		d.tools = t.WithDefaults()
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Directory) {
		d.logger = l
	}
}

// WithPathCheck replaces the on-disk existence check used for home and shell paths
func WithPathCheck(exists func(string) bool) Option {
	return func(d *Directory) {
		d.pathExists = exists
	}
}

// WithSessionSource replaces the utmpx session source
func WithSessionSource(src SessionSource) Option {
	return func(d *Directory) {
		d.sessions = src
	}
}

// New creates a Directory that runs tools through r
func New(r runner.Runner, opts ...Option) *Directory {
	d := &Directory{
		runner:     r,
		tools:      DefaultTools(),
		logger:     logrus.StandardLogger(),
		pathExists: pathExists,
		sessions:   host.UsersWithContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cache.Store(newListCache())
	return d
}

// Tools returns the tool paths in use
func (d *Directory) Tools() Tools {
	return d.tools
}

// Reset drops the memoized volume and FileVault listings
func (d *Directory) Reset() {
	d.cache.Store(newListCache())
}

func (d *Directory) run(ctx context.Context, tool string, args ...string) (runner.Result, error) {
	res, err := d.runner.Run(ctx, tool, args...)
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", toolName(tool), strings.Join(args, " "), err)
	}
	return res, nil
}

func toolName(path string) string {
	return filepath.Base(path)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var privilegeMarkers = []string{
	"as root",
	"root privilege",
	"requires root",
	"not authorized",
	"not permitted",
	"permission denied",
}

var notFoundMarkers = []string{
	"recordnotfound",
	"not found",
	"does not exist",
	"no such",
	"unknown user",
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func needsPrivilege(res runner.Result) bool {
	return containsAny(strings.ToLower(res.Combined()), privilegeMarkers)
}

// classifyFailure turns an unsuccessful tool answer into an error kind
func classifyFailure(tool string, res runner.Result) error {
	detail := strings.TrimSpace(res.Combined())
	lower := strings.ToLower(detail)
	switch {
	case containsAny(lower, privilegeMarkers):
		return runner.NewToolError(toolName(tool), runner.ErrPermissionDenied, detail)
	case containsAny(lower, notFoundMarkers):
		return runner.NewToolError(toolName(tool), runner.ErrNotFound, detail)
	default:
		return fmt.Errorf("%s exited with status %d: %s", toolName(tool), res.ExitCode, detail)
	}
}
