// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"howett.net/plist"

	"macusers/internal/config"
	"macusers/internal/runner"
)

const (
	launchdLabel = "com.binadox.macusers"
	launchctl    = "/bin/launchctl"

	// MinInterval is the shortest accepted audit interval
	MinInterval = time.Minute
)

// ErrNotRoot is returned when installing or uninstalling without root privileges
var ErrNotRoot = errors.New("requires root privileges (run with sudo)")

// launchdJob is the property list launchd reads from /Library/LaunchDaemons
type launchdJob struct {
	Label             string   `plist:"Label"`
	ProgramArguments  []string `plist:"ProgramArguments"`
	StartInterval     int      `plist:"StartInterval"`
	RunAtLoad         bool     `plist:"RunAtLoad"`
	UserName          string   `plist:"UserName"`
	StandardOutPath   string   `plist:"StandardOutPath"`
	StandardErrorPath string   `plist:"StandardErrorPath"`
}

// Installer registers the periodic roster audit with launchd
type Installer struct {
	paths      InstallPaths
	runner     runner.Runner
	logger     logrus.FieldLogger
	isRoot     func() bool
	executable func() (string, error)
}

// New creates an installer that drives launchctl through r
func New(paths InstallPaths, r runner.Runner, logger logrus.FieldLogger) *Installer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Installer{
		paths:      paths,
		runner:     r,
		logger:     logger,
		isRoot:     func() bool { return os.Getuid() == 0 },
		executable: os.Executable,
	}
}

// Paths returns the installation paths in use
func (i *Installer) Paths() InstallPaths {
	return i.paths
}

// Install copies the binary and config into place and loads a launchd job
// that runs "audit --save" every interval as root
func (i *Installer) Install(ctx context.Context, cfg *config.Config, interval time.Duration) error {
	if !i.isRoot() {
		return fmt.Errorf("installation %w", ErrNotRoot)
	}
	if interval < MinInterval {
		return fmt.Errorf("interval must be at least %s", MinInterval)
	}

	exe, err := i.executable()
	if err != nil {
		return fmt.Errorf("failed to get current executable: %w", err)
	}
	if err := CopyBinary(exe, i.paths.BinaryPath); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	// Scheduled runs have no terminal; keep their log in a rotated file
	installed := *cfg
	if installed.LogFile == "" || strings.EqualFold(installed.LogFile, "STDERR") {
		installed.LogFile = i.paths.LogPath
	}
	if i.paths.DBPath != "" {
		installed.DBPath = i.paths.DBPath
	}
	if err := installed.SaveToFile(i.paths.ConfigPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	job := launchdJob{
		Label:             launchdLabel,
		ProgramArguments:  []string{i.paths.BinaryPath, "audit", "--save", "--config", i.paths.ConfigPath},
		StartInterval:     int(interval.Seconds()),
		RunAtLoad:         true,
		UserName:          "root",
		StandardOutPath:   os.DevNull,
		StandardErrorPath: i.paths.StderrPath,
	}
	data, err := plist.MarshalIndent(job, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("failed to encode plist: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(i.paths.PlistPath), 0755); err != nil {
		return fmt.Errorf("failed to create plist directory: %w", err)
	}
	if err := os.WriteFile(i.paths.PlistPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write plist file: %w", err)
	}

	// Load the service
	res, err := i.runner.Run(ctx, launchctl, "load", "-w", i.paths.PlistPath)
	if err != nil {
		return fmt.Errorf("failed to load launchd service: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to load launchd service: exit status %d: %s", res.ExitCode, strings.TrimSpace(res.Combined()))
	}

	i.logger.WithFields(logrus.Fields{"plist": i.paths.PlistPath, "interval": interval}).Info("Scheduled audit installed")
	return nil
}

// Uninstall unloads the launchd job and removes the installed files.
// The snapshot database is left in place.
func (i *Installer) Uninstall(ctx context.Context) error {
	if !i.isRoot() {
		return fmt.Errorf("uninstallation %w", ErrNotRoot)
	}

	// Unload the service; it may already be gone
	if res, err := i.runner.Run(ctx, launchctl, "unload", "-w", i.paths.PlistPath); err != nil || res.ExitCode != 0 {
		i.logger.WithError(err).WithField("output", strings.TrimSpace(res.Combined())).Debug("launchctl unload failed")
	}

	for _, path := range []string{i.paths.PlistPath, i.paths.BinaryPath, i.paths.ConfigPath} {
		if err := RemoveFile(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	RemoveDir(filepath.Dir(i.paths.ConfigPath))

	i.logger.Info("Scheduled audit removed")
	return nil
}

// IsInstalled checks if the launchd job is present
func (i *Installer) IsInstalled() bool {
	_, err := os.Stat(i.paths.PlistPath)
	return err == nil
}
