// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package installer

import (
	"fmt"
	"os"
	"path/filepath"
)

// InstallPaths contains the installation paths of the scheduled audit
type InstallPaths struct {
	BinaryPath string
	ConfigPath string
	PlistPath  string
	LogPath    string
	StderrPath string // launchd stderr; kept apart from the rotated LogPath
	DBPath     string
}

// GetInstallPaths returns the stock macOS installation paths
func GetInstallPaths() InstallPaths {
	return InstallPaths{
		BinaryPath: "/usr/local/bin/macusers",
		ConfigPath: "/etc/macusers/config.yaml",
		PlistPath:  "/Library/LaunchDaemons/" + launchdLabel + ".plist",
		LogPath:    "/var/log/macusers.log",
		StderrPath: "/var/log/macusers.stderr.log",
		DBPath:     "/var/db/macusers/snapshots.db",
	}
}

// CopyBinary copies the executable at srcPath to the installation path
func CopyBinary(srcPath, dstPath string) error {
	// Resolve symlinks
	srcPath, err := filepath.EvalSymlinks(srcPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	// Create destination directory
	dstDir := filepath.Dir(dstPath)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dstDir, err)
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read source binary: %w", err)
	}

	if err := os.WriteFile(dstPath, data, 0755); err != nil {
		return fmt.Errorf("failed to write binary: %w", err)
	}

	return nil
}

// RemoveFile removes a file if it exists
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveDir removes a directory if it's empty
func RemoveDir(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// Ignore "directory not empty" errors
		return nil
	}
	return nil
}
