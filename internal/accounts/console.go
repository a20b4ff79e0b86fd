// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"context"
	"strings"

	"macusers/internal/runner"
)

const (
	consoleDevice      = "/dev/console"
	loginWindowPrefs   = "/Library/Preferences/com.apple.loginwindow.plist"
	lastUserNameKey    = "lastUserName"
	consoleOwnerFormat = `"%Su"`
)

// ConsoleName returns the user owning the console, or the last user to
// log in when the console belongs to root.
func (d *Directory) ConsoleName(ctx context.Context) (string, error) {
	res, err := d.run(ctx, d.tools.Stat, "-f", consoleOwnerFormat, consoleDevice)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", classifyFailure(d.tools.Stat, res)
	}

	owner := strings.TrimSpace(strings.ReplaceAll(res.Stdout, `"`, ""))
	if owner == "" {
		return "", runner.NewToolError(toolName(d.tools.Stat), runner.ErrNotFound, "console has no owner")
	}

	// root owning the console usually means nobody is logged in graphically
	if owner == RootUser {
		last, err := d.lastUserName(ctx)
		if err != nil {
			d.logger.WithError(err).Warn("Could not read last logged-in user")
		} else if last != "" {
			d.logger.WithField("user", last).Debug("Console owned by root, using last logged-in user")
			owner = last
		}
	}

	return owner, nil
}

// Console returns the full record of the console user
func (d *Directory) Console(ctx context.Context) (User, error) {
	name, err := d.ConsoleName(ctx)
	if err != nil {
		return User{}, err
	}
	return d.Lookup(ctx, name)
}

// lastUserName reads the login window's persisted last user.
// An absent preference yields an empty name.
func (d *Directory) lastUserName(ctx context.Context) (string, error) {
	res, err := d.run(ctx, d.tools.Defaults, "read", loginWindowPrefs, lastUserNameKey)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "does not exist") {
			return "", nil
		}
		return "", classifyFailure(d.tools.Defaults, res)
	}
	return strings.TrimSpace(res.Stdout), nil
}
