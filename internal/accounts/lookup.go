// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"macusers/internal/dsrecord"
	"macusers/internal/runner"
)

// Lookup builds the full record of username. The record carries the name
// exactly as requested, even when the directory matched it by case or alias.
// A missing or unreadable account yields an error wrapping runner.ErrNotFound.
func (d *Directory) Lookup(ctx context.Context, username string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, runner.NewToolError(toolName(d.tools.Dscl), runner.ErrNotFound, "empty username")
	}

	rec, err := d.readRecord(ctx, username)
	if err != nil {
		return User{}, err
	}

	u, err := d.recordToUser(username, rec)
	if err != nil {
		return User{}, err
	}

	// fdesetup and sysadminctl only know the short name
	short, _ := rec.First(dsrecord.AttrRecordName)
	log := d.logger.WithFields(logrus.Fields{"user": u.Username, "uid": u.UID})
	if short != u.Username {
		log.WithField("record_name", short).Debug("Directory matched a different record name")
	}

	if u.IsAdmin, err = d.IsAdmin(ctx, u.UID); err != nil {
		return User{}, fmt.Errorf("failed to check admin membership for %s: %w", u.Username, err)
	}
	if u.HasSSH, err = d.HasSSH(ctx, u.UID); err != nil {
		return User{}, fmt.Errorf("failed to check SSH access for %s: %w", u.Username, err)
	}
	if u.IsVolumeOwner, err = d.VolumeOwner(ctx, u.GeneratedUID); err != nil {
		return User{}, fmt.Errorf("failed to check volume ownership for %s: %w", u.Username, err)
	}
	if u.FileVault, err = d.FileVault(ctx, short); err != nil {
		return User{}, fmt.Errorf("failed to check FileVault access for %s: %w", u.Username, err)
	}
	if u.HasSecureToken, err = d.SecureToken(ctx, short); err != nil {
		return User{}, fmt.Errorf("failed to check secure token for %s: %w", u.Username, err)
	}

	log.Debug("User record built")
	return u, nil
}

// readRecord fetches and decodes the directory record of username
func (d *Directory) readRecord(ctx context.Context, username string) (dsrecord.Record, error) {
	res, err := d.run(ctx, d.tools.Dscl, "-plist", ".", "-read", "/Users/"+username)
	if err != nil {
		return nil, err
	}

	tool := toolName(d.tools.Dscl)
	if res.ExitCode != 0 || strings.Contains(res.Stderr, "DS Error") {
		return nil, runner.NewToolError(tool, runner.ErrNotFound,
			fmt.Sprintf("user %s: %s", username, strings.TrimSpace(res.Stderr)))
	}

	rec, err := dsrecord.Decode([]byte(res.Stdout))
	if err != nil {
		return nil, runner.NewToolError(tool, runner.ErrNotFound, fmt.Sprintf("user %s: %v", username, err))
	}
	return rec, nil
}

// recordToUser fills the directory-provided fields of a User
func (d *Directory) recordToUser(username string, rec dsrecord.Record) (User, error) {
	tool := toolName(d.tools.Dscl)

	name, ok := rec.First(dsrecord.AttrRecordName)
	if !ok || name == "" {
		return User{}, runner.NewToolError(tool, runner.ErrNotFound, fmt.Sprintf("user %s: record has no name", username))
	}
	uid, err := rec.Int(dsrecord.AttrUniqueID)
	if err != nil {
		return User{}, runner.NewToolError(tool, runner.ErrNotFound, fmt.Sprintf("user %s: %v", username, err))
	}
	gid, err := rec.Int(dsrecord.AttrPrimaryGroupID)
	if err != nil {
		return User{}, runner.NewToolError(tool, runner.ErrNotFound, fmt.Sprintf("user %s: %v", username, err))
	}

	u := User{
		Username: username,
		UID:      uid,
		GID:      gid,
	}
	u.RealName, _ = rec.First(dsrecord.AttrRealName)

	if guid, ok := rec.First(dsrecord.AttrGeneratedUID); ok {
		u.GeneratedUID = guid
		if parsed, err := uuid.Parse(guid); err != nil {
			d.logger.WithFields(logrus.Fields{"user": name, "generated_uid": guid}).Warn("GeneratedUID is not a valid UUID")
		} else {
			u.GeneratedUID = strings.ToUpper(parsed.String())
		}
	}

	if home, ok := rec.First(dsrecord.AttrNFSHomeDirectory); ok && d.pathExists(home) {
		u.HomeDir = home
	}
	if shell, ok := rec.First(dsrecord.AttrUserShell); ok && d.pathExists(shell) {
		u.Shell = shell
	}

	if data, ok := rec.First(dsrecord.AttrAccountPolicyData); ok {
		policy, err := dsrecord.DecodeAccountPolicy(data)
		if err != nil {
			d.logger.WithField("user", name).WithError(err).Debug("Ignoring unreadable account policy")
		} else {
			u.Created = policy.Created
			u.PasswordLastSet = policy.PasswordLastSet
			u.FailedLogins = policy.FailedLogins
		}
	}

	return u, nil
}
