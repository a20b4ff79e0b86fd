// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package dto

import (
	"strconv"
	"time"

	"macusers/internal/accounts"
)

// User is the serialisable form of an account record
type User struct {
	Username        string     `json:"username" yaml:"username"`
	RealName        string     `json:"realName" yaml:"real_name"`
	UID             int        `json:"uid" yaml:"uid"`
	GID             int        `json:"gid" yaml:"gid"`
	GeneratedUID    string     `json:"generatedUid" yaml:"generated_uid"`
	HomeDir         string     `json:"homeDir,omitempty" yaml:"home_dir,omitempty"`
	Shell           string     `json:"shell,omitempty" yaml:"shell,omitempty"`
	IsAdmin         bool       `json:"isAdmin" yaml:"is_admin"`
	HasSSH          bool       `json:"hasSsh" yaml:"has_ssh"`
	IsVolumeOwner   bool       `json:"isVolumeOwner" yaml:"is_volume_owner"`
	FileVault       string     `json:"fileVault" yaml:"filevault"`
	HasSecureToken  bool       `json:"hasSecureToken" yaml:"has_secure_token"`
	Created         *time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	PasswordLastSet *time.Time `json:"passwordLastSet,omitempty" yaml:"password_last_set,omitempty"`
	FailedLogins    int        `json:"failedLogins" yaml:"failed_logins"`
}

// FromUser converts an account record. Zero timestamps are dropped.
func FromUser(u accounts.User) User {
	return User{
		Username:        u.Username,
		RealName:        u.RealName,
		UID:             u.UID,
		GID:             u.GID,
		GeneratedUID:    u.GeneratedUID,
		HomeDir:         u.HomeDir,
		Shell:           u.Shell,
		IsAdmin:         u.IsAdmin,
		HasSSH:          u.HasSSH,
		IsVolumeOwner:   u.IsVolumeOwner,
		FileVault:       u.FileVault.String(),
		HasSecureToken:  u.HasSecureToken,
		Created:         optionalTime(u.Created),
		PasswordLastSet: optionalTime(u.PasswordLastSet),
		FailedLogins:    u.FailedLogins,
	}
}

// FromUsers converts a roster, preserving order
func FromUsers(users []accounts.User) []User {
	out := make([]User, 0, len(users))
	for _, u := range users {
		out = append(out, FromUser(u))
	}
	return out
}

// ToUser converts back to an account record; an unparsable FileVault
// value becomes Unknown.
func (u User) ToUser() accounts.User {
	var fv accounts.TriState
	_ = fv.UnmarshalText([]byte(u.FileVault))

	rec := accounts.User{
		Username:       u.Username,
		RealName:       u.RealName,
		UID:            u.UID,
		GID:            u.GID,
		GeneratedUID:   u.GeneratedUID,
		HomeDir:        u.HomeDir,
		Shell:          u.Shell,
		IsAdmin:        u.IsAdmin,
		HasSSH:         u.HasSSH,
		IsVolumeOwner:  u.IsVolumeOwner,
		FileVault:      fv,
		HasSecureToken: u.HasSecureToken,
		FailedLogins:   u.FailedLogins,
	}
	if u.Created != nil {
		rec.Created = *u.Created
	}
	if u.PasswordLastSet != nil {
		rec.PasswordLastSet = *u.PasswordLastSet
	}
	return rec
}

// Field is one named attribute of a record
type Field struct {
	Name  string
	Value string
}

// Fields lists every attribute of u in a fixed order.
// Absent values are rendered as empty strings.
func Fields(u accounts.User) []Field {
	return []Field{
		{"username", u.Username},
		{"real_name", u.RealName},
		{"uid", strconv.Itoa(u.UID)},
		{"gid", strconv.Itoa(u.GID)},
		{"generated_uid", u.GeneratedUID},
		{"home_dir", u.HomeDir},
		{"shell", u.Shell},
		{"is_admin", strconv.FormatBool(u.IsAdmin)},
		{"has_ssh", strconv.FormatBool(u.HasSSH)},
		{"is_volume_owner", strconv.FormatBool(u.IsVolumeOwner)},
		{"filevault", u.FileVault.String()},
		{"has_secure_token", strconv.FormatBool(u.HasSecureToken)},
		{"created", formatTime(u.Created)},
		{"password_last_set", formatTime(u.PasswordLastSet)},
		{"failed_logins", strconv.Itoa(u.FailedLogins)},
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
