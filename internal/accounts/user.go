// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// TriState is a yes/no answer that may be unknown
type TriState int

const (
	Unknown TriState = iota
	Yes
	No
)

// Bool converts b into Yes or No
func Bool(b bool) TriState {
	if b {
		return Yes
	}
	return No
}

func (t TriState) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as yes, no or unknown
func (t TriState) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses yes, no or unknown
func (t *TriState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "yes":
		*t = Yes
	case "no":
		*t = No
	case "unknown", "":
		*t = Unknown
	default:
		return fmt.Errorf("invalid tri-state value %q", string(text))
	}
	return nil
}

// User is a snapshot of one local account and its security attributes.
// Optional fields are empty or zero when the directory does not provide them.
type User struct {
	Username     string
	RealName     string
	UID          int
	GID          int
	GeneratedUID string
	HomeDir      string
	Shell        string

	IsAdmin        bool
	HasSSH         bool
	IsVolumeOwner  bool
	FileVault      TriState
	HasSecureToken bool

	Created         time.Time
	PasswordLastSet time.Time
	FailedLogins    int
}

// IsRoot reports whether u is the superuser account
func (u User) IsRoot() bool {
	return u.UID == 0
}

// ListOptions narrows a roster listing
type ListOptions struct {
	ExcludeRoot bool
	PrimaryGID  *int // nil keeps every primary group
}

// Match reports whether u passes the options
func (o ListOptions) Match(u User) bool {
	if o.ExcludeRoot && u.IsRoot() {
		return false
	}
	if o.PrimaryGID != nil && u.GID != *o.PrimaryGID {
		return false
	}
	return true
}

// ExcludeRoot returns users without any uid 0 account
func ExcludeRoot(users []User) []User {
	return lo.Reject(users, func(u User, _ int) bool {
		return u.IsRoot()
	})
}

// Filter returns the users matching opts
func Filter(users []User, opts ListOptions) []User {
	return lo.Filter(users, func(u User, _ int) bool {
		return opts.Match(u)
	})
}
