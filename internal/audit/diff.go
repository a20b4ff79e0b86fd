// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package audit

import (
	"github.com/samber/lo"

	"macusers/internal/accounts"
	"macusers/internal/dto"
)

// ChangeKind names a difference between two rosters
type ChangeKind string

const (
	Added        ChangeKind = "added"
	Removed      ChangeKind = "removed"
	AdminGranted ChangeKind = "admin-granted"
	AdminRevoked ChangeKind = "admin-revoked"
	SSHGranted   ChangeKind = "ssh-granted"
	SSHRevoked   ChangeKind = "ssh-revoked"
)

// Change is one roster difference
type Change struct {
	Kind     ChangeKind `json:"kind" yaml:"kind"`
	Username string     `json:"username" yaml:"username"`
}

// Diff compares two rosters by username. Changes for users present in cur
// come first in cur's order, followed by removals in prev's order.
func Diff(prev, cur []dto.User) []Change {
	before := lo.KeyBy(prev, func(u dto.User) string { return u.Username })
	after := lo.KeyBy(cur, func(u dto.User) string { return u.Username })

	var changes []Change
	for _, u := range cur {
		old, ok := before[u.Username]
		if !ok {
			changes = append(changes, Change{Added, u.Username})
			continue
		}
		if kind, changed := flip(old.IsAdmin, u.IsAdmin, AdminGranted, AdminRevoked); changed {
			changes = append(changes, Change{kind, u.Username})
		}
		if kind, changed := flip(old.HasSSH, u.HasSSH, SSHGranted, SSHRevoked); changed {
			changes = append(changes, Change{kind, u.Username})
		}
	}
	for _, u := range prev {
		if _, ok := after[u.Username]; !ok {
			changes = append(changes, Change{Removed, u.Username})
		}
	}
	return changes
}

// Compare sets r.Changes against the previous roster prev. Users of prev
// outside opts, or whose lookup failed in this audit, are not reported as
// removed.
func (r *Report) Compare(prev []dto.User, opts accounts.ListOptions) {
	unresolved := lo.SliceToMap(r.Unresolved, func(name string) (string, bool) { return name, true })
	inScope := lo.Filter(prev, func(u dto.User, _ int) bool {
		return !unresolved[u.Username] && opts.Match(u.ToUser())
	})
	r.Changes = Diff(inScope, r.Users)
}

func flip(was, is bool, granted, revoked ChangeKind) (ChangeKind, bool) {
	switch {
	case !was && is:
		return granted, true
	case was && !is:
		return revoked, true
	default:
		return "", false
	}
}
