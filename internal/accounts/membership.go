// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"context"
	"strconv"
	"strings"
)

// memberPhrase is printed by dsmemberutil for members only;
// non-members get "user is not a member of the group".
const memberPhrase = "user is a member of the group"

// IsMember reports whether uid belongs to group
func (d *Directory) IsMember(ctx context.Context, uid int, group string) (bool, error) {
	res, err := d.run(ctx, d.tools.Dsmemberutil, "checkmembership", "-u", strconv.Itoa(uid), "-G", group)
	if err != nil {
		return false, err
	}
	return isMemberOutput(res.Stdout), nil
}

// IsAdmin reports membership in the admin group
func (d *Directory) IsAdmin(ctx context.Context, uid int) (bool, error) {
	return d.IsMember(ctx, uid, GroupAdmin)
}

// HasSSH reports membership in the SSH access group
func (d *Directory) HasSSH(ctx context.Context, uid int) (bool, error) {
	return d.IsMember(ctx, uid, GroupSSH)
}

func isMemberOutput(out string) bool {
	return strings.Contains(out, memberPhrase)
}
