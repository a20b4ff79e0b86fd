// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ListNames returns the accounts that declare a usable login shell, in
// listing order. Accounts with the disabled shell or no shell are skipped.
func (d *Directory) ListNames(ctx context.Context, opts ListOptions) ([]string, error) {
	res, err := d.run(ctx, d.tools.Dscl, ".", "-list", "/Users", "UserShell")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, classifyFailure(d.tools.Dscl, res)
	}

	names := parseShellListing(res.Stdout)
	if opts.ExcludeRoot {
		names = lo.Without(names, RootUser)
	}

	d.logger.WithField("count", len(names)).Debug("Listed login accounts")
	return names, nil
}

// List returns the full record of every login account matching opts
func (d *Directory) List(ctx context.Context, opts ListOptions) ([]User, error) {
	names, err := d.ListNames(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]User, 0, len(names))
	for _, name := range names {
		u, err := d.Lookup(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s: %w", name, err)
		}
		users = append(users, u)
	}

	return Filter(users, opts), nil
}

// Admins returns the members of the admin group among the listed accounts
func (d *Directory) Admins(ctx context.Context, opts ListOptions) ([]User, error) {
	users, err := d.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return lo.Filter(users, func(u User, _ int) bool {
		return u.IsAdmin
	}), nil
}

// parseShellListing reads "name shell" lines from dscl -list output
func parseShellListing(out string) []string {
	var names []string

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		shell := strings.Join(fields[1:], " ")
		if shell == DisabledShell {
			continue
		}
		names = append(names, name)
	}

	return names
}
