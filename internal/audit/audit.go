// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"macusers/internal/accounts"
	"macusers/internal/db"
	"macusers/internal/dto"
	"macusers/internal/runner"
)

// ExitCode represents the audit exit status
type ExitCode int

const (
	ExitSuccess         ExitCode = 0 // Every listed user resolved
	ExitPartialFailure  ExitCode = 1 // Some users failed
	ExitCompleteFailure ExitCode = 2 // Roster unavailable or nothing resolved
)

// Directory is the part of accounts.Directory an audit needs
type Directory interface {
	ConsoleName(ctx context.Context) (string, error)
	ListNames(ctx context.Context, opts accounts.ListOptions) ([]string, error)
	Lookup(ctx context.Context, username string) (accounts.User, error)
	Warnings() []string
}

// Auditor builds full roster reports
type Auditor struct {
	dir      Directory
	logger   logrus.FieldLogger
	hostname func() (string, error)
	now      func() time.Time
}

// Report contains the results of an audit
type Report struct {
	TakenAt    time.Time  `json:"takenAt" yaml:"taken_at"`
	Hostname   string     `json:"hostname" yaml:"hostname"`
	Console    string     `json:"console" yaml:"console"`
	Users      []dto.User `json:"users" yaml:"users"`
	Changes    []Change   `json:"changes,omitempty" yaml:"changes,omitempty"`
	Unresolved []string   `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Errors     []string   `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings   []string   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	ExitCode   ExitCode   `json:"exitCode" yaml:"exit_code"`

	err error
}

// New creates a new Auditor
func New(dir Directory, logger logrus.FieldLogger) *Auditor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Auditor{
		dir:      dir,
		logger:   logger.WithField("component", "audit"),
		hostname: os.Hostname,
		now:      time.Now,
	}
}

// Run resolves every user of the roster, continuing past per-user failures
func (a *Auditor) Run(ctx context.Context, opts accounts.ListOptions) *Report {
	result := &Report{TakenAt: a.now().UTC(), Users: []dto.User{}}

	a.logger.Info("Starting roster audit")

	if host, err := a.hostname(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("hostname unavailable: %v", err))
	} else {
		result.Hostname = host
	}

	if console, err := a.dir.ConsoleName(ctx); err != nil {
		a.logger.WithError(err).Warn("Could not resolve console user")
		result.Warnings = append(result.Warnings, fmt.Sprintf("console user unavailable: %v", err))
	} else {
		result.Console = console
	}

	names, err := a.dir.ListNames(ctx, opts)
	if err != nil {
		a.logger.WithError(err).Error("Failed to enumerate users")
		result.err = fmt.Errorf("user enumeration failed: %w", err)
		result.Errors = append(result.Errors, result.err.Error())
		result.ExitCode = ExitCompleteFailure
		return result
	}

	if len(names) == 0 {
		a.logger.Warn("No users found")
		result.ExitCode = ExitCompleteFailure
		return result
	}

	a.logger.WithField("count", len(names)).Info("Found users to audit")

	var errs *multierror.Error
	successCount := 0
	failureCount := 0

	for _, name := range names {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, ctx.Err()))
			result.Unresolved = append(result.Unresolved, name)
			failureCount++
			continue
		}

		u, err := a.dir.Lookup(ctx, name)
		if err != nil {
			failureCount++
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
			result.Unresolved = append(result.Unresolved, name)
			a.logger.WithFields(logrus.Fields{"user": name, "kind": runner.KindName(err)}).WithError(err).Error("Failed to resolve user")
			continue
		}

		successCount++
		if !opts.Match(u) {
			continue
		}
		result.Users = append(result.Users, dto.FromUser(u))
	}

	if errs != nil {
		for _, e := range errs.Errors {
			result.Errors = append(result.Errors, fmt.Sprintf("[%s] %v", runner.KindName(e), e))
		}
		result.err = errs.ErrorOrNil()
	}

	result.Warnings = append(result.Warnings, a.dir.Warnings()...)

	// Determine exit code
	if successCount == 0 && failureCount > 0 {
		result.ExitCode = ExitCompleteFailure
	} else if failureCount > 0 {
		result.ExitCode = ExitPartialFailure
	} else {
		result.ExitCode = ExitSuccess
	}

	a.logger.WithFields(logrus.Fields{
		"users":  len(result.Users),
		"errors": len(result.Errors),
	}).Info("Audit complete")

	return result
}

// Err returns the aggregated failures of the audit, or nil
func (r *Report) Err() error {
	return r.err
}

// Failed reports whether err caused the audit to fail for at least one user
func (r *Report) Failed(target error) bool {
	return r.err != nil && errors.Is(r.err, target)
}

// Snapshot converts the report into its stored form
func (r *Report) Snapshot() db.Snapshot {
	return db.Snapshot{
		TakenAt:  r.TakenAt,
		Hostname: r.Hostname,
		Console:  r.Console,
		Users:    r.Users,
	}
}
