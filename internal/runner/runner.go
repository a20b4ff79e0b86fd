// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single command when no timeout is configured
const DefaultTimeout = 30 * time.Second

// Result holds the captured output of one command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner executes an external command and captures its output.
//
// A non-zero exit status is reported through Result.ExitCode, not as an
// error: several system tools exit non-zero on ordinary answers. An error
// means the command could not run at all.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec runs commands on the local system
type Exec struct {
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

// NewExec creates an Exec with the given per-command timeout
func NewExec(timeout time.Duration, logger logrus.FieldLogger) *Exec {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Exec{Timeout: timeout, Logger: logger}
}

// Run executes name with args and waits for it to finish
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
	}

	e.logger().WithFields(logrus.Fields{
		"tool":      filepath.Base(name),
		"args":      args,
		"exit_code": result.ExitCode,
		"duration":  time.Since(start),
	}).Debug("Command finished")

	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s: %w", filepath.Base(name), ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, nil
	}

	return result, classifyStartError(name, err)
}

func (e *Exec) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// classifyStartError maps a failure to start a process onto an error kind
func classifyStartError(name string, err error) error {
	tool := filepath.Base(name)
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return NewToolError(tool, ErrToolUnavailable, err.Error())
	case errors.Is(err, fs.ErrPermission):
		return NewToolError(tool, ErrPermissionDenied, err.Error())
	default:
		return fmt.Errorf("failed to run %s: %w", tool, err)
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 0
}
