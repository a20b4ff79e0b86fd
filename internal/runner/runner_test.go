// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExec(timeout time.Duration) *Exec {
	logger, _ := test.NewNullLogger()
	return NewExec(timeout, logger)
}

func TestRunCapturesStdout(t *testing.T) {
	e := newTestExec(5 * time.Second)

	result, err := e.Run(context.Background(), "echo", "hello")

	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunReportsExitCodeWithoutError(t *testing.T) {
	e := newTestExec(5 * time.Second)

	result, err := e.Run(context.Background(), "sh", "-c", "echo oops >&2; exit 3")

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestRunMissingBinaryIsToolUnavailable(t *testing.T) {
	e := newTestExec(5 * time.Second)

	for _, name := range []string{"macusers-no-such-tool", "/nonexistent/macusers-tool"} {
		_, err := e.Run(context.Background(), name)

		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrToolUnavailable), "%s: %v", name, err)

		var toolErr *ToolError
		require.True(t, errors.As(err, &toolErr))
		assert.NotEmpty(t, toolErr.Tool)
	}
}

func TestRunTimeout(t *testing.T) {
	e := newTestExec(50 * time.Millisecond)

	_, err := e.Run(context.Background(), "sleep", "5")

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestNewExecDefaults(t *testing.T) {
	e := NewExec(0, nil)

	assert.Equal(t, DefaultTimeout, e.Timeout)
	assert.NotNil(t, e.Logger)
}

func TestCombined(t *testing.T) {
	assert.Equal(t, "out", Result{Stdout: "out"}.Combined())
	assert.Equal(t, "err", Result{Stderr: "err"}.Combined())
	assert.Equal(t, "out\nerr", Result{Stdout: "out", Stderr: "err"}.Combined())
}

func TestToolErrorKinds(t *testing.T) {
	err := NewToolError("dscl", ErrNotFound, "eDSRecordNotFound")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrPermissionDenied))
	assert.Equal(t, "dscl: not found: eDSRecordNotFound", err.Error())
	assert.Equal(t, "dscl: tool unavailable", NewToolError("dscl", ErrToolUnavailable, "").Error())
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "ok", KindName(nil))
	assert.Equal(t, "not-found", KindName(NewToolError("dscl", ErrNotFound, "")))
	assert.Equal(t, "permission-denied", KindName(NewToolError("fdesetup", ErrPermissionDenied, "")))
	assert.Equal(t, "tool-unavailable", KindName(NewToolError("diskutil", ErrToolUnavailable, "")))
	assert.Equal(t, "error", KindName(errors.New("boom")))
}
