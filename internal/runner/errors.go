// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package runner

import (
	"errors"
	"fmt"
)

// Error kinds reported by every external tool call site.
var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrToolUnavailable  = errors.New("tool unavailable")
)

// ToolError ties an error kind to the tool that produced it
type ToolError struct {
	Tool   string
	Kind   error
	Detail string // trimmed stderr or other diagnostic, may be empty
}

// NewToolError creates a ToolError for the given tool and kind
func NewToolError(tool string, kind error, detail string) *ToolError {
	return &ToolError{Tool: tool, Kind: kind, Detail: detail}
}

func (e *ToolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Kind, e.Detail)
}

// Unwrap exposes the kind so callers can use errors.Is
func (e *ToolError) Unwrap() error {
	return e.Kind
}

// KindName returns a short name for the error kind carried by err,
// "ok" for nil and "error" for anything unclassified.
func KindName(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission-denied"
	case errors.Is(err, ErrToolUnavailable):
		return "tool-unavailable"
	default:
		return "error"
	}
}
