// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package platform

import (
	"errors"
	"fmt"
	"runtime"
)

// OS represents the operating system type
type OS string

const (
	Linux   OS = "linux"
	Windows OS = "windows"
	Darwin  OS = "darwin"
)

// ErrUnsupported is returned for live queries on hosts without the macOS directory tools
var ErrUnsupported = errors.New("unsupported platform")

// CurrentOS returns the current operating system
func CurrentOS() OS {
	return OS(runtime.GOOS)
}

// IsSupported checks if the current OS is supported
func IsSupported() bool {
	return supported(CurrentOS())
}

// RequireSupported returns ErrUnsupported unless running on macOS
func RequireSupported() error {
	return require(CurrentOS())
}

func supported(os OS) bool {
	return os == Darwin
}

func require(os OS) error {
	if !supported(os) {
		return fmt.Errorf("%w: %s (account queries need macOS)", ErrUnsupported, os)
	}
	return nil
}
