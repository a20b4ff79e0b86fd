// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"macusers/internal/config"
)

// Rotation limits for file logs
const (
	maxSizeMB  = 10
	maxBackups = 3
	maxAgeDays = 28
)

// New builds the logger described by cfg.
// An empty log_file discards output, "STDERR" writes to stderr and any
// other value is a path to a rotated log file. The returned closer
// releases the file and is safe to call when no file is open.
func New(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	var closer io.Closer = nopCloser{}
	switch {
	case cfg.LogFile == "":
		logger.SetOutput(io.Discard)
	case strings.EqualFold(cfg.LogFile, "STDERR"):
		logger.SetOutput(os.Stderr)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		w := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
		}
		logger.SetOutput(w)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
		closer = w
	}

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
