// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"
)

// Session is one active login recorded in utmpx
type Session struct {
	Username string
	Terminal string
	Host     string
	Started  time.Time
}

// Sessions lists active login sessions, oldest first.
// A missing utmpx database yields no sessions.
func (d *Directory) Sessions(ctx context.Context) ([]Session, error) {
	stats, err := d.sessions(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]Session, 0, len(stats))
	for _, s := range stats {
		if s.User == "" {
			continue
		}
		sessions = append(sessions, Session{
			Username: s.User,
			Terminal: s.Terminal,
			Host:     s.Host,
			Started:  time.Unix(int64(s.Started), 0),
		})
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Started.Before(sessions[j].Started)
	})
	return sessions, nil
}
