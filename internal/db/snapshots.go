// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"macusers/internal/dto"
)

// ErrSnapshotNotFound is returned by Get for an unknown snapshot id
var ErrSnapshotNotFound = errors.New("snapshot not found")

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id       TEXT PRIMARY KEY,
	taken_at INTEGER NOT NULL,
	hostname TEXT NOT NULL,
	console  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_taken_at ON snapshots(taken_at);
CREATE TABLE IF NOT EXISTS snapshot_users (
	snapshot_id       TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	position          INTEGER NOT NULL,
	username          TEXT NOT NULL,
	real_name         TEXT NOT NULL,
	uid               INTEGER NOT NULL,
	gid               INTEGER NOT NULL,
	generated_uid     TEXT NOT NULL,
	home              TEXT NOT NULL,
	shell             TEXT NOT NULL,
	is_admin          INTEGER NOT NULL,
	has_ssh           INTEGER NOT NULL,
	volume_owner      INTEGER NOT NULL,
	filevault         TEXT NOT NULL,
	secure_token      INTEGER NOT NULL,
	created           INTEGER,
	password_last_set INTEGER,
	failed_logins     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (snapshot_id, position)
);
`

// Snapshot is one stored roster
type Snapshot struct {
	ID       string     `json:"id" yaml:"id"`
	TakenAt  time.Time  `json:"takenAt" yaml:"taken_at"`
	Hostname string     `json:"hostname" yaml:"hostname"`
	Console  string     `json:"console" yaml:"console"`
	Users    []dto.User `json:"users" yaml:"users"`
}

// Summary describes a stored snapshot without its users
type Summary struct {
	ID        string
	TakenAt   time.Time
	Hostname  string
	Console   string
	UserCount int
	Admins    int
}

func (d *DB) migrate() error {
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save stores s in a single transaction and returns its id.
// An empty s.ID is replaced by a fresh UUID.
func (d *DB) Save(ctx context.Context, s Snapshot) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, taken_at, hostname, console) VALUES (?, ?, ?, ?)`,
		s.ID, s.TakenAt.UnixMilli(), s.Hostname, s.Console,
	); err != nil {
		return "", fmt.Errorf("failed to insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_users (
		snapshot_id, position, username, real_name, uid, gid, generated_uid, home, shell,
		is_admin, has_ssh, volume_owner, filevault, secure_token, created, password_last_set,
		failed_logins
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare user insert: %w", err)
	}
	defer stmt.Close()

	for i, u := range s.Users {
		if _, err := stmt.ExecContext(ctx,
			s.ID, i, u.Username, u.RealName, u.UID, u.GID, u.GeneratedUID, u.HomeDir, u.Shell,
			u.IsAdmin, u.HasSSH, u.IsVolumeOwner, u.FileVault, u.HasSecureToken,
			millis(u.Created), millis(u.PasswordLastSet), u.FailedLogins,
		); err != nil {
			return "", fmt.Errorf("failed to insert user %s: %w", u.Username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return s.ID, nil
}

// Latest returns the most recent snapshot, or nil when none is stored
func (d *DB) Latest(ctx context.Context) (*Snapshot, error) {
	var id string
	err := d.db.QueryRowContext(ctx,
		`SELECT id FROM snapshots ORDER BY taken_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	return d.Get(ctx, id)
}

// Get returns the snapshot with the given id
func (d *DB) Get(ctx context.Context, id string) (*Snapshot, error) {
	s := &Snapshot{ID: id}
	var takenAt int64
	err := d.db.QueryRowContext(ctx,
		`SELECT taken_at, hostname, console FROM snapshots WHERE id = ?`, id,
	).Scan(&takenAt, &s.Hostname, &s.Console)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot %s: %w", id, err)
	}
	s.TakenAt = time.UnixMilli(takenAt).UTC()

	rows, err := d.db.QueryContext(ctx, `SELECT
		username, real_name, uid, gid, generated_uid, home, shell,
		is_admin, has_ssh, volume_owner, filevault, secure_token, created, password_last_set,
		failed_logins
		FROM snapshot_users WHERE snapshot_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot users: %w", err)
	}
	defer rows.Close()

	s.Users = []dto.User{}
	for rows.Next() {
		var u dto.User
		var created, pwdSet sql.NullInt64
		if err := rows.Scan(
			&u.Username, &u.RealName, &u.UID, &u.GID, &u.GeneratedUID, &u.HomeDir, &u.Shell,
			&u.IsAdmin, &u.HasSSH, &u.IsVolumeOwner, &u.FileVault, &u.HasSecureToken,
			&created, &pwdSet, &u.FailedLogins,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot user: %w", err)
		}
		u.Created = fromMillis(created)
		u.PasswordLastSet = fromMillis(pwdSet)
		s.Users = append(s.Users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot users: %w", err)
	}
	return s, nil
}

// List returns up to limit snapshot summaries, newest first.
// A limit <= 0 returns every snapshot.
func (d *DB) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `SELECT s.id, s.taken_at, s.hostname, s.console,
		COUNT(u.position), COALESCE(SUM(u.is_admin), 0)
		FROM snapshots s LEFT JOIN snapshot_users u ON u.snapshot_id = s.id
		GROUP BY s.id
		ORDER BY s.taken_at DESC, s.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var takenAt int64
		if err := rows.Scan(&s.ID, &takenAt, &s.Hostname, &s.Console, &s.UserCount, &s.Admins); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.TakenAt = time.UnixMilli(takenAt).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return out, nil
}

func millis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
