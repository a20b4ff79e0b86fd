// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"

	"macusers/internal/accounts"
	"macusers/internal/audit"
	"macusers/internal/db"
	"macusers/internal/dto"
)

// Output formats
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// encode writes v as JSON or YAML
func encode(w io.Writer, v any, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return nil
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeUsers(w io.Writer, users []accounts.User, format string) error {
	if format != formatTable {
		return encode(w, dto.FromUsers(users), format)
	}

	if len(users) == 0 {
		fmt.Fprintln(w, "No users found")
		return nil
	}

	data := pterm.TableData{{"USER", "UID", "GID", "ADMIN", "SSH", "VOLUME OWNER", "FILEVAULT", "SECURE TOKEN", "PASSWORD SET"}}
	now := time.Now()
	for _, u := range users {
		data = append(data, []string{
			u.Username,
			strconv.Itoa(u.UID),
			strconv.Itoa(u.GID),
			yesNo(u.IsAdmin),
			yesNo(u.HasSSH),
			yesNo(u.IsVolumeOwner),
			u.FileVault.String(),
			yesNo(u.HasSecureToken),
			age(u.PasswordLastSet, now),
		})
	}
	return renderTable(w, data)
}

func writeUser(w io.Writer, u accounts.User, format string) error {
	if format != formatTable {
		return encode(w, dto.FromUser(u), format)
	}

	data := pterm.TableData{{"FIELD", "VALUE"}}
	for _, f := range dto.Fields(u) {
		value := f.Value
		if value == "" {
			value = "-"
		}
		data = append(data, []string{f.Name, value})
	}
	return renderTable(w, data)
}

// writeFields prints every field of u as "name: value", absent values included
func writeFields(w io.Writer, u accounts.User) error {
	for _, f := range dto.Fields(u) {
		if _, err := fmt.Fprintf(w, "%s: %s\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	return nil
}

func writeSessions(w io.Writer, sessions []accounts.Session, now time.Time) error {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No active sessions")
		return nil
	}

	data := pterm.TableData{{"USER", "TERMINAL", "HOST", "STARTED"}}
	for _, s := range sessions {
		host := s.Host
		if host == "" {
			host = "local"
		}
		data = append(data, []string{s.Username, s.Terminal, host, age(s.Started, now)})
	}
	return renderTable(w, data)
}

func writeReport(w io.Writer, report *audit.Report, format string) error {
	if format == formatTable {
		return fmt.Errorf("audit output must be json or yaml")
	}
	return encode(w, report, format)
}

func writeHistory(w io.Writer, snapshots []db.Summary, now time.Time) error {
	if len(snapshots) == 0 {
		fmt.Fprintln(w, "No snapshots stored")
		return nil
	}

	data := pterm.TableData{{"ID", "TAKEN", "HOST", "CONSOLE", "USERS", "ADMINS"}}
	for _, s := range snapshots {
		data = append(data, []string{
			s.ID,
			fmt.Sprintf("%s (%s)", s.TakenAt.Local().Format("2006-01-02 15:04"), humanize.RelTime(s.TakenAt, now, "ago", "from now")),
			s.Hostname,
			s.Console,
			strconv.Itoa(s.UserCount),
			strconv.Itoa(s.Admins),
		})
	}
	return renderTable(w, data)
}

func renderTable(w io.Writer, data pterm.TableData) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// age renders t relative to now, or "-" when t is unset
func age(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
