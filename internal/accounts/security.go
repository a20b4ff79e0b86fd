// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package accounts

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"macusers/internal/runner"
)

const (
	secureTokenEnabled = "Secure token is ENABLED"
	volumeOwnerLabel   = "Volume Owner:"
	cryptoUserPrefix   = "+--"
)

// memo holds one tool answer for the life of its cache. Context
// cancellations are not remembered so a later caller can retry.
type memo struct {
	mu     sync.Mutex
	done   bool
	result runner.Result
	err    error
}

func (m *memo) get(fetch func() (runner.Result, error)) (runner.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return m.result, m.err
	}

	res, err := fetch()
	if err != nil && isContextError(err) {
		return res, err
	}
	m.result, m.err, m.done = res, err, true
	return res, err
}

type listCache struct {
	volumes   memo
	fileVault memo

	volumeWarning    sync.Once
	fileVaultWarning sync.Once

	mu       sync.Mutex
	warnings []string
}

func newListCache() *listCache {
	return &listCache{}
}

func (c *listCache) addWarning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, msg)
}

// Warnings returns the attribute lookups that fell back to a default
// since the last Reset, one entry per attribute.
func (d *Directory) Warnings() []string {
	cache := d.cache.Load()
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return append([]string(nil), cache.warnings...)
}

// VolumeOwner reports whether the crypto user generatedUID owns the boot
// volume. When the volume cannot be listed the answer is false, with one
// warning per cache.
func (d *Directory) VolumeOwner(ctx context.Context, generatedUID string) (bool, error) {
	cache := d.cache.Load()
	res, err := cache.volumes.get(func() (runner.Result, error) {
		return d.run(ctx, d.tools.Diskutil, "apfs", "listUsers", "/")
	})
	if err == nil && res.ExitCode != 0 {
		err = classifyFailure(d.tools.Diskutil, res)
	}
	if err != nil {
		if isContextError(err) {
			return false, err
		}
		cache.volumeWarning.Do(func() {
			d.logger.WithError(err).Warn("Volume ownership unavailable; reporting it as false")
			cache.addWarning(fmt.Sprintf("volume ownership unavailable (%s): %v", runner.KindName(err), err))
		})
		return false, nil
	}
	return isVolumeOwner(res.Stdout, generatedUID), nil
}

// FileVault reports whether username may unlock the FileVault volume.
// Without root privilege, or when fdesetup fails, the answer is Unknown
// and no error is returned.
func (d *Directory) FileVault(ctx context.Context, username string) (TriState, error) {
	cache := d.cache.Load()
	res, err := cache.fileVault.get(func() (runner.Result, error) {
		return d.run(ctx, d.tools.Fdesetup, "list")
	})
	if err == nil && needsPrivilege(res) {
		err = runner.NewToolError(toolName(d.tools.Fdesetup), runner.ErrPermissionDenied, strings.TrimSpace(res.Combined()))
	} else if err == nil && res.ExitCode != 0 {
		err = classifyFailure(d.tools.Fdesetup, res)
	}
	if err != nil {
		if isContextError(err) {
			return Unknown, err
		}
		d.warnFileVault(cache, err)
		return Unknown, nil
	}
	return Bool(fileVaultEnabled(res.Stdout, username)), nil
}

// SecureToken reports whether username holds a secure token
func (d *Directory) SecureToken(ctx context.Context, username string) (bool, error) {
	res, err := d.run(ctx, d.tools.Sysadminctl, "-secureTokenStatus", username)
	if err != nil {
		return false, err
	}
	// sysadminctl prints its verdict on stderr
	if strings.Contains(res.Combined(), secureTokenEnabled) {
		return true, nil
	}
	if res.ExitCode != 0 {
		return false, classifyFailure(d.tools.Sysadminctl, res)
	}
	return false, nil
}

func (d *Directory) warnFileVault(cache *listCache, err error) {
	cache.fileVaultWarning.Do(func() {
		if errors.Is(err, runner.ErrPermissionDenied) {
			d.logger.Warn("FileVault status requires root privileges; reporting it as unknown")
			cache.addWarning("FileVault status requires root privileges")
			return
		}
		d.logger.WithError(err).Warn("FileVault status unavailable; reporting it as unknown")
		cache.addWarning(fmt.Sprintf("FileVault status unavailable (%s): %v", runner.KindName(err), err))
	})
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// fileVaultEnabled scans "user,UUID" lines printed by fdesetup list
func fileVaultEnabled(out, username string) bool {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		name, _, _ := strings.Cut(scanner.Text(), ",")
		if strings.TrimSpace(name) == username {
			return true
		}
	}
	return false
}

// isVolumeOwner looks up the block of generatedUID in diskutil apfs
// listUsers output. Listings without any "Volume Owner" lines predate
// the field, so presence of the UUID counts as ownership there.
func isVolumeOwner(out, generatedUID string) bool {
	guid := strings.ToUpper(strings.TrimSpace(generatedUID))
	if guid == "" {
		return false
	}

	seen := make(map[string]bool)
	owners := make(map[string]bool)
	hasOwnerField := false
	current := ""

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, cryptoUserPrefix) {
			current = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, cryptoUserPrefix)))
			seen[current] = true
			continue
		}

		body := strings.TrimSpace(strings.TrimLeft(line, "|"))
		if current == "" || !strings.HasPrefix(body, volumeOwnerLabel) {
			continue
		}
		hasOwnerField = true
		value := strings.TrimSpace(strings.TrimPrefix(body, volumeOwnerLabel))
		owners[current] = strings.EqualFold(value, "yes")
	}

	if hasOwnerField {
		return owners[guid]
	}
	return seen[guid]
}
