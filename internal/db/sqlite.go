// Copyright (c) 2025 Binadox (https://binadox.com)
// This software is licensed under the zlib license. See LICENSE file for details.

package db

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection with WAL mode support and copy fallback
type DB struct {
	db       *sql.DB
	path     string
	tempCopy string // non-empty if we're using a temp copy
}

// Open opens the snapshot database for writing, creating it and its schema if needed
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := connect(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: sqlite allows a single writer
	db.SetMaxOpenConns(1)

	d := &DB{db: db, path: dbPath}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// OpenReadOnly opens an existing database read-only, falling back to a temp
// copy when the file is locked by a running audit
func OpenReadOnly(dbPath string) (*DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// First try to open directly with WAL mode
	db, err := openWithWAL(dbPath)
	if err == nil {
		return &DB{db: db, path: dbPath}, nil
	}

	// If that failed (likely locked), copy to temp and open the copy
	tempPath, err := copyToTemp(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to copy database to temp: %w", err)
	}

	db, err = openWithWAL(tempPath)
	if err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("failed to open temp copy: %w", err)
	}

	return &DB{db: db, path: dbPath, tempCopy: tempPath}, nil
}

// openWithWAL opens a SQLite database read-only
func openWithWAL(dbPath string) (*sql.DB, error) {
	return connect(fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", dbPath))
}

func connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// copyToTemp copies the database file to a temporary location
func copyToTemp(dbPath string) (string, error) {
	ext := filepath.Ext(dbPath)
	if ext == "" {
		ext = ".db"
	}

	tempFile, err := os.CreateTemp("", "macusers_*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	src, err := os.Open(dbPath)
	if err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	_, err = io.Copy(tempFile, src)
	tempFile.Close()
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to copy: %w", err)
	}

	// The WAL holds snapshots not yet checkpointed into the main file
	copyIfExists(dbPath+"-wal", tempPath+"-wal")
	copyIfExists(dbPath+"-shm", tempPath+"-shm")

	return tempPath, nil
}

// copyIfExists copies a file if it exists, ignoring errors
func copyIfExists(src, dst string) {
	srcFile, err := os.Open(src)
	if err != nil {
		return
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return
	}
	defer dstFile.Close()

	io.Copy(dstFile, srcFile)
}

// Close closes the database and cleans up any temp files
func (d *DB) Close() error {
	err := d.db.Close()
	d.removeTemp()
	return err
}

func (d *DB) removeTemp() {
	if d.tempCopy == "" {
		return
	}
	os.Remove(d.tempCopy)
	os.Remove(d.tempCopy + "-wal")
	os.Remove(d.tempCopy + "-shm")
}

// Path returns the original database path
func (d *DB) Path() string {
	return d.path
}

// IsTempCopy returns true if we're using a temporary copy
func (d *DB) IsTempCopy() bool {
	return d.tempCopy != ""
}
