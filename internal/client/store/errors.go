package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrStorageFull is returned by every write once the device ran out of
	// space, until ResumeWrites succeeds.
	ErrStorageFull = errors.New("local storage full")

	// ErrStorageCorrupt means the database can no longer be trusted and has
	// to be rebuilt from the remote.
	ErrStorageCorrupt = errors.New("local storage corrupt")
)

// classify maps SQLite failures onto the store's sentinel errors. Other
// errors are returned unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrStorageFull) || errors.Is(err, ErrStorageCorrupt) {
		return err
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_FULL:
			return fmt.Errorf("%w: %w", ErrStorageFull, err)
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return fmt.Errorf("%w: %w", ErrStorageCorrupt, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database or disk is full"), strings.Contains(msg, "disk is full"):
		return fmt.Errorf("%w: %w", ErrStorageFull, err)
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "file is not a database"):
		return fmt.Errorf("%w: %w", ErrStorageCorrupt, err)
	}
	return err
}
