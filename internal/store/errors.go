package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// IsTransient reports whether err is retry-eligible: the caller should
// leave entities untouched and try again on the next poll. Anything else
// is permanent and must be surfaced upward.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	// modernc.org/sqlite surfaces lock contention as string-coded errors.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"sqlite_locked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
