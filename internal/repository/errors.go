package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrConcurrencyConflict means the expected aggregate version no longer
	// matches the durable log. Recoverable: reload the aggregate and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict: aggregate version mismatch")

	// ErrImmutabilityViolation means something attempted to update or delete
	// a committed event. Programming error, never retried.
	ErrImmutabilityViolation = errors.New("immutability violation: committed events are read-only")

	// ErrCommandInFlight means the command id is already PENDING and the
	// staleness window has not elapsed.
	ErrCommandInFlight = errors.New("command already in flight")

	// ErrStaleCheckpoint means the submitted position is lower than the
	// stored one; the stored value is left unchanged.
	ErrStaleCheckpoint = errors.New("stale checkpoint position")

	// ErrNotFound is returned by point lookups that matched no row.
	ErrNotFound = errors.New("not found")
)

const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrSignal         = 1644 // raised by the events immutability triggers
)

// mapMySQLError translates driver errors for the events table into the
// store's sentinel errors.
func mapMySQLError(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case mysqlErrDuplicateEntry:
		// unique (aggregate_id, version) is the safety net behind the
		// locking version check
		return ErrConcurrencyConflict
	case mysqlErrSignal:
		return ErrImmutabilityViolation
	}
	return err
}
