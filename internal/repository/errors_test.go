package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestMapMySQLError(t *testing.T) {
	t.Run("duplicate entry maps to concurrency conflict", func(t *testing.T) {
		err := mapMySQLError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a-1-3' for key 'uq_aggregate_version'"})
		require.ErrorIs(t, err, ErrConcurrencyConflict)
	})

	t.Run("trigger signal maps to immutability violation", func(t *testing.T) {
		err := mapMySQLError(&mysql.MySQLError{Number: 1644, Message: "events are append-only"})
		require.ErrorIs(t, err, ErrImmutabilityViolation)
	})

	t.Run("wrapped driver errors are unwrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("insert event: %w", &mysql.MySQLError{Number: 1644})
		require.ErrorIs(t, mapMySQLError(wrapped), ErrImmutabilityViolation)
	})

	t.Run("other driver errors pass through", func(t *testing.T) {
		orig := &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}
		err := mapMySQLError(orig)
		require.NotErrorIs(t, err, ErrConcurrencyConflict)
		require.NotErrorIs(t, err, ErrImmutabilityViolation)
		require.ErrorIs(t, err, orig)
	})

	t.Run("non-driver errors pass through", func(t *testing.T) {
		orig := errors.New("connection reset")
		require.Equal(t, orig, mapMySQLError(orig))
	})
}
