package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPgErrorClassification(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("session.postgres.Rotate: %w", &pgconn.PgError{Code: code})
	}
	testCases := []struct {
		name          string
		err           error
		serialization bool
		unique        bool
	}{
		{"serialization", wrap(pgerrcode.SerializationFailure), true, false},
		{"deadlock", wrap(pgerrcode.DeadlockDetected), true, false},
		{"unique", wrap(pgerrcode.UniqueViolation), false, true},
		{"other pg", wrap(pgerrcode.UndefinedTable), false, false},
		{"plain", errors.New("boom"), false, false},
		{"nil", nil, false, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsSerializationFailure(tc.err); got != tc.serialization {
				t.Errorf("IsSerializationFailure = %v, want %v", got, tc.serialization)
			}
			if got := IsUniqueViolation(tc.err); got != tc.unique {
				t.Errorf("IsUniqueViolation = %v, want %v", got, tc.unique)
			}
		})
	}
}
