package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestResolveBindConflict(t *testing.T) {
	other := "9002"
	same := "9001"

	if err := resolveBindConflict(&same, "9001"); err != nil {
		t.Fatalf("rebinding the same deal must be idempotent, got %v", err)
	}

	err := resolveBindConflict(&other, "9001")
	if !errors.Is(err, ErrDuplicateDealBinding) {
		t.Fatalf("err = %v, want ErrDuplicateDealBinding", err)
	}

	if err := resolveBindConflict(nil, "9001"); err == nil {
		t.Fatalf("empty binding after conditional update must be an error")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, true},
		{"deadlock", &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, true},
		{"unique violation", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"wrapped domain error", fmt.Errorf("bind deal id: %w", ErrOrderNotFound), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", fmt.Errorf("query: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
