package postgres

import (
	"errors"
	"testing"

	"qline/admission-service/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestRetryableTxError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"sentinel", store.ErrInsufficientStock, false},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
	}

	for _, tt := range cases {
		if got := retryableTxError(tt.err); got != tt.retryable {
			t.Fatalf("%s: retryableTxError=%v, want %v", tt.name, got, tt.retryable)
		}
	}
}

func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Fatal("expected nil for empty string")
	}
	if nullIfEmpty("abc") != "abc" {
		t.Fatal("expected value passthrough")
	}
}
