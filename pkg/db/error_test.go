package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: gorm.ErrDuplicatedKey, want: true},
		{err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{err: errors.New("UNIQUE constraint failed: suppression_entries.org_id, suppression_entries.email"), want: true},
		{err: errors.New("syntax error"), want: false},
	}
	for _, tc := range cases {
		if got := IsDuplicateKeyErr(tc.err); got != tc.want {
			t.Fatalf("IsDuplicateKeyErr(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsUnavailableErr(t *testing.T) {
	if !IsUnavailableErr(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")) {
		t.Fatalf("expected connection refused to be unavailable")
	}
	if !IsUnavailableErr(gorm.ErrInvalidDB) {
		t.Fatalf("expected invalid db to be unavailable")
	}
	if IsUnavailableErr(gorm.ErrRecordNotFound) {
		t.Fatalf("record not found is not an availability problem")
	}
}
