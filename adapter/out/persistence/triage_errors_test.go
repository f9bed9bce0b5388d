package persistence

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "unique violation",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "idx_messages_text_hash"},
			want: true,
		},
		{
			name: "wrapped unique violation",
			err:  fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}),
			want: true,
		},
		{
			name: "other pg error",
			err:  &pgconn.PgError{Code: "23503"},
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("connection refused"),
			want: false,
		},
		{
			name: "nil",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %t, want %t", tt.err, got, tt.want)
			}
		})
	}
}

// Two concurrent ingestions with different external ids but identical content
// both pass the NOT EXISTS check under READ COMMITTED; only a unique index on
// the fingerprint makes the second insert fail as a duplicate.
func TestMigrationFingerprintIndexIsUnique(t *testing.T) {
	var indexStmt string
	for _, stmt := range migrations {
		if strings.Contains(stmt, "idx_messages_text_hash") {
			indexStmt = stmt
			break
		}
	}
	if indexStmt == "" {
		t.Fatal("fingerprint index missing from migrations")
	}
	if !strings.Contains(indexStmt, "CREATE UNIQUE INDEX") {
		t.Errorf("fingerprint index is not unique: %s", indexStmt)
	}
}

func TestMigrationExternalIDIsUnique(t *testing.T) {
	for _, stmt := range migrations {
		if strings.Contains(stmt, "external_id   TEXT NOT NULL UNIQUE") {
			return
		}
	}
	t.Error("messages.external_id lost its unique constraint")
}
