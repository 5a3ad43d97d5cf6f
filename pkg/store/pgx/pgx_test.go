package pgx

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/OFFIS-RIT/kiwi/rag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/storetest"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// TestStorage runs the conformance suite against PGX_TEST_URL. Every
// subtest starts from freshly migrated tables.
func TestStorage(t *testing.T) {
	url := os.Getenv("PGX_TEST_URL")
	if url == "" {
		t.Skip("PGX_TEST_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Storage {
		require.NoError(t, MigrateDown(url))
		require.NoError(t, Migrate(url))
		s, err := Open(context.Background(), url)
		require.NoError(t, err)
		return s
	})
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, common.IsConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, common.IsNotFound},
		{"serialization", &pgconn.PgError{Code: "40001"}, common.IsTransient},
		{"connection", &pgconn.PgError{Code: "08006"}, common.IsTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapErr("op", tt.err); !tt.check(got) {
				t.Fatalf("mapErr(%v) = %v, wrong kind", tt.err, got)
			}
		})
	}

	plain := errors.New("boom")
	if got := mapErr("op", plain); !errors.Is(got, plain) || common.IsTransient(got) {
		t.Fatalf("plain error should be wrapped untouched, got %v", got)
	}
	if mapErr("op", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_a\b`); got != `50\%\_a\\b` {
		t.Fatalf("escapeLike = %q", got)
	}
}
