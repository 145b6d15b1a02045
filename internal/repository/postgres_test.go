package repository

import (
	"context"
	"os"
	"testing"
	"time"
)

// POSTGRES_DSN must point at a disposable database; tables are truncated.
func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set; skipping postgres integration test")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, PostgresOptions{MaxOpenConns: 5, MaxIdleConns: 1, OpTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	if _, err := s.db.ExecContext(ctx, `TRUNCATE messages, threads, users`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	runStoreContract(t, s)
}
