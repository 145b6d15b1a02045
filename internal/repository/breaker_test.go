package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type flakyStore struct {
	*MemoryStore
	err   error
	calls int
}

func (f *flakyStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.MemoryStore.GetThread(ctx, id)
}

func TestBreakerTripsOnStoreFailures(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), err: errors.New("connection reset")}
	b := NewBreakerStore(inner, BreakerSettings{MaxRequests: 1, Timeout: time.Hour, FailureThreshold: 3}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := b.GetThread(context.Background(), "t"); err == nil {
			t.Fatalf("expected failure")
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", b.State())
	}
	_, err := b.GetThread(context.Background(), "t")
	if apperrors.KindOf(err) != apperrors.KindTransient {
		t.Fatalf("expected transient error while open, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("open breaker should not reach the store, calls=%d", inner.calls)
	}
}

func TestBreakerIgnoresNotFound(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	b := NewBreakerStore(inner, BreakerSettings{Timeout: time.Hour, FailureThreshold: 2}, zap.NewNop())
	for i := 0; i < 5; i++ {
		if _, err := b.GetThread(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Fatalf("not found must not trip the breaker")
	}
}
