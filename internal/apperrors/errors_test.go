package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("edit message: %w", ErrNotAuthor)
	if got := KindOf(err); got != KindForbidden {
		t.Fatalf("expected forbidden, got %s", got)
	}
	if !errors.Is(err, ErrNotAuthor) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if KindOf(context.DeadlineExceeded) != KindTransient {
		t.Fatalf("deadline should be transient")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("plain error should be internal")
	}
}

func TestTransientKeepsClassifiedErrors(t *testing.T) {
	if got := Transient(ErrThreadNotFound); !errors.Is(got, ErrThreadNotFound) {
		t.Fatalf("classified error should pass through, got %v", got)
	}
	raw := errors.New("connection refused")
	got := Transient(raw)
	if KindOf(got) != KindTransient || !errors.Is(got, raw) {
		t.Fatalf("expected transient wrapping of raw error, got %v", got)
	}
}

func TestToWireHidesStoreDetail(t *testing.T) {
	w := ToWire(Transient(errors.New("dial tcp 10.0.0.3:27017: refused")))
	if w.Kind != KindTransient || w.Message != "temporarily unavailable, retry later" {
		t.Fatalf("unexpected wire error %+v", w)
	}
	w = ToWire(ErrNotParticipant)
	if w.Kind != KindUnauthorized || w.Message != ErrNotParticipant.Message {
		t.Fatalf("unexpected wire error %+v", w)
	}
	if HTTPStatus(w.Kind) != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", HTTPStatus(w.Kind))
	}
}
