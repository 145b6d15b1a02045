package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
)

func TestHTTPClientRetriesGetOnUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("X-Connection-ID") != "c1" {
			t.Errorf("missing auth or connection headers: %v", r.Header)
		}
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"error","error":{"kind":"transient","message":"store unavailable"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","data":[{"id":"m1","thread_id":"t1","sender_id":"a","receiver_id":"b","created_at":"2024-01-01T00:00:00Z","is_read":false,"edited":false,"deleted":false}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, 5*time.Second)
	c.SetToken("tok")
	c.SetConnectionID("c1")
	msgs, err := c.ListMessages(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("got %d msgs after %d calls", len(msgs), calls)
	}
}

func TestHTTPClientDoesNotRetryWrites(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error","error":{"kind":"transient","message":"store unavailable"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, 5*time.Second)
	_, err := c.SendMessage(context.Background(), "t1", SendRequest{Text: "hi"})
	if apperrors.KindOf(err) != apperrors.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("write was sent %d times", n)
	}
}

func TestHTTPClientMapsClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"error","error":{"kind":"forbidden","message":"only the sender may modify this message"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, time.Second)
	_, err := c.EditMessage(context.Background(), "m1", "x")
	if apperrors.KindOf(err) != apperrors.KindForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
