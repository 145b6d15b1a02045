package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/models"
)

func TestDecodeClientFrames(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"join-thread","payload":{"thread_id":"t1"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	join, ok := ev.(JoinThread)
	if !ok || join.ThreadID != "t1" {
		t.Fatalf("unexpected event %#v", ev)
	}

	ev, err = Decode([]byte(`{"type":"notify-send","payload":{"thread_id":"t1","message":{"id":"m1","thread_id":"t1"}}}`))
	if err != nil {
		t.Fatalf("decode notify-send: %v", err)
	}
	if ns := ev.(NotifySend); ns.Message.ID != "m1" {
		t.Fatalf("unexpected message id %q", ns.Message.ID)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	cases := map[string]string{
		"unknown type":       `{"type":"typing","payload":{}}`,
		"missing payload":    `{"type":"join-thread"}`,
		"missing thread":     `{"type":"join-thread","payload":{}}`,
		"malformed":          `{"type":`,
		"foreign message":    `{"type":"notify-send","payload":{"thread_id":"t1","message":{"id":"m1","thread_id":"t2"}}}`,
		"ambiguous read":     `{"type":"message-read","payload":{"thread_id":"t1","reader_id":"u","message_id":"m","thread_wide":true}}`,
		"thread-wide no cut": `{"type":"message-read","payload":{"thread_id":"t1","reader_id":"u","thread_wide":true}}`,
	}
	for name, frame := range cases {
		if _, err := Decode([]byte(frame)); apperrors.KindOf(err) != apperrors.KindValidation {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestEncodeThreadWideRead(t *testing.T) {
	before := time.Now().UTC()
	b, err := Marshal(MessageRead{ThreadID: "t1", ReaderID: "u2", ThreadWide: true, Before: &before})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ev, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	read := ev.(MessageRead)
	if !read.ThreadWide || read.MessageID != "" || !read.Before.Equal(before) {
		t.Fatalf("unexpected read %#v", read)
	}
	if _, err := Encode(MessageCreated{Message: models.Message{ID: "m1"}}); err == nil {
		t.Fatalf("expected validation error for message without thread")
	}
}

func TestErrorFrameCarriesKind(t *testing.T) {
	b, err := Marshal(ErrorEvent(apperrors.ErrNotAuthor))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ev, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	e, ok := ev.(Error)
	if !ok || e.Kind() != KindError {
		t.Fatalf("unexpected event %#v", ev)
	}
	if e.ErrKind != apperrors.KindForbidden || e.Message != apperrors.ErrNotAuthor.Message {
		t.Fatalf("unexpected error payload %#v", e)
	}
	if _, err := Decode([]byte(`{"type":"error","payload":{"message":"x"}}`)); apperrors.KindOf(err) != apperrors.KindValidation {
		t.Fatalf("error frame without kind should be rejected, got %v", err)
	}
}

func TestConnectedFrame(t *testing.T) {
	b, err := Marshal(Connected{ConnID: "c1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ev, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c, ok := ev.(Connected); !ok || c.ConnID != "c1" {
		t.Fatalf("unexpected event %#v", ev)
	}
	if _, err := Marshal(Connected{}); err == nil {
		t.Fatalf("expected validation error for empty conn id")
	}
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, DomainEvent) error { return f.err }
func (f failingPublisher) Close() error                               { return nil }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	m := Multi{NopPublisher(), failingPublisher{err: boom}}
	if err := m.Publish(context.Background(), DomainEvent{Type: TopicMessageNew}); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	p := &NATSPublisher{prefix: "chat"}
	if got := p.Subject(TopicMessageNew); got != "chat.message.new" {
		t.Fatalf("unexpected subject %q", got)
	}
}
