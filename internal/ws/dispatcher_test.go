package ws

import (
	"context"
	"testing"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/hub"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/fathima-sithara/chat-app/internal/presence"
	"github.com/fathima-sithara/chat-app/internal/repository"
	"github.com/fathima-sithara/chat-app/internal/service"
	"go.uber.org/zap"
)

type fixture struct {
	hub      *hub.Hub
	registry *presence.Registry
	svc      *service.MessageService
	d        *Dispatcher
	thread   *models.Thread
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, id := range []string{"alice", "bob", "carol"} {
		u := &models.User{ID: id, Username: id, Email: id + "@example.com", CreatedAt: time.Now().UTC()}
		if err := store.CreateUser(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	h := hub.New()
	reg := presence.NewRegistry(h, zap.NewNop())
	svc := service.NewMessageService(store, nil, zap.NewNop(), service.MessageOptions{})
	th, err := svc.OpenOrCreateThread(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{hub: h, registry: reg, svc: svc, d: NewDispatcher(h, reg, svc, zap.NewNop(), time.Second), thread: th}
}

func (f *fixture) connect(t *testing.T, connID, userID string) *hub.Client {
	t.Helper()
	c := hub.NewClient(connID, userID, 16)
	if !f.hub.Register(c) {
		t.Fatalf("register %s", connID)
	}
	return c
}

func (f *fixture) send(t *testing.T, c *hub.Client, ev events.Event) []byte {
	t.Helper()
	frame, err := events.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return f.d.Handle(context.Background(), c.ID, c.UserID, frame)
}

func drain(c *hub.Client) []events.Event {
	var out []events.Event
	for {
		select {
		case b := <-c.Send:
			ev, err := events.Decode(b)
			if err == nil {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func countKind(evs []events.Event, k events.Kind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind() == k {
			n++
		}
	}
	return n
}

func replyKind(t *testing.T, reply []byte) apperrors.Kind {
	t.Helper()
	if reply == nil {
		t.Fatalf("expected an error reply")
	}
	ev, err := events.Decode(reply)
	if err != nil {
		t.Fatal(err)
	}
	e, ok := ev.(events.Error)
	if !ok {
		t.Fatalf("expected error event, got %T", ev)
	}
	return e.ErrKind
}

func TestNotifySendExcludesOrigin(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "conn-a", "alice")
	b := f.connect(t, "conn-b", "bob")
	for _, c := range []*hub.Client{a, b} {
		if reply := f.send(t, c, events.JoinThread{ThreadID: f.thread.ID}); reply != nil {
			t.Fatalf("join: %s", reply)
		}
	}

	m, err := f.svc.SendMessage(context.Background(), service.SendInput{ThreadID: f.thread.ID, SenderID: "alice", Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	// a forged client copy must not leak through; the stored text is relayed
	forged := *m
	forged.Text = models.StrPtr("forged")
	if reply := f.send(t, a, events.NotifySend{ThreadID: f.thread.ID, Message: forged}); reply != nil {
		t.Fatalf("notify-send: %s", reply)
	}

	if n := countKind(drain(a), events.KindMessageCreated); n != 0 {
		t.Fatalf("origin got %d copies", n)
	}
	got := drain(b)
	if countKind(got, events.KindMessageCreated) != 1 {
		t.Fatalf("peer should get exactly one copy, got %v", got)
	}
	created := got[0].(events.MessageCreated)
	if *created.Message.Text != "hello" {
		t.Fatalf("expected stored text, got %q", *created.Message.Text)
	}
}

func TestJoinRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "conn-c", "carol")
	if k := replyKind(t, f.send(t, c, events.JoinThread{ThreadID: f.thread.ID})); k != apperrors.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %s", k)
	}
	if f.hub.InGroup(c.ID, f.thread.ID) {
		t.Fatalf("outsider joined the group")
	}
	if k := replyKind(t, f.send(t, c, events.JoinThread{ThreadID: "missing"})); k != apperrors.KindNotFound {
		t.Fatalf("expected not found, got %s", k)
	}
}

func TestAnnounceMustMatchToken(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "conn-a", "alice")
	if k := replyKind(t, f.send(t, a, events.AnnounceOnline{UserID: "bob"})); k != apperrors.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %s", k)
	}
	if f.registry.IsOnline("bob") {
		t.Fatalf("spoofed announce went through")
	}
	if reply := f.send(t, a, events.AnnounceOnline{UserID: "alice"}); reply != nil {
		t.Fatalf("announce: %s", reply)
	}
	evs := drain(a)
	if countKind(evs, events.KindOnlineIDSet) != 1 {
		t.Fatalf("expected online set broadcast, got %v", evs)
	}
}

func TestNotifySendRejectsOtherUsersMessage(t *testing.T) {
	f := newFixture(t)
	b := f.connect(t, "conn-b", "bob")
	m, _ := f.svc.SendMessage(context.Background(), service.SendInput{ThreadID: f.thread.ID, SenderID: "alice", Text: "mine"})
	if k := replyKind(t, f.send(t, b, events.NotifySend{ThreadID: f.thread.ID, Message: *m})); k != apperrors.KindForbidden {
		t.Fatalf("expected forbidden, got %s", k)
	}
}

func TestMalformedAndServerFrames(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "conn-a", "alice")
	if k := replyKind(t, f.d.Handle(context.Background(), a.ID, a.UserID, []byte("{nope"))); k != apperrors.KindValidation {
		t.Fatalf("malformed frame: %s", k)
	}
	if k := replyKind(t, f.d.Handle(context.Background(), a.ID, a.UserID, []byte(`{"type":"shout","payload":{}}`))); k != apperrors.KindValidation {
		t.Fatalf("unknown type: %s", k)
	}
	if k := replyKind(t, f.send(t, a, events.OnlineIDSet{UserIDs: []string{}})); k != apperrors.KindValidation {
		t.Fatalf("server event from client: %s", k)
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "conn-a", "alice")
	b := f.connect(t, "conn-b", "bob")
	f.send(t, a, events.JoinThread{ThreadID: f.thread.ID})
	f.send(t, b, events.JoinThread{ThreadID: f.thread.ID})
	f.send(t, b, events.LeaveThread{ThreadID: f.thread.ID})

	m, _ := f.svc.SendMessage(context.Background(), service.SendInput{ThreadID: f.thread.ID, SenderID: "alice", Text: "anyone?"})
	f.send(t, a, events.NotifySend{ThreadID: f.thread.ID, Message: *m})
	if n := countKind(drain(b), events.KindMessageCreated); n != 0 {
		t.Fatalf("left connection got %d copies", n)
	}
}
