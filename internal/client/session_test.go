package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/models"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []events.Event
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	ev, err := events.Decode(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, ev)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Recv() ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, ev events.Event) {
	t.Helper()
	b, err := events.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- b
}

func (c *fakeConn) kinds() []events.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Kind, len(c.sent))
	for i, ev := range c.sent {
		out[i] = ev.Kind()
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fails int
	n     int
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("refused")
	}
	c := d.conns[d.n]
	d.n++
	return c, nil
}

type fakeAPI struct {
	mu      sync.Mutex
	history map[string][]models.Message
	sendErr error
	block   chan struct{}
	seq     int
	lists   int
}

func (a *fakeAPI) ListMessages(_ context.Context, threadID string) ([]models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lists++
	return append([]models.Message(nil), a.history[threadID]...), nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, threadID string, req SendRequest) (*models.Message, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	a.seq++
	text := req.Text
	m := models.Message{ID: "srv-" + string(rune('0'+a.seq)), ThreadID: threadID, SenderID: "alice", ReceiverID: "bob", Text: &text, CreatedAt: time.Now().UTC()}
	a.history[threadID] = append(a.history[threadID], m)
	return &m, nil
}

func newTestSession(t *testing.T, api *fakeAPI, d *fakeDialer, opts Options) *Session {
	t.Helper()
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	}
	s := NewSession("alice", api, d, opts, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestOpenThreadLeavesPreviousBeforeJoin(t *testing.T) {
	conn := newFakeConn()
	api := &fakeAPI{history: map[string][]models.Message{}}
	s := newTestSession(t, api, &fakeDialer{conns: []*fakeConn{conn}}, Options{})
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenThread(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenThread(ctx, "t2"); err != nil {
		t.Fatal(err)
	}
	want := []events.Kind{events.KindAnnounceOnline, events.KindJoinThread, events.KindLeaveThread, events.KindJoinThread}
	got := conn.kinds()
	if len(got) != len(want) {
		t.Fatalf("sent %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent %v, want %v", got, want)
		}
	}
}

func TestSendConfirmsAndNotifies(t *testing.T) {
	conn := newFakeConn()
	api := &fakeAPI{history: map[string][]models.Message{}}
	s := newTestSession(t, api, &fakeDialer{conns: []*fakeConn{conn}}, Options{})
	ctx := context.Background()
	_ = s.Connect(ctx)
	_, _ = s.OpenThread(ctx, "t1")

	e, err := s.Send(ctx, SendRequest{Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != StatusConfirmed || e.Message.ID != "srv-1" || e.LocalID == "" {
		t.Fatalf("unexpected entry %+v", e)
	}
	entries := s.Entries("t1")
	if len(entries) != 1 || entries[0].Status != StatusConfirmed {
		t.Fatalf("entries %+v", entries)
	}
	kinds := conn.kinds()
	if kinds[len(kinds)-1] != events.KindNotifySend {
		t.Fatalf("expected notify-send last, got %v", kinds)
	}
}

func TestSendTimeoutMarksFailedAndDiscard(t *testing.T) {
	conn := newFakeConn()
	api := &fakeAPI{history: map[string][]models.Message{}, block: make(chan struct{})}
	s := newTestSession(t, api, &fakeDialer{conns: []*fakeConn{conn}}, Options{SendTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	_ = s.Connect(ctx)
	_, _ = s.OpenThread(ctx, "t1")

	e, err := s.Send(ctx, SendRequest{Text: "lost"})
	if !errors.Is(err, context.DeadlineExceeded) || e.Status != StatusFailed {
		t.Fatalf("expected failed entry on timeout, got %+v err=%v", e, err)
	}
	for _, k := range conn.kinds() {
		if k == events.KindNotifySend {
			t.Fatalf("failed send must not notify")
		}
	}
	if !s.Discard(e.LocalID) {
		t.Fatalf("discard failed entry")
	}
	if len(s.Entries("t1")) != 0 {
		t.Fatalf("entry should be gone")
	}
	if s.Discard(e.LocalID) {
		t.Fatalf("second discard should report nothing removed")
	}
}

func TestSendsWithSameTextReconcileByLocalID(t *testing.T) {
	conn := newFakeConn()
	api := &fakeAPI{history: map[string][]models.Message{}}
	s := newTestSession(t, api, &fakeDialer{conns: []*fakeConn{conn}}, Options{})
	ctx := context.Background()
	_ = s.Connect(ctx)
	_, _ = s.OpenThread(ctx, "t1")

	const n = 5
	results := make([]Entry, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := s.Send(ctx, SendRequest{Text: "same"})
			if err != nil {
				t.Errorf("send %d: %v", i, err)
			}
			results[i] = e
		}(i)
	}
	wg.Wait()

	entries := s.Entries("t1")
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
	locals := map[string]string{}
	for _, e := range entries {
		if e.Status != StatusConfirmed {
			t.Fatalf("entry %s not confirmed: %s", e.LocalID, e.Status)
		}
		locals[e.LocalID] = e.Message.ID
	}
	servers := map[string]bool{}
	for _, r := range results {
		id, ok := locals[r.LocalID]
		if !ok || id != r.Message.ID {
			t.Fatalf("entry %s reconciled to %q, caller got %q", r.LocalID, id, r.Message.ID)
		}
		servers[id] = true
	}
	if len(servers) != n {
		t.Fatalf("expected %d distinct server ids, got %d", n, len(servers))
	}
}

func TestSendCollapsesIntoBroadcastThatArrivedFirst(t *testing.T) {
	conn := newFakeConn()
	api := &fakeAPI{history: map[string][]models.Message{}, block: make(chan struct{})}
	s := newTestSession(t, api, &fakeDialer{conns: []*fakeConn{conn}}, Options{})
	ctx := context.Background()
	_ = s.Connect(ctx)
	_, _ = s.OpenThread(ctx, "t1")

	type result struct {
		e   Entry
		err error
	}
	done := make(chan result, 1)
	go func() {
		e, err := s.Send(ctx, SendRequest{Text: "racing"})
		done <- result{e, err}
	}()
	waitFor(t, func() bool { return len(s.Entries("t1")) == 1 })

	text := "racing"
	conn.push(t, events.MessageCreated{Message: models.Message{ID: "srv-1", ThreadID: "t1", SenderID: "alice", ReceiverID: "bob", Text: &text, CreatedAt: time.Now().UTC()}})
	waitFor(t, func() bool { return len(s.Entries("t1")) == 2 })
	close(api.block)

	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}
	entries := s.Entries("t1")
	if len(entries) != 1 {
		t.Fatalf("pending entry should merge into the broadcast copy, got %d entries", len(entries))
	}
	got := entries[0]
	if got.Message.ID != "srv-1" || got.Status != StatusConfirmed || got.LocalID != r.e.LocalID {
		t.Fatalf("unexpected merged entry %+v (caller local id %s)", got, r.e.LocalID)
	}
}

func TestConnectedFrameUpdatesConnectionID(t *testing.T) {
	conn := newFakeConn()
	got := make(chan string, 1)
	s := newTestSession(t, &fakeAPI{history: map[string][]models.Message{}}, &fakeDialer{conns: []*fakeConn{conn}}, Options{
		OnConnectionID: func(id string) { got <- id },
	})
	_ = s.Connect(context.Background())
	conn.push(t, events.Connected{ConnID: "c-assigned"})

	select {
	case id := <-got:
		if id != "c-assigned" || s.ConnID() != "c-assigned" {
			t.Fatalf("hook got %q, session has %q", id, s.ConnID())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connection id hook not called")
	}
}

func TestSendWithoutActiveThread(t *testing.T) {
	s := newTestSession(t, &fakeAPI{history: map[string][]models.Message{}}, &fakeDialer{}, Options{})
	if _, err := s.Send(context.Background(), SendRequest{Text: "x"}); !errors.Is(err, ErrNoActiveThread) {
		t.Fatalf("expected ErrNoActiveThread, got %v", err)
	}
}

func TestInboundEventsUpdateEntries(t *testing.T) {
	conn := newFakeConn()
	base := time.Now().UTC().Add(-time.Minute)
	hi, yo := "hi", "yo"
	api := &fakeAPI{history: map[string][]models.Message{
		"t1": {
			{ID: "m1", ThreadID: "t1", SenderID: "bob", ReceiverID: "alice", Text: &hi, CreatedAt: base},
			{ID: "m2", ThreadID: "t1", SenderID: "alice", ReceiverID: "bob", Text: &yo, CreatedAt: base.Add(time.Second)},
		},
	}}
	s := newTestSession(t, api, &fakeDialer{conns: []*fakeConn{conn}}, Options{})
	ctx := context.Background()
	_ = s.Connect(ctx)
	_, _ = s.OpenThread(ctx, "t1")

	text := "new one"
	m3 := models.Message{ID: "m3", ThreadID: "t1", SenderID: "bob", ReceiverID: "alice", Text: &text, CreatedAt: base.Add(2 * time.Second)}
	conn.push(t, events.MessageCreated{Message: m3})
	conn.push(t, events.MessageCreated{Message: m3})
	conn.push(t, events.MessageEdited{ThreadID: "t1", ID: "m1", Text: "hi there"})
	conn.push(t, events.MessageDeleted{ThreadID: "t1", ID: "m2", Text: models.DefaultTombstone})
	before := base.Add(1500 * time.Millisecond)
	conn.push(t, events.MessageRead{ThreadID: "t1", ReaderID: "bob", ThreadWide: true, Before: &before})
	conn.push(t, events.OnlineIDSet{UserIDs: []string{"alice", "bob"}})

	waitFor(t, func() bool { return s.IsOnline("bob") })
	entries := s.Entries("t1")
	if len(entries) != 3 {
		t.Fatalf("duplicate create must collapse, got %d entries", len(entries))
	}
	if *entries[0].Message.Text != "hi there" || !entries[0].Message.Edited {
		t.Fatalf("edit not applied: %+v", entries[0].Message)
	}
	if !entries[1].Message.Deleted || *entries[1].Message.Text != models.DefaultTombstone {
		t.Fatalf("delete not applied: %+v", entries[1].Message)
	}
	if !entries[1].Message.IsRead || entries[0].Message.IsRead {
		t.Fatalf("thread-wide read should only mark bob's incoming before the cutoff")
	}
}

func TestReconnectReplaysState(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	api := &fakeAPI{history: map[string][]models.Message{}}
	d := &fakeDialer{conns: []*fakeConn{first, second}}
	s := newTestSession(t, api, d, Options{})
	ctx := context.Background()
	_ = s.Connect(ctx)
	_, _ = s.OpenThread(ctx, "t1")
	listsBefore := api.lists

	d.mu.Lock()
	d.fails = 2
	d.mu.Unlock()
	_ = first.Close()

	waitFor(t, func() bool { return len(second.kinds()) >= 2 })
	kinds := second.kinds()
	if kinds[0] != events.KindAnnounceOnline || kinds[1] != events.KindJoinThread {
		t.Fatalf("replay order %v", kinds)
	}
	api.mu.Lock()
	lists := api.lists
	api.mu.Unlock()
	if lists <= listsBefore {
		t.Fatalf("active thread should be re-fetched on reconnect")
	}

	msg := "after reconnect"
	second.push(t, events.MessageCreated{Message: models.Message{ID: "m9", ThreadID: "t1", SenderID: "bob", ReceiverID: "alice", Text: &msg, CreatedAt: time.Now()}})
	waitFor(t, func() bool { return len(s.Entries("t1")) == 1 })
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DM_CLIENT_TOKEN", "tok")
	t.Setenv("DM_CLIENT_SERVER_URL", "https://chat.example.com")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WSURL != "wss://chat.example.com" || cfg.Token != "tok" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigRequiresCredentials(t *testing.T) {
	t.Setenv("DM_CLIENT_TOKEN", "")
	t.Setenv("DM_CLIENT_EMAIL", "a@example.com")
	t.Setenv("DM_CLIENT_PASSWORD", "")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected credential error")
	}
}
