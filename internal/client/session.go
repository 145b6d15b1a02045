package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// API is the subset of the HTTP surface a Session drives.
type API interface {
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
	SendMessage(ctx context.Context, threadID string, req SendRequest) (*models.Message, error)
}

// Conn is one realtime connection.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type SendRequest struct {
	Text      string           `json:"text,omitempty"`
	Media     string           `json:"media,omitempty"`
	MediaKind models.MediaKind `json:"media_kind,omitempty"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Entry is one line of a thread's local view. Pending entries carry a
// LocalID and an optimistic Message without a server id.
type Entry struct {
	LocalID string
	Status  Status
	Message models.Message
	Err     error
}

// Update tells the UI what changed.
type Update struct {
	Kind     events.Kind
	ThreadID string
	Err      error
}

var (
	ErrNoActiveThread = errors.New("no active thread")
	ErrNotConnected   = errors.New("not connected")
	ErrClosed         = errors.New("session closed")
)

type Options struct {
	SendTimeout time.Duration
	Tombstone   string
	// NewBackOff builds the reconnect policy; defaults to exponential backoff
	// without an elapsed-time limit.
	NewBackOff func() backoff.BackOff
	OnUpdate   func(Update)
	// OnConnectionID receives the id the server registered for each new
	// socket, so HTTP calls can name it in X-Connection-ID.
	OnConnectionID func(connID string)
}

// Session owns a user's realtime connection and the local view of the
// threads it has open.
type Session struct {
	userID string
	api    API
	dialer Dialer
	opts   Options
	log    *zap.Logger

	mu      sync.Mutex
	conn    Conn
	joined  map[string]struct{}
	active  string
	entries map[string][]*Entry
	online  []string
	connID  string
	cancel  context.CancelFunc
	closed  bool
	loopWG  sync.WaitGroup
}

func NewSession(userID string, api API, dialer Dialer, opts Options, log *zap.Logger) *Session {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.Tombstone == "" {
		opts.Tombstone = models.DefaultTombstone
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &Session{
		userID:  userID,
		api:     api,
		dialer:  dialer,
		opts:    opts,
		log:     log,
		joined:  make(map[string]struct{}),
		entries: make(map[string][]*Entry),
	}
}

// Connect dials, announces, re-joins every joined thread and re-fetches the
// active one, then reads in the background until Close.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	conn, err := s.establish(ctx)
	if err != nil {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
		return err
	}
	s.loopWG.Add(1)
	go s.readLoop(runCtx, conn)
	return nil
}

func (s *Session) establish(ctx context.Context) (Conn, error) {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.replay(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return nil, backoff.Permanent(ErrClosed)
	}
	s.conn = conn
	return conn, nil
}

// replay restores server-side state on a fresh connection.
func (s *Session) replay(ctx context.Context, conn Conn) error {
	if err := sendEvent(ctx, conn, events.AnnounceOnline{UserID: s.userID}); err != nil {
		return err
	}
	s.mu.Lock()
	threads := make([]string, 0, len(s.joined))
	for id := range s.joined {
		threads = append(threads, id)
	}
	active := s.active
	s.mu.Unlock()

	for _, id := range threads {
		if err := sendEvent(ctx, conn, events.JoinThread{ThreadID: id}); err != nil {
			return err
		}
	}
	if active != "" {
		msgs, err := s.api.ListMessages(ctx, active)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.replaceEntries(active, msgs)
		s.mu.Unlock()
		s.notify(Update{Kind: events.KindMessageCreated, ThreadID: active})
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn Conn) {
	defer s.loopWG.Done()
	for {
		frame, err := conn.Recv()
		if err == nil {
			s.handleFrame(frame)
			continue
		}
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("connection lost, reconnecting", zap.Error(err))
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		var next Conn
		op := func() error {
			c, err := s.establish(ctx)
			if err != nil {
				s.log.Debug("reconnect attempt failed", zap.Error(err))
				return err
			}
			next = c
			return nil
		}
		if err := backoff.Retry(op, backoff.WithContext(s.opts.NewBackOff(), ctx)); err != nil {
			s.log.Warn("reconnect abandoned", zap.Error(err))
			return
		}
		conn = next
		s.log.Info("reconnected")
	}
}

func (s *Session) currentConn() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// OpenThread loads the thread's history and makes it active, leaving the
// previous active thread first.
func (s *Session) OpenThread(ctx context.Context, threadID string) ([]Entry, error) {
	msgs, err := s.api.ListMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	prev := s.active
	if prev != "" && prev != threadID {
		delete(s.joined, prev)
	}
	s.joined[threadID] = struct{}{}
	s.active = threadID
	s.replaceEntries(threadID, msgs)
	conn := s.conn
	out := s.snapshotLocked(threadID)
	s.mu.Unlock()

	if conn != nil {
		if prev != "" && prev != threadID {
			if err := sendEvent(ctx, conn, events.LeaveThread{ThreadID: prev}); err != nil {
				s.log.Debug("leave failed", zap.Error(err))
			}
		}
		if err := sendEvent(ctx, conn, events.JoinThread{ThreadID: threadID}); err != nil {
			s.log.Debug("join failed, will rejoin on reconnect", zap.Error(err))
		}
	}
	return out, nil
}

// Send adds a pending entry, persists it over HTTP within SendTimeout and
// reconciles by LocalID. On success the peer is notified over the socket.
func (s *Session) Send(ctx context.Context, req SendRequest) (Entry, error) {
	s.mu.Lock()
	threadID := s.active
	if threadID == "" {
		s.mu.Unlock()
		return Entry{}, ErrNoActiveThread
	}
	e := &Entry{
		LocalID: uuid.NewString(),
		Status:  StatusPending,
		Message: models.Message{
			ThreadID:  threadID,
			SenderID:  s.userID,
			Text:      models.StrPtr(strings.TrimSpace(req.Text)),
			Media:     models.StrPtr(req.Media),
			CreatedAt: time.Now().UTC(),
		},
	}
	if req.MediaKind != "" {
		k := req.MediaKind
		e.Message.MediaKind = &k
	}
	s.entries[threadID] = append(s.entries[threadID], e)
	s.mu.Unlock()
	s.notify(Update{Kind: events.KindMessageCreated, ThreadID: threadID})

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	m, err := s.api.SendMessage(sendCtx, threadID, req)
	cancel()

	s.mu.Lock()
	if err != nil {
		e.Status = StatusFailed
		e.Err = err
		out := *e
		s.mu.Unlock()
		s.notify(Update{Kind: events.KindError, ThreadID: threadID, Err: err})
		return out, err
	}
	if existing := s.findLocked(threadID, m.ID); existing != nil && existing != e {
		// a broadcast or refetch delivered it first
		s.removeLocked(threadID, e)
		existing.Status = StatusConfirmed
		existing.LocalID = e.LocalID
		e = existing
	} else {
		e.Status = StatusConfirmed
		e.Message = *m
	}
	out := *e
	conn := s.conn
	s.mu.Unlock()
	s.notify(Update{Kind: events.KindMessageCreated, ThreadID: threadID})

	if conn != nil {
		if err := sendEvent(ctx, conn, events.NotifySend{ThreadID: threadID, Message: *m}); err != nil {
			// persisted anyway; the peer sees it on their next fetch
			s.log.Debug("notify-send failed", zap.Error(err))
		}
	}
	return out, nil
}

// Discard drops a failed entry. Pending and confirmed entries are kept.
func (s *Session) Discard(localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for threadID, list := range s.entries {
		for _, e := range list {
			if e.LocalID == localID && e.Status == StatusFailed {
				s.removeLocked(threadID, e)
				return true
			}
		}
	}
	return false
}

func (s *Session) Entries(threadID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(threadID)
}

func (s *Session) ActiveThread() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ConnID is the server-assigned id of the current socket.
func (s *Session) ConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

func (s *Session) Online() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.online...)
}

func (s *Session) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.online {
		if id == userID {
			return true
		}
	}
	return false
}

// Close stops the read loop and closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, conn := s.cancel, s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.loopWG.Wait()
	return err
}

func (s *Session) handleFrame(frame []byte) {
	ev, err := events.Decode(frame)
	if err != nil {
		s.log.Debug("dropping malformed frame", zap.Error(err))
		return
	}
	var threadID string
	s.mu.Lock()
	switch e := ev.(type) {
	case events.MessageCreated:
		threadID = e.Message.ThreadID
		if s.findLocked(threadID, e.Message.ID) == nil {
			m := e.Message
			s.entries[threadID] = append(s.entries[threadID], &Entry{Status: StatusConfirmed, Message: m})
		}
	case events.MessageEdited:
		threadID = e.ThreadID
		if x := s.findLocked(threadID, e.ID); x != nil {
			text := e.Text
			x.Message.Text = &text
			x.Message.Edited = true
		}
	case events.MessageDeleted:
		threadID = e.ThreadID
		if x := s.findLocked(threadID, e.ID); x != nil {
			text := e.Text
			if text == "" {
				text = s.opts.Tombstone
			}
			x.Message.Text = &text
			x.Message.Media = nil
			x.Message.MediaKind = nil
			x.Message.Deleted = true
		}
	case events.MessageRead:
		threadID = e.ThreadID
		if e.ThreadWide {
			for _, x := range s.entries[threadID] {
				if x.Status == StatusConfirmed && x.Message.ReceiverID == e.ReaderID && !x.Message.CreatedAt.After(*e.Before) {
					x.Message.IsRead = true
				}
			}
		} else if x := s.findLocked(threadID, e.MessageID); x != nil {
			x.Message.IsRead = true
		}
	case events.Connected:
		s.connID = e.ConnID
		s.mu.Unlock()
		if s.opts.OnConnectionID != nil {
			s.opts.OnConnectionID(e.ConnID)
		}
		return
	case events.OnlineIDSet:
		s.online = append(s.online[:0:0], e.UserIDs...)
	case events.Error:
		s.mu.Unlock()
		s.log.Debug("server reported error", zap.String("kind", string(e.ErrKind)), zap.String("message", e.Message))
		s.notify(Update{Kind: events.KindError, Err: apperrors.New(e.ErrKind, e.Message)})
		return
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.notify(Update{Kind: ev.Kind(), ThreadID: threadID})
}

// replaceEntries swaps in server history, keeping local entries that have
// not been confirmed yet.
func (s *Session) replaceEntries(threadID string, msgs []models.Message) {
	list := make([]*Entry, 0, len(msgs))
	for i := range msgs {
		list = append(list, &Entry{Status: StatusConfirmed, Message: msgs[i]})
	}
	for _, e := range s.entries[threadID] {
		if e.Status != StatusConfirmed && !containsID(msgs, e.Message.ID) {
			list = append(list, e)
		}
	}
	s.entries[threadID] = list
}

func containsID(msgs []models.Message, id string) bool {
	if id == "" {
		return false
	}
	for i := range msgs {
		if msgs[i].ID == id {
			return true
		}
	}
	return false
}

func (s *Session) findLocked(threadID, id string) *Entry {
	if id == "" {
		return nil
	}
	for _, e := range s.entries[threadID] {
		if e.Message.ID == id {
			return e
		}
	}
	return nil
}

func (s *Session) removeLocked(threadID string, target *Entry) {
	list := s.entries[threadID]
	for i, e := range list {
		if e == target {
			s.entries[threadID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (s *Session) snapshotLocked(threadID string) []Entry {
	list := s.entries[threadID]
	out := make([]Entry, len(list))
	for i, e := range list {
		out[i] = *e
	}
	return out
}

func (s *Session) notify(u Update) {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(u)
	}
}

func sendEvent(ctx context.Context, conn Conn, ev events.Event) error {
	frame, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Send(ctx, frame)
}
