package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/metrics"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/fathima-sithara/chat-app/internal/repository"
	"github.com/fathima-sithara/chat-app/internal/utils"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

type MessageOptions struct {
	Tombstone     string
	MaxTextLength int
}

// MessageService owns threads and the message log.
type MessageService struct {
	store     repository.Store
	publisher events.Publisher
	log       *zap.Logger
	tombstone string
	maxText   int
	now       func() time.Time
}

func NewMessageService(store repository.Store, pub events.Publisher, log *zap.Logger, opts MessageOptions) *MessageService {
	if pub == nil {
		pub = events.NopPublisher()
	}
	if opts.Tombstone == "" {
		opts.Tombstone = models.DefaultTombstone
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = 4000
	}
	return &MessageService{
		store:     store,
		publisher: pub,
		log:       log,
		tombstone: opts.Tombstone,
		maxText:   opts.MaxTextLength,
		now:       (&msClock{base: utils.NowUTC}).Now,
	}
}

// msClock hands out strictly increasing millisecond timestamps, so a read
// snapshot never ties with a message stamped after it. Millisecond precision
// keeps every backend returning the value it was given.
type msClock struct {
	mu   sync.Mutex
	last time.Time
	base func() time.Time
}

func (c *msClock) Now() time.Time {
	t := c.base().Truncate(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t
	return t
}

func (s *MessageService) Tombstone() string { return s.tombstone }

// storeErr maps repository.ErrNotFound to notFound and anything else to a
// transient error.
func storeErr(err, notFound error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return apperrors.Transient(err)
}

func (s *MessageService) publish(ctx context.Context, ev events.DomainEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("publish domain event failed", zap.String("type", ev.Type), zap.String("thread_id", ev.ThreadID), zap.Error(err))
	}
}

// OpenOrCreateThread returns the single thread for the unordered pair,
// creating it on first use. A lost insert race re-reads the winner's row.
func (s *MessageService) OpenOrCreateThread(ctx context.Context, userA, userB string) (*models.Thread, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, apperrors.ErrInvalidParticipants
	}
	for _, id := range []string{userA, userB} {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			return nil, storeErr(err, apperrors.ErrInvalidParticipants)
		}
	}
	a, b := models.NormalizePair(userA, userB)
	t, err := s.store.GetThreadByPair(ctx, a, b)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Transient(err)
	}

	now := s.now()
	t = &models.Thread{ID: utils.NewID(), UserA: a, UserB: b, CreatedAt: now, LastActivityAt: now}
	err = s.store.InsertThread(ctx, t)
	if errors.Is(err, repository.ErrDuplicate) {
		s.log.Debug("thread insert lost race, re-reading", zap.String("user_a", a), zap.String("user_b", b))
		existing, err := s.store.GetThreadByPair(ctx, a, b)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	s.publish(ctx, events.DomainEvent{Type: events.TopicThreadOpened, ThreadID: t.ID, ActorID: userA, At: now})
	return t, nil
}

// ListThreadsForUser returns the user's threads, most recently active first.
func (s *MessageService) ListThreadsForUser(ctx context.Context, userID string) ([]models.ThreadSummary, error) {
	threads, err := s.store.ListThreadsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	out := make([]models.ThreadSummary, 0, len(threads))
	for i := range threads {
		t := &threads[i]
		sum := models.ThreadSummary{ID: t.ID, CreatedAt: t.CreatedAt, LastActivity: t.LastActivityAt}

		peerID := t.Counterpart(userID)
		peer, err := s.store.GetUser(ctx, peerID)
		switch {
		case err == nil:
			sum.Counterpart = peer.Public()
		case errors.Is(err, repository.ErrNotFound):
			sum.Counterpart = models.PublicUser{ID: peerID}
		default:
			return nil, apperrors.Transient(err)
		}

		last, err := s.store.LastMessage(ctx, t.ID)
		switch {
		case err == nil:
			sum.LastMessage = last.Preview()
			at := last.CreatedAt
			sum.LastMessageAt = &at
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.Transient(err)
		}

		if sum.UnreadCount, err = s.store.CountUnread(ctx, t.ID, userID); err != nil {
			return nil, apperrors.Transient(err)
		}
		out = append(out, sum)
	}
	return out, nil
}

type SendInput struct {
	ThreadID   string
	SenderID   string
	ReceiverID string // optional; must be the counterpart when set
	Text       string
	Media      string
	MediaKind  models.MediaKind
}

func (s *MessageService) validText(text string) error {
	if utf8.RuneCountInString(text) > s.maxText {
		return apperrors.ErrTextTooLong
	}
	return nil
}

func (s *MessageService) participantThread(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	if threadID == "" {
		return nil, apperrors.Validation("thread_id is required")
	}
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, storeErr(err, apperrors.ErrThreadNotFound)
	}
	if !t.HasParticipant(userID) {
		return nil, apperrors.ErrNotParticipant
	}
	return t, nil
}

// SendMessage persists a message; id and timestamp are always server-assigned.
func (s *MessageService) SendMessage(ctx context.Context, in SendInput) (*models.Message, error) {
	text := strings.TrimSpace(in.Text)
	media := strings.TrimSpace(in.Media)
	if text == "" && media == "" {
		return nil, apperrors.ErrEmptyMessage
	}
	if err := s.validText(text); err != nil {
		return nil, err
	}
	var kind *models.MediaKind
	if media != "" {
		k := in.MediaKind
		if k == "" {
			k = models.MediaFile
		}
		if !k.Valid() {
			return nil, apperrors.ErrInvalidMediaKind
		}
		kind = &k
	}

	t, err := s.participantThread(ctx, in.ThreadID, in.SenderID)
	if err != nil {
		return nil, err
	}
	receiver := t.Counterpart(in.SenderID)
	if in.ReceiverID != "" && in.ReceiverID != receiver {
		return nil, apperrors.ErrWrongReceiver
	}

	m := &models.Message{
		ID:         utils.NewOrderedID(),
		ThreadID:   t.ID,
		SenderID:   in.SenderID,
		ReceiverID: receiver,
		Text:       models.StrPtr(text),
		Media:      models.StrPtr(media),
		MediaKind:  kind,
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, storeErr(err, apperrors.ErrThreadNotFound)
	}
	metrics.MessagesSent.Inc()
	if err := s.store.TouchThread(ctx, t.ID, m.CreatedAt); err != nil {
		s.log.Warn("touch thread failed", zap.String("thread_id", t.ID), zap.Error(err))
	}
	s.publish(ctx, events.DomainEvent{Type: events.TopicMessageNew, ThreadID: t.ID, MessageID: m.ID, ActorID: m.SenderID, Message: m, At: m.CreatedAt})
	return m, nil
}

// ListMessages returns the thread's log ordered by creation time, then id.
func (s *MessageService) ListMessages(ctx context.Context, threadID, requesterID string) ([]models.Message, error) {
	if _, err := s.participantThread(ctx, threadID, requesterID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, threadID)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return msgs, nil
}

// GetMessage returns a stored message visible to requesterID.
func (s *MessageService) GetMessage(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeErr(err, apperrors.ErrMessageNotFound)
	}
	if m.SenderID != requesterID && m.ReceiverID != requesterID {
		return nil, apperrors.ErrNotParticipant
	}
	return m, nil
}

// AuthorizeParticipant checks that userID may see threadID.
func (s *MessageService) AuthorizeParticipant(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	return s.participantThread(ctx, threadID, userID)
}

func (s *MessageService) ownMessage(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeErr(err, apperrors.ErrMessageNotFound)
	}
	if m.SenderID != requesterID {
		return nil, apperrors.ErrNotAuthor
	}
	return m, nil
}

// EditMessage replaces the text of the requester's own message.
// Editing a deleted message is a conflict.
func (s *MessageService) EditMessage(ctx context.Context, messageID, requesterID, newText string) (*models.Message, error) {
	text := strings.TrimSpace(newText)
	if text == "" {
		return nil, apperrors.Validation("text is required")
	}
	if err := s.validText(text); err != nil {
		return nil, err
	}
	m, err := s.ownMessage(ctx, messageID, requesterID)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, apperrors.ErrMessageDeleted
	}
	updated, err := s.store.EditMessage(ctx, messageID, text)
	if errors.Is(err, repository.ErrNotFound) {
		// deleted between the read and the conditional update
		return nil, apperrors.ErrMessageDeleted
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	s.publish(ctx, events.DomainEvent{Type: events.TopicMessageEdited, ThreadID: updated.ThreadID, MessageID: updated.ID, ActorID: requesterID, Message: updated, At: s.now()})
	return updated, nil
}

// SoftDeleteMessage tombstones the requester's own message. Deleting an
// already deleted message returns it unchanged with changed=false.
func (s *MessageService) SoftDeleteMessage(ctx context.Context, messageID, requesterID string) (*models.Message, bool, error) {
	m, err := s.ownMessage(ctx, messageID, requesterID)
	if err != nil {
		return nil, false, err
	}
	if m.Deleted {
		return m, false, nil
	}
	updated, err := s.store.SoftDeleteMessage(ctx, messageID, s.tombstone)
	if errors.Is(err, repository.ErrNotFound) {
		current, err := s.store.GetMessage(ctx, messageID)
		if err != nil {
			return nil, false, storeErr(err, apperrors.ErrMessageNotFound)
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Transient(err)
	}
	s.publish(ctx, events.DomainEvent{Type: events.TopicMessageDeleted, ThreadID: updated.ThreadID, MessageID: updated.ID, ActorID: requesterID, At: s.now()})
	return updated, true, nil
}

// MarkRead flags one message addressed to requesterID as read. Re-marking
// returns changed=false.
func (s *MessageService) MarkRead(ctx context.Context, messageID, requesterID string) (*models.Message, bool, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, storeErr(err, apperrors.ErrMessageNotFound)
	}
	if m.ReceiverID != requesterID {
		if m.SenderID == requesterID {
			return nil, false, apperrors.ErrNotRecipient
		}
		return nil, false, apperrors.ErrNotParticipant
	}
	if m.IsRead {
		return m, false, nil
	}
	updated, err := s.store.MarkRead(ctx, messageID)
	if err != nil {
		return nil, false, storeErr(err, apperrors.ErrMessageNotFound)
	}
	s.publish(ctx, events.DomainEvent{Type: events.TopicMessageRead, ThreadID: updated.ThreadID, MessageID: updated.ID, ActorID: requesterID, Count: 1, At: s.now()})
	return updated, true, nil
}

type ReadReceipt struct {
	ThreadID string    `json:"thread_id"`
	ReaderID string    `json:"reader_id"`
	Before   time.Time `json:"before"`
	Count    int64     `json:"count"`
}

// MarkThreadRead flags every message addressed to requesterID that existed
// when the call started. Messages arriving during the update stay unread.
func (s *MessageService) MarkThreadRead(ctx context.Context, threadID, requesterID string) (*ReadReceipt, error) {
	if _, err := s.participantThread(ctx, threadID, requesterID); err != nil {
		return nil, err
	}
	before := s.now()
	n, err := s.store.MarkThreadRead(ctx, threadID, requesterID, before)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	if n > 0 {
		s.publish(ctx, events.DomainEvent{Type: events.TopicMessageRead, ThreadID: threadID, ActorID: requesterID, Count: n, At: before})
	}
	return &ReadReceipt{ThreadID: threadID, ReaderID: requesterID, Before: before, Count: n}, nil
}
