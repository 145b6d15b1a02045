package ws

import (
	"context"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/hub"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/fathima-sithara/chat-app/internal/presence"
	"go.uber.org/zap"
)

// MessageReader is the part of the message service the realtime path needs.
type MessageReader interface {
	GetMessage(ctx context.Context, messageID, requesterID string) (*models.Message, error)
	AuthorizeParticipant(ctx context.Context, threadID, userID string) (*models.Thread, error)
}

var (
	errAnnounceMismatch = apperrors.New(apperrors.KindUnauthorized, "announced user does not match token")
	errServerEvent      = apperrors.Validation("event type is not accepted from clients")
	errForeignMessage   = apperrors.New(apperrors.KindForbidden, "message was not sent by this connection's user")
	errRateLimited      = apperrors.Validation("too many events, slow down")
)

// Dispatcher applies inbound client events for one instance.
type Dispatcher struct {
	hub       *hub.Hub
	presence  *presence.Registry
	messages  MessageReader
	log       *zap.Logger
	opTimeout time.Duration
}

func NewDispatcher(h *hub.Hub, reg *presence.Registry, messages MessageReader, log *zap.Logger, opTimeout time.Duration) *Dispatcher {
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &Dispatcher{hub: h, presence: reg, messages: messages, log: log, opTimeout: opTimeout}
}

// Handle decodes and applies one frame from connID, authenticated as userID.
// A non-nil return is an error frame for the sender only.
func (d *Dispatcher) Handle(ctx context.Context, connID, userID string, frame []byte) []byte {
	ev, err := events.Decode(frame)
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
		err = d.apply(ctx, connID, userID, ev)
		cancel()
	}
	if err == nil {
		return nil
	}
	if apperrors.KindOf(err) == apperrors.KindTransient || apperrors.KindOf(err) == apperrors.KindInternal {
		d.log.Warn("ws event failed", zap.String("conn_id", connID), zap.String("user_id", userID), zap.Error(err))
	} else {
		d.log.Debug("ws event rejected", zap.String("conn_id", connID), zap.Error(err))
	}
	return errorFrame(err)
}

func (d *Dispatcher) apply(ctx context.Context, connID, userID string, ev events.Event) error {
	switch e := ev.(type) {
	case events.AnnounceOnline:
		if e.UserID != userID {
			return errAnnounceMismatch
		}
		d.presence.SetOnline(userID, connID)
		return nil

	case events.JoinThread:
		if _, err := d.messages.AuthorizeParticipant(ctx, e.ThreadID, userID); err != nil {
			return err
		}
		d.hub.Join(connID, e.ThreadID)
		return nil

	case events.LeaveThread:
		d.hub.Leave(connID, e.ThreadID)
		return nil

	case events.NotifySend:
		// the stored record is authoritative, not the client's copy
		m, err := d.messages.GetMessage(ctx, e.Message.ID, userID)
		if err != nil {
			return err
		}
		if m.SenderID != userID {
			return errForeignMessage
		}
		if m.ThreadID != e.ThreadID {
			return apperrors.Validation("message belongs to another thread")
		}
		n, err := d.hub.Publish(m.ThreadID, events.MessageCreated{Message: *m}, connID)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInternal, "encode message", err)
		}
		d.log.Debug("message relayed", zap.String("thread_id", m.ThreadID), zap.String("message_id", m.ID), zap.Int("receivers", n))
		return nil
	}
	return errServerEvent
}

func errorFrame(err error) []byte {
	b, mErr := events.Marshal(events.ErrorEvent(err))
	if mErr != nil {
		return []byte(`{"type":"error","payload":{"kind":"internal","message":"internal error"}}`)
	}
	return b
}
