package events

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/chat-app/internal/models"
)

const (
	TopicThreadOpened   = "thread.opened"
	TopicMessageNew     = "message.new"
	TopicMessageEdited  = "message.edited"
	TopicMessageDeleted = "message.deleted"
	TopicMessageRead    = "message.read"
)

// DomainEvent is published after a durable write for downstream consumers
// (notifications, analytics). It is not the realtime path.
type DomainEvent struct {
	Type      string          `json:"type"`
	ThreadID  string          `json:"thread_id"`
	MessageID string          `json:"message_id,omitempty"`
	ActorID   string          `json:"actor_id"`
	Message   *models.Message `json:"message,omitempty"`
	Count     int64           `json:"count,omitempty"`
	At        time.Time       `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev DomainEvent) error
	Close() error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, DomainEvent) error { return nil }
func (nopPublisher) Close() error                               { return nil }

func NopPublisher() Publisher { return nopPublisher{} }

// Multi fans a domain event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev DomainEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
