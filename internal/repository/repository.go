package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/chat-app/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
)

type UserRepository interface {
	// CreateUser fails with ErrDuplicate when the email is taken.
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (*models.User, error)
	// SearchUsers matches username or email case-insensitively; an empty
	// query lists everyone except excludeID.
	SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]models.User, error)
	SetLastSeen(ctx context.Context, id string, at time.Time) error
}

type ThreadRepository interface {
	// InsertThread fails with ErrDuplicate when the (user_a, user_b) pair exists.
	InsertThread(ctx context.Context, t *models.Thread) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	GetThreadByPair(ctx context.Context, userA, userB string) (*models.Thread, error)
	// ListThreadsByUser orders by last activity desc, then id.
	ListThreadsByUser(ctx context.Context, userID string) ([]models.Thread, error)
	// TouchThread moves last_activity_at forward, never back.
	TouchThread(ctx context.Context, id string, at time.Time) error
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListMessages orders by created_at asc, then id asc.
	ListMessages(ctx context.Context, threadID string) ([]models.Message, error)
	LastMessage(ctx context.Context, threadID string) (*models.Message, error)
	CountUnread(ctx context.Context, threadID, receiverID string) (int64, error)
	// EditMessage and SoftDeleteMessage only match rows with deleted=false;
	// otherwise they return ErrNotFound.
	EditMessage(ctx context.Context, id, text string) (*models.Message, error)
	SoftDeleteMessage(ctx context.Context, id, tombstone string) (*models.Message, error)
	MarkRead(ctx context.Context, id string) (*models.Message, error)
	// MarkThreadRead flags unread messages addressed to receiverID created at
	// or before the cutoff and returns how many changed.
	MarkThreadRead(ctx context.Context, threadID, receiverID string, before time.Time) (int64, error)
}

type Store interface {
	UserRepository
	ThreadRepository
	MessageRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
