package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerStore trips after consecutive store failures and rejects calls
// with a transient error until the timeout elapses.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerStore(inner Store, st BreakerSettings, log *zap.Logger) *BreakerStore {
	threshold := st.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: st.MaxRequests,
		Interval:    st.Interval,
		Timeout:     st.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrDuplicate) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &BreakerStore{inner: inner, cb: cb}
}

func (b *BreakerStore) State() gobreaker.State { return b.cb.State() }

func run[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, apperrors.Wrap(apperrors.KindTransient, "store circuit open", err)
		}
		return zero, err
	}
	return v.(T), nil
}

func runErr(b *BreakerStore, fn func() error) error {
	_, err := run(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (b *BreakerStore) Ping(ctx context.Context) error {
	return runErr(b, func() error { return b.inner.Ping(ctx) })
}

func (b *BreakerStore) Close(ctx context.Context) error { return b.inner.Close(ctx) }

func (b *BreakerStore) CreateUser(ctx context.Context, u *models.User) error {
	return runErr(b, func() error { return b.inner.CreateUser(ctx, u) })
}

func (b *BreakerStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return run(b, func() (*models.User, error) { return b.inner.GetUser(ctx, id) })
}

func (b *BreakerStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return run(b, func() (*models.User, error) { return b.inner.GetUserByEmail(ctx, email) })
}

func (b *BreakerStore) UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch) (*models.User, error) {
	return run(b, func() (*models.User, error) { return b.inner.UpdateProfile(ctx, id, patch) })
}

func (b *BreakerStore) SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]models.User, error) {
	return run(b, func() ([]models.User, error) { return b.inner.SearchUsers(ctx, excludeID, query, limit) })
}

func (b *BreakerStore) SetLastSeen(ctx context.Context, id string, at time.Time) error {
	return runErr(b, func() error { return b.inner.SetLastSeen(ctx, id, at) })
}

func (b *BreakerStore) InsertThread(ctx context.Context, t *models.Thread) error {
	return runErr(b, func() error { return b.inner.InsertThread(ctx, t) })
}

func (b *BreakerStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	return run(b, func() (*models.Thread, error) { return b.inner.GetThread(ctx, id) })
}

func (b *BreakerStore) GetThreadByPair(ctx context.Context, userA, userB string) (*models.Thread, error) {
	return run(b, func() (*models.Thread, error) { return b.inner.GetThreadByPair(ctx, userA, userB) })
}

func (b *BreakerStore) ListThreadsByUser(ctx context.Context, userID string) ([]models.Thread, error) {
	return run(b, func() ([]models.Thread, error) { return b.inner.ListThreadsByUser(ctx, userID) })
}

func (b *BreakerStore) TouchThread(ctx context.Context, id string, at time.Time) error {
	return runErr(b, func() error { return b.inner.TouchThread(ctx, id, at) })
}

func (b *BreakerStore) InsertMessage(ctx context.Context, m *models.Message) error {
	return runErr(b, func() error { return b.inner.InsertMessage(ctx, m) })
}

func (b *BreakerStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.inner.GetMessage(ctx, id) })
}

func (b *BreakerStore) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	return run(b, func() ([]models.Message, error) { return b.inner.ListMessages(ctx, threadID) })
}

func (b *BreakerStore) LastMessage(ctx context.Context, threadID string) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.inner.LastMessage(ctx, threadID) })
}

func (b *BreakerStore) CountUnread(ctx context.Context, threadID, receiverID string) (int64, error) {
	return run(b, func() (int64, error) { return b.inner.CountUnread(ctx, threadID, receiverID) })
}

func (b *BreakerStore) EditMessage(ctx context.Context, id, text string) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.inner.EditMessage(ctx, id, text) })
}

func (b *BreakerStore) SoftDeleteMessage(ctx context.Context, id, tombstone string) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.inner.SoftDeleteMessage(ctx, id, tombstone) })
}

func (b *BreakerStore) MarkRead(ctx context.Context, id string) (*models.Message, error) {
	return run(b, func() (*models.Message, error) { return b.inner.MarkRead(ctx, id) })
}

func (b *BreakerStore) MarkThreadRead(ctx context.Context, threadID, receiverID string, before time.Time) (int64, error) {
	return run(b, func() (int64, error) { return b.inner.MarkThreadRead(ctx, threadID, receiverID, before) })
}
