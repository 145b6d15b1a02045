package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-app/internal/events"
	"github.com/fathima-sithara/chat-app/internal/metrics"
	"go.uber.org/zap"
)

const mirrorTimeout = 2 * time.Second

// Broadcaster delivers a frame to every live connection.
type Broadcaster interface {
	BroadcastAll(payload []byte) int
}

// Mirror publishes presence changes outside the process. Errors are logged.
type Mirror interface {
	Online(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string, lastConn bool) error
}

// Registry counts live connections per user. A user is online while at
// least one of their connections has announced.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]string // conn id -> user id
	counts map[string]int

	out       Broadcaster
	mirror    Mirror
	onOffline func(userID string)
	log       *zap.Logger
}

type Option func(*Registry)

func WithMirror(m Mirror) Option { return func(r *Registry) { r.mirror = m } }

// WithOfflineHook runs fn after a user's last connection goes away.
func WithOfflineHook(fn func(userID string)) Option {
	return func(r *Registry) { r.onOffline = fn }
}

func NewRegistry(out Broadcaster, log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		conns:  make(map[string]string),
		counts: make(map[string]int),
		out:    out,
		log:    log,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetOnline records that connID belongs to userID. Announcing the same pair
// twice is a no-op; a connection re-announcing as another user is moved.
func (r *Registry) SetOnline(userID, connID string) bool {
	if userID == "" || connID == "" {
		return false
	}
	r.mu.Lock()
	prev, known := r.conns[connID]
	if known && prev == userID {
		r.mu.Unlock()
		return false
	}
	var wentOffline string
	if known && r.releaseLocked(prev) {
		wentOffline = prev
	}
	r.conns[connID] = userID
	r.counts[userID]++
	r.broadcastLocked()
	r.mu.Unlock()

	if wentOffline != "" {
		r.afterOffline(wentOffline, connID, true)
	}
	r.mirrorOnline(userID, connID)
	return true
}

// SetOffline drops connID. Unknown connections are ignored.
func (r *Registry) SetOffline(connID string) bool {
	r.mu.Lock()
	userID, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, connID)
	last := r.releaseLocked(userID)
	r.broadcastLocked()
	r.mu.Unlock()

	r.afterOffline(userID, connID, last)
	return true
}

func (r *Registry) releaseLocked(userID string) bool {
	r.counts[userID]--
	if r.counts[userID] <= 0 {
		delete(r.counts, userID)
		return true
	}
	return false
}

// OnlineIDs returns the sorted set of online users.
func (r *Registry) OnlineIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[userID] > 0
}

// UserOf returns the user a connection announced as.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.conns[connID]
	return u, ok
}

// Snapshot encodes the current online set as an online-id-set frame.
func (r *Registry) Snapshot() ([]byte, error) {
	return events.Marshal(events.OnlineIDSet{UserIDs: r.OnlineIDs()})
}

func (r *Registry) snapshotLocked() []string {
	ids := make([]string, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// broadcastLocked sends the full set while r.mu is held so frames leave in
// mutation order.
func (r *Registry) broadcastLocked() {
	ids := r.snapshotLocked()
	metrics.OnlineUsers.Set(float64(len(ids)))
	if r.out == nil {
		return
	}
	frame, err := events.Marshal(events.OnlineIDSet{UserIDs: ids})
	if err != nil {
		r.log.Error("encode online set", zap.Error(err))
		return
	}
	r.out.BroadcastAll(frame)
}

func (r *Registry) mirrorOnline(userID, connID string) {
	if r.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := r.mirror.Online(ctx, userID, connID); err != nil {
		r.log.Warn("presence mirror online failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (r *Registry) afterOffline(userID, connID string, last bool) {
	if r.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := r.mirror.Offline(ctx, userID, connID, last); err != nil {
			r.log.Warn("presence mirror offline failed", zap.String("user_id", userID), zap.Error(err))
		}
		cancel()
	}
	if last && r.onOffline != nil {
		r.onOffline(userID)
	}
}
