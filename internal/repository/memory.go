package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-app/internal/models"
)

// MemoryStore keeps everything in process memory. It is the default for
// development and backs the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	emails   map[string]string // lower(email) -> user id
	threads  map[string]*models.Thread
	pairs    map[[2]string]string
	messages map[string]*models.Message
	byThread map[string][]string // thread id -> message ids
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		emails:   make(map[string]string),
		threads:  make(map[string]*models.Thread),
		pairs:    make(map[[2]string]string),
		messages: make(map[string]*models.Message),
		byThread: make(map[string][]string),
	}
}

func (s *MemoryStore) Ping(context.Context) error  { return nil }
func (s *MemoryStore) Close(context.Context) error { return nil }

func copyUser(u *models.User) *models.User {
	c := *u
	if u.LastSeen != nil {
		t := *u.LastSeen
		c.LastSeen = &t
	}
	return &c
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	if m.Text != nil {
		t := *m.Text
		c.Text = &t
	}
	if m.Media != nil {
		v := *m.Media
		c.Media = &v
	}
	if m.MediaKind != nil {
		k := *m.MediaKind
		c.MediaKind = &k
	}
	return &c
}

func (s *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.emails[key]; ok {
		return ErrDuplicate
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrDuplicate
	}
	s.users[u.ID] = copyUser(u)
	s.emails[key] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(s.users[id]), nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, id string, patch models.ProfilePatch) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Username != nil {
		u.Username = *patch.Username
	}
	if patch.Avatar != nil {
		u.Avatar = *patch.Avatar
	}
	if patch.Bio != nil {
		u.Bio = *patch.Bio
	}
	return copyUser(u), nil
}

func (s *MemoryStore) SearchUsers(_ context.Context, excludeID, query string, limit int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(query)
	out := []models.User{}
	for _, u := range s.users {
		if u.ID == excludeID {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(u.Username), q) && !strings.Contains(strings.ToLower(u.Email), q) {
			continue
		}
		out = append(out, *copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SetLastSeen(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastSeen = &at
	return nil
}

func (s *MemoryStore) InsertThread(_ context.Context, t *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{t.UserA, t.UserB}
	if _, ok := s.pairs[key]; ok {
		return ErrDuplicate
	}
	c := *t
	s.threads[t.ID] = &c
	s.pairs[key] = t.ID
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) GetThreadByPair(_ context.Context, userA, userB string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[[2]string{userA, userB}]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s.threads[id]
	return &c, nil
}

func (s *MemoryStore) ListThreadsByUser(_ context.Context, userID string) ([]models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Thread{}
	for _, t := range s.threads {
		if t.HasParticipant(userID) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivityAt.Equal(out[j].LastActivityAt) {
			return out[i].LastActivityAt.After(out[j].LastActivityAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) TouchThread(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(t.LastActivityAt) {
		t.LastActivityAt = at
	}
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := s.threads[m.ThreadID]; !ok {
		return ErrNotFound
	}
	s.messages[m.ID] = copyMessage(m)
	s.byThread[m.ThreadID] = append(s.byThread[m.ThreadID], m.ID)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(m), nil
}

func (s *MemoryStore) ListMessages(_ context.Context, threadID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byThread[threadID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *copyMessage(s.messages[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(&out[j]) })
	return out, nil
}

func (s *MemoryStore) LastMessage(ctx context.Context, threadID string) (*models.Message, error) {
	msgs, _ := s.ListMessages(ctx, threadID)
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[len(msgs)-1], nil
}

func (s *MemoryStore) CountUnread(_ context.Context, threadID, receiverID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, id := range s.byThread[threadID] {
		m := s.messages[id]
		if m.ReceiverID == receiverID && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) EditMessage(_ context.Context, id, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return nil, ErrNotFound
	}
	m.Text = &text
	m.Edited = true
	return copyMessage(m), nil
}

func (s *MemoryStore) SoftDeleteMessage(_ context.Context, id, tombstone string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return nil, ErrNotFound
	}
	m.Text = &tombstone
	m.Media = nil
	m.MediaKind = nil
	m.Deleted = true
	return copyMessage(m), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.IsRead = true
	return copyMessage(m), nil
}

func (s *MemoryStore) MarkThreadRead(_ context.Context, threadID, receiverID string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.byThread[threadID] {
		m := s.messages[id]
		if m.ReceiverID == receiverID && !m.IsRead && !m.CreatedAt.After(before) {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}
