package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps presence visible to other processes.
// Keys:
//   - <prefix>:conn:<userID>     set of connection ids
//   - <prefix>:presence:<userID> json {status,last_seen}
//
// Every change is also published on <prefix>:presence.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type presenceState struct {
	UserID   string `json:"user_id"`
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewRedisMirror(client *redis.Client, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = "dm"
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl}
}

func (m *RedisMirror) connKey(userID string) string {
	return fmt.Sprintf("%s:conn:%s", m.prefix, userID)
}

func (m *RedisMirror) presenceKey(userID string) string {
	return fmt.Sprintf("%s:presence:%s", m.prefix, userID)
}

func (m *RedisMirror) Channel() string { return m.prefix + ":presence" }

func (m *RedisMirror) Online(ctx context.Context, userID, connID string) error {
	if err := m.client.SAdd(ctx, m.connKey(userID), connID).Err(); err != nil {
		return err
	}
	if m.ttl > 0 {
		_ = m.client.Expire(ctx, m.connKey(userID), m.ttl).Err()
	}
	return m.setState(ctx, userID, "online", m.ttl)
}

func (m *RedisMirror) Offline(ctx context.Context, userID, connID string, lastConn bool) error {
	if err := m.client.SRem(ctx, m.connKey(userID), connID).Err(); err != nil {
		return err
	}
	if !lastConn {
		return nil
	}
	return m.setState(ctx, userID, "offline", 0)
}

func (m *RedisMirror) setState(ctx context.Context, userID, status string, ttl time.Duration) error {
	b, err := json.Marshal(presenceState{UserID: userID, Status: status, LastSeen: time.Now().Unix()})
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.presenceKey(userID), b, ttl).Err(); err != nil {
		return err
	}
	return m.client.Publish(ctx, m.Channel(), b).Err()
}

// Status reads a user's mirrored presence; "offline" when no key exists.
func (m *RedisMirror) Status(ctx context.Context, userID string) (string, error) {
	b, err := m.client.Get(ctx, m.presenceKey(userID)).Bytes()
	if err == redis.Nil {
		return "offline", nil
	}
	if err != nil {
		return "", err
	}
	var st presenceState
	if err := json.Unmarshal(b, &st); err != nil {
		return "", err
	}
	return st.Status, nil
}
