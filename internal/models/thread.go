package models

import "time"

// Thread is the single conversation between an unordered pair of users.
// UserA is always the lexicographically smaller id.
type Thread struct {
	ID             string    `bson:"_id" json:"id"`
	UserA          string    `bson:"user_a" json:"user_a"`
	UserB          string    `bson:"user_b" json:"user_b"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	LastActivityAt time.Time `bson:"last_activity_at" json:"last_activity_at"`
}

// NormalizePair orders two user ids so the smaller one comes first.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func (t *Thread) HasParticipant(userID string) bool {
	return userID != "" && (t.UserA == userID || t.UserB == userID)
}

// Counterpart returns the other participant, or "" if userID is not one.
func (t *Thread) Counterpart(userID string) string {
	switch userID {
	case t.UserA:
		return t.UserB
	case t.UserB:
		return t.UserA
	}
	return ""
}

type ThreadSummary struct {
	ID            string     `json:"id"`
	Counterpart   PublicUser `json:"counterpart"`
	LastMessage   string     `json:"last_message"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int64      `json:"unread_count"`
	CreatedAt     time.Time  `json:"created_at"`
	LastActivity  time.Time  `json:"last_activity_at"`
}
