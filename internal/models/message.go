package models

import "time"

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaFile  MediaKind = "file"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaAudio, MediaFile:
		return true
	}
	return false
}

// Label is the placeholder shown in thread lists for media-only messages.
func (k MediaKind) Label() string {
	switch k {
	case MediaImage:
		return "📷 Photo"
	case MediaVideo:
		return "🎥 Video"
	case MediaAudio:
		return "🎤 Audio"
	default:
		return "📎 File"
	}
}

const DefaultTombstone = "This message was deleted"

type Message struct {
	ID         string     `bson:"_id" json:"id"`
	ThreadID   string     `bson:"thread_id" json:"thread_id"`
	SenderID   string     `bson:"sender_id" json:"sender_id"`
	ReceiverID string     `bson:"receiver_id" json:"receiver_id"`
	Text       *string    `bson:"text,omitempty" json:"text,omitempty"`
	Media      *string    `bson:"media,omitempty" json:"media,omitempty"`
	MediaKind  *MediaKind `bson:"media_kind,omitempty" json:"media_kind,omitempty"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	IsRead     bool       `bson:"is_read" json:"is_read"`
	Edited     bool       `bson:"edited" json:"edited"`
	Deleted    bool       `bson:"deleted" json:"deleted"`
}

// Preview is the short text used as a thread's last message.
func (m *Message) Preview() string {
	if m.Text != nil && *m.Text != "" {
		return *m.Text
	}
	if m.Media != nil && *m.Media != "" {
		kind := MediaFile
		if m.MediaKind != nil {
			kind = *m.MediaKind
		}
		return kind.Label()
	}
	return ""
}

// Less orders messages by creation time, then id.
func (m *Message) Less(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// StrPtr returns nil for empty strings.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
