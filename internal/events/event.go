package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/models"
)

type Kind string

// client -> server
const (
	KindAnnounceOnline Kind = "announce-online"
	KindJoinThread     Kind = "join-thread"
	KindLeaveThread    Kind = "leave-thread"
	KindNotifySend     Kind = "notify-send"
)

// server -> client
const (
	KindConnected      Kind = "connected"
	KindOnlineIDSet    Kind = "online-id-set"
	KindMessageCreated Kind = "message-created"
	KindMessageEdited  Kind = "message-edited"
	KindMessageDeleted Kind = "message-deleted"
	KindMessageRead    Kind = "message-read"
	KindError          Kind = "error"
)

// Envelope is the wire frame for every websocket message.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is implemented by every payload type; the set is closed.
type Event interface {
	Kind() Kind
	validate() error
}

type AnnounceOnline struct {
	UserID string `json:"user_id"`
}

type JoinThread struct {
	ThreadID string `json:"thread_id"`
}

type LeaveThread struct {
	ThreadID string `json:"thread_id"`
}

type NotifySend struct {
	ThreadID string         `json:"thread_id"`
	Message  models.Message `json:"message"`
}

// Connected is the first frame on every socket. ConnID is the id the server
// registered, which differs from the requested conn_id when that was taken.
type Connected struct {
	ConnID string `json:"conn_id"`
}

type OnlineIDSet struct {
	UserIDs []string `json:"user_ids"`
}

type MessageCreated struct {
	Message models.Message `json:"message"`
}

type MessageEdited struct {
	ThreadID string `json:"thread_id"`
	ID       string `json:"id"`
	Text     string `json:"text"`
}

type MessageDeleted struct {
	ThreadID string `json:"thread_id"`
	ID       string `json:"id"`
	Text     string `json:"text"`
}

// MessageRead carries either MessageID or ThreadWide with Before, never both.
type MessageRead struct {
	ThreadID   string     `json:"thread_id"`
	ReaderID   string     `json:"reader_id"`
	MessageID  string     `json:"message_id,omitempty"`
	ThreadWide bool       `json:"thread_wide,omitempty"`
	Before     *time.Time `json:"before,omitempty"`
}

type Error struct {
	ErrKind apperrors.Kind `json:"kind"`
	Message string         `json:"message"`
}

func (AnnounceOnline) Kind() Kind { return KindAnnounceOnline }
func (JoinThread) Kind() Kind     { return KindJoinThread }
func (LeaveThread) Kind() Kind    { return KindLeaveThread }
func (NotifySend) Kind() Kind     { return KindNotifySend }
func (Connected) Kind() Kind      { return KindConnected }
func (OnlineIDSet) Kind() Kind    { return KindOnlineIDSet }
func (MessageCreated) Kind() Kind { return KindMessageCreated }
func (MessageEdited) Kind() Kind  { return KindMessageEdited }
func (MessageDeleted) Kind() Kind { return KindMessageDeleted }
func (MessageRead) Kind() Kind    { return KindMessageRead }
func (Error) Kind() Kind          { return KindError }

func required(name, v string) error {
	if v == "" {
		return apperrors.Validation(name + " is required")
	}
	return nil
}

func (e AnnounceOnline) validate() error { return required("user_id", e.UserID) }
func (e JoinThread) validate() error     { return required("thread_id", e.ThreadID) }
func (e LeaveThread) validate() error    { return required("thread_id", e.ThreadID) }

func (e NotifySend) validate() error {
	if err := required("thread_id", e.ThreadID); err != nil {
		return err
	}
	if err := required("message.id", e.Message.ID); err != nil {
		return err
	}
	if e.Message.ThreadID != "" && e.Message.ThreadID != e.ThreadID {
		return apperrors.Validation("message belongs to another thread")
	}
	return nil
}

func (e Connected) validate() error { return required("conn_id", e.ConnID) }

func (e OnlineIDSet) validate() error {
	if e.UserIDs == nil {
		return apperrors.Validation("user_ids is required")
	}
	return nil
}

func (e MessageCreated) validate() error {
	if err := required("message.id", e.Message.ID); err != nil {
		return err
	}
	return required("message.thread_id", e.Message.ThreadID)
}

func (e MessageEdited) validate() error {
	if err := required("thread_id", e.ThreadID); err != nil {
		return err
	}
	return required("id", e.ID)
}

func (e MessageDeleted) validate() error {
	if err := required("thread_id", e.ThreadID); err != nil {
		return err
	}
	return required("id", e.ID)
}

func (e MessageRead) validate() error {
	if err := required("thread_id", e.ThreadID); err != nil {
		return err
	}
	if err := required("reader_id", e.ReaderID); err != nil {
		return err
	}
	switch {
	case e.ThreadWide && e.MessageID != "":
		return apperrors.Validation("message_id and thread_wide are exclusive")
	case !e.ThreadWide && e.MessageID == "":
		return apperrors.Validation("message_id or thread_wide is required")
	case e.ThreadWide && e.Before == nil:
		return apperrors.Validation("before is required for thread_wide reads")
	}
	return nil
}

func (e Error) validate() error { return required("kind", string(e.ErrKind)) }

// Encode validates ev and wraps it in an Envelope.
func Encode(ev Event) (Envelope, error) {
	if err := ev.validate(); err != nil {
		return Envelope{}, err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return Envelope{Type: ev.Kind(), Payload: raw}, nil
}

// Marshal encodes ev straight to frame bytes.
func Marshal(ev Event) ([]byte, error) {
	env, err := Encode(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

var ErrUnknownKind = errors.New("unknown event type")

func newEvent(k Kind) (Event, error) {
	switch k {
	case KindAnnounceOnline:
		return &AnnounceOnline{}, nil
	case KindJoinThread:
		return &JoinThread{}, nil
	case KindLeaveThread:
		return &LeaveThread{}, nil
	case KindNotifySend:
		return &NotifySend{}, nil
	case KindConnected:
		return &Connected{}, nil
	case KindOnlineIDSet:
		return &OnlineIDSet{}, nil
	case KindMessageCreated:
		return &MessageCreated{}, nil
	case KindMessageEdited:
		return &MessageEdited{}, nil
	case KindMessageDeleted:
		return &MessageDeleted{}, nil
	case KindMessageRead:
		return &MessageRead{}, nil
	case KindError:
		return &Error{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
}

// Decode parses a frame into its typed payload and validates it. The returned
// Event is a value type (AnnounceOnline, not *AnnounceOnline).
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "malformed frame", err)
	}
	return DecodeEnvelope(env)
}

func DecodeEnvelope(env Envelope) (Event, error) {
	ptr, err := newEvent(env.Type)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "unknown event type", err)
	}
	if len(env.Payload) == 0 {
		return nil, apperrors.Validation("payload is required")
	}
	if err := json.Unmarshal(env.Payload, ptr); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "malformed payload", err)
	}
	ev := deref(ptr)
	if err := ev.validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *AnnounceOnline:
		return *e
	case *JoinThread:
		return *e
	case *LeaveThread:
		return *e
	case *NotifySend:
		return *e
	case *Connected:
		return *e
	case *OnlineIDSet:
		return *e
	case *MessageCreated:
		return *e
	case *MessageEdited:
		return *e
	case *MessageDeleted:
		return *e
	case *MessageRead:
		return *e
	case *Error:
		return *e
	}
	return ev
}

// ErrorEvent converts err into an error frame payload.
func ErrorEvent(err error) Error {
	w := apperrors.ToWire(err)
	return Error{ErrKind: w.Kind, Message: w.Message}
}
