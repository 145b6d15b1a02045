package apperrors

import (
	"context"
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindTransient    Kind = "transient"
	KindInternal     Kind = "internal"
)

// Error carries a Kind so transports can map it to a status and a wire error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Transient marks a store or dependency failure as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return Wrap(KindTransient, "store unavailable", err)
}

func Validation(msg string) *Error { return New(KindValidation, msg) }

var (
	ErrInvalidParticipants = New(KindValidation, "invalid participants")
	ErrEmptyMessage        = New(KindValidation, "text or media is required")
	ErrTextTooLong         = New(KindValidation, "text is too long")
	ErrInvalidMediaKind    = New(KindValidation, "invalid media kind")
	ErrWrongReceiver       = New(KindValidation, "receiver is not the other participant")

	ErrUnauthenticated    = New(KindUnauthorized, "unauthenticated")
	ErrNotParticipant     = New(KindUnauthorized, "not a participant of this thread")
	ErrInvalidCredentials = New(KindUnauthorized, "invalid credentials")
	ErrNotAuthor          = New(KindForbidden, "only the sender may modify this message")
	ErrNotRecipient       = New(KindForbidden, "only the receiver may mark this message read")

	ErrThreadNotFound  = New(KindNotFound, "thread not found")
	ErrMessageNotFound = New(KindNotFound, "message not found")
	ErrUserNotFound    = New(KindNotFound, "user not found")

	ErrMessageDeleted = New(KindConflict, "message has been deleted")
	ErrEmailTaken     = New(KindConflict, "email already registered")
)

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Wire is the {kind, message} shape sent to clients.
type Wire struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ToWire hides store and internal details behind a generic message.
func ToWire(err error) Wire {
	kind := KindOf(err)
	switch kind {
	case KindTransient:
		return Wire{Kind: kind, Message: "temporarily unavailable, retry later"}
	case KindInternal:
		return Wire{Kind: kind, Message: "internal error"}
	}
	var ae *Error
	errors.As(err, &ae)
	return Wire{Kind: kind, Message: ae.Message}
}
