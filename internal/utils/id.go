package utils

import (
	"time"

	"github.com/google/uuid"
)

func NewID() string {
	return uuid.NewString()
}

// NewOrderedID returns a time-ordered UUIDv7, falling back to v4.
func NewOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
