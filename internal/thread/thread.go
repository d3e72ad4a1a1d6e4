// Package thread persists conversations: threads, their append-only
// message history, and per-thread key/value metadata.
package thread

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a thread does not exist.
var ErrNotFound = errors.New("thread not found")

// Thread is one durable conversation.
type Thread struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title,omitempty"`
	Agent        string    `json:"agent"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
