package chat

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists conversations and their messages.
type Repository interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	// GetBySession returns the conversation for a session handle. Messages
	// are loaded oldest first when withMessages is set.
	GetBySession(ctx context.Context, sessionID uuid.UUID, withMessages bool) (*Conversation, error)
	AddMessage(ctx context.Context, m *Message) error
	SetTitle(ctx context.Context, conversationID uuid.UUID, title string) error
	// Close marks the conversation inactive. Closing twice is not an error.
	Close(ctx context.Context, sessionID uuid.UUID) error
}
