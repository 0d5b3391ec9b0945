package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/call-service/internal/domain"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExists   = errors.New("conversation already exists")
)

// ConversationRepository persists conversations and messages.
type ConversationRepository interface {
	// WithTx runs fn inside one transaction. fn must only use the repository
	// it is handed.
	WithTx(ctx context.Context, fn func(repo ConversationRepository) error) error

	// FindConversation looks up the conversation of an unordered user pair.
	FindConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error)
	// CreateConversation inserts conv, assigning its id. A concurrent insert for
	// the same pair yields ErrConversationExists.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	// UpdateConversation sets the last message fields and atomically increments
	// the receiver's unread counter.
	UpdateConversation(ctx context.Context, id string, update domain.ConversationUpdate) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)
	// MarkRead zeroes the unread counter of userID.
	MarkRead(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)

	CreateMessage(ctx context.Context, msg *domain.Message) error
	// ListMessages returns a conversation's messages, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}
