package service

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/call-service/internal/domain"
	"github.com/weiawesome/wes-io-live/call-service/internal/hub"
	"github.com/weiawesome/wes-io-live/call-service/pkg/jwt"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrPersistence = errors.New("persistence failed")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
)

// TokenVerifier validates an access token.
type TokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// SignalService handles the websocket events of a connection.
type SignalService interface {
	// HandleAuth binds the connection to the user in token.
	HandleAuth(ctx context.Context, client *hub.Client, token string) error

	// HandleJoinRoom joins a call room and rings the callee if needed.
	HandleJoinRoom(ctx context.Context, client *hub.Client, msg *domain.JoinRoomMessage) error

	// HandleSignal relays an offer, answer or ICE candidate to the other
	// connections of a room.
	HandleSignal(ctx context.Context, client *hub.Client, msg *domain.SignalMessage) error

	// HandleChatMessage persists and delivers a direct message.
	HandleChatMessage(ctx context.Context, client *hub.Client, msg *domain.ChatMessage) error

	// HandleHangup removes the user from every call room.
	HandleHangup(ctx context.Context, client *hub.Client, msg *domain.HangupMessage) error

	// HandleDisconnect reconciles room membership after the transport closed.
	HandleDisconnect(ctx context.Context, client *hub.Client) error

	// Start starts background goroutines (e.g., event subscribers).
	Start(ctx context.Context) error

	// Stop stops background goroutines.
	Stop() error
}

// ChatService persists direct messages and serves conversation history.
type ChatService interface {
	// SendMessage stores a message, updates the conversation and notifies the
	// receiver.
	SendMessage(ctx context.Context, senderID, receiverID, content string) (*domain.Message, *domain.Conversation, error)

	// OpenConversation returns the conversation with receiverID, creating an
	// empty one if needed. created reports whether it was created.
	OpenConversation(ctx context.Context, userID, receiverID string) (conv *domain.Conversation, created bool, err error)

	// ListConversations returns the user's conversations, most recent first.
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)

	// GetMessages returns a conversation's messages grouped by day and marks
	// them read for userID.
	GetMessages(ctx context.Context, userID, conversationID string) (*domain.ConversationMessagesResponse, error)
}

// Notifier delivers a message to every connection of a user.
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}
