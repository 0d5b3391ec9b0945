package domain

import (
	"sort"
	"strconv"
	"time"
)

// DateLayout is the calendar-day format used to group messages.
const DateLayout = "2006-01-02"

// Conversation is the persistent record of a two-party thread.
// UserOneID is the user who sent the first message.
type Conversation struct {
	ID                 string    `json:"id"`
	UserOneID          string    `json:"user_one_id"`
	UserTwoID          string    `json:"user_two_id"`
	LastMessage        string    `json:"last_message"`
	LastMessageAt      time.Time `json:"last_message_at"`
	UnreadCountUserOne int       `json:"unread_count_user_one"`
	UnreadCountUserTwo int       `json:"unread_count_user_two"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserOneID == userID || c.UserTwoID == userID
}

// UnreadFor returns the unread count of userID, user one taking precedence in
// a self-conversation.
func (c *Conversation) UnreadFor(userID string) int {
	switch userID {
	case c.UserOneID:
		return c.UnreadCountUserOne
	case c.UserTwoID:
		return c.UnreadCountUserTwo
	default:
		return 0
	}
}

// Message is an immutable chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessageView is a message as delivered to clients.
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Date           string    `json:"date"`
}

// View converts the message for delivery, deriving its UTC calendar date.
func (m *Message) View() *MessageView {
	return &MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		Date:           m.CreatedAt.UTC().Format(DateLayout),
	}
}

// MessageGroup is the messages of one calendar day.
type MessageGroup struct {
	Date     string         `json:"date"`
	Messages []*MessageView `json:"messages"`
}

// GroupByDate buckets messages by UTC date. Groups are ordered by date and
// keep the input order within a day.
func GroupByDate(messages []Message) []MessageGroup {
	index := make(map[string]int)
	groups := make([]MessageGroup, 0)
	for i := range messages {
		v := messages[i].View()
		pos, ok := index[v.Date]
		if !ok {
			pos = len(groups)
			index[v.Date] = pos
			groups = append(groups, MessageGroup{Date: v.Date})
		}
		groups[pos].Messages = append(groups[pos].Messages, v)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Date < groups[j].Date })
	return groups
}

// ConversationUpdate is applied to an existing conversation when a message is
// sent. IncrementUnreadFor names the receiver whose counter grows by one.
type ConversationUpdate struct {
	LastMessage        string
	LastMessageAt      time.Time
	IncrementUnreadFor string
}

// PairKey is the order-independent key of a user pair. The first id is
// length-prefixed so ids containing the separator cannot collide.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + ":" + b
}

// Requests

// OpenConversationRequest finds or creates a conversation with a user.
type OpenConversationRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
}

// SendMessageRequest sends a message over HTTP.
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

// ConversationMessagesResponse is returned by the message history endpoint.
type ConversationMessagesResponse struct {
	Conversation *Conversation  `json:"conversation"`
	Groups       []MessageGroup `json:"groups"`
}

// SendMessageResponse is returned after sending a message over HTTP.
type SendMessageResponse struct {
	Message      *MessageView  `json:"message"`
	Conversation *Conversation `json:"conversation"`
}
