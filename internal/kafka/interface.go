package kafka

import "context"

// ActivityEvent records a call or chat activity for downstream consumers.
type ActivityEvent struct {
	Type           string `json:"type"` // "call_joined" | "call_left" | "message_sent"
	RoomID         string `json:"room_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id"`
	PeerID         string `json:"peer_id,omitempty"`
	Reason         string `json:"reason,omitempty"` // "hangup" | "disconnect"
	Timestamp      int64  `json:"timestamp"`
}

// Event types
const (
	EventCallJoined  = "call_joined"
	EventCallLeft    = "call_left"
	EventMessageSent = "message_sent"
)

// Leave reasons
const (
	ReasonHangup     = "hangup"
	ReasonDisconnect = "disconnect"
)

// Key returns the partition key: the room for call events, the conversation
// for messages.
func (e *ActivityEvent) Key() string {
	if e.RoomID != "" {
		return e.RoomID
	}
	return e.ConversationID
}

// ActivityProducer publishes activity events. Implementations must not block
// the caller on broker round trips.
type ActivityProducer interface {
	ProduceCallJoined(ctx context.Context, roomID, userID string) error
	ProduceCallLeft(ctx context.Context, roomID, userID, reason string) error
	ProduceMessageSent(ctx context.Context, conversationID, senderID, receiverID string) error
	Close() error
}
