package domain

import "encoding/json"

// WebSocket message types from client.
const (
	MsgTypeAuth         = "auth"
	MsgTypeJoinRoom     = "join_room"
	MsgTypeOffer        = "offer"
	MsgTypeAnswer       = "answer"
	MsgTypeICECandidate = "ice_candidate"
	MsgTypeChatMessage  = "chat_message"
	MsgTypeHangup       = "hangup"
	MsgTypePing         = "ping"
)

// WebSocket message types to client. Offer, answer and ice_candidate are
// relayed under the same type they arrived with.
const (
	MsgTypeAuthResult          = "auth_result"
	MsgTypeIncomingCall        = "incoming_call"
	MsgTypePeerJoined          = "peer_joined"
	MsgTypePeerLeft            = "peer_left"
	MsgTypeNewMessage          = "new_message"
	MsgTypeConversationUpdated = "conversation_updated"
	MsgTypeError               = "error"
	MsgTypePong                = "pong"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

// AuthMessage binds the connection to the user in the token.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// JoinRoomMessage joins a call room, optionally ringing a callee.
type JoinRoomMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	CalleeID string `json:"callee_id,omitempty"`
}

// SignalMessage carries an opaque offer, answer or ICE candidate. It is used
// in both directions.
type SignalMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// ChatMessage sends a direct message.
type ChatMessage struct {
	Type       string `json:"type"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// HangupMessage removes the user from every call room.
type HangupMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// Server -> Client messages

// AuthResultMessage is sent to client after authentication.
type AuthResultMessage struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

// IncomingCallMessage rings a callee.
type IncomingCallMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	CallerID string `json:"caller_id"`
}

// PeerMessage announces a participant joining or leaving a room.
type PeerMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// NewMessageMessage delivers a persisted chat message to its receiver.
type NewMessageMessage struct {
	Type string `json:"type"`
	*MessageView
}

// ConversationUpdatedMessage carries the conversation after a new message.
type ConversationUpdatedMessage struct {
	Type         string        `json:"type"`
	Conversation *Conversation `json:"conversation"`
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// NewPeerJoined builds a peer_joined announcement.
func NewPeerJoined(roomID, userID string) *PeerMessage {
	return &PeerMessage{Type: MsgTypePeerJoined, RoomID: roomID, UserID: userID}
}

// NewPeerLeft builds a peer_left announcement.
func NewPeerLeft(roomID, userID string) *PeerMessage {
	return &PeerMessage{Type: MsgTypePeerLeft, RoomID: roomID, UserID: userID}
}
