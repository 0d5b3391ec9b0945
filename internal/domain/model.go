package domain

import (
	"time"
)

// ConversationModel is the GORM model for conversations table. PairKey makes
// the unordered user pair unique.
type ConversationModel struct {
	ID                 string    `gorm:"type:varchar(36);primaryKey"`
	PairKey            string    `gorm:"type:varchar(200);uniqueIndex;not null"`
	UserOneID          string    `gorm:"type:varchar(64);index;not null"`
	UserTwoID          string    `gorm:"type:varchar(64);index;not null"`
	LastMessage        string    `gorm:"type:text"`
	LastMessageAt      time.Time `gorm:"index"`
	UnreadCountUserOne int       `gorm:"not null;default:0"`
	UnreadCountUserTwo int       `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ConversationModel.
func (ConversationModel) TableName() string {
	return "conversations"
}

// ToDomain converts ConversationModel to domain Conversation.
func (m *ConversationModel) ToDomain() *Conversation {
	return &Conversation{
		ID:                 m.ID,
		UserOneID:          m.UserOneID,
		UserTwoID:          m.UserTwoID,
		LastMessage:        m.LastMessage,
		LastMessageAt:      m.LastMessageAt,
		UnreadCountUserOne: m.UnreadCountUserOne,
		UnreadCountUserTwo: m.UnreadCountUserTwo,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// ConversationToModel converts domain Conversation to ConversationModel.
func ConversationToModel(c *Conversation) *ConversationModel {
	return &ConversationModel{
		ID:                 c.ID,
		PairKey:            PairKey(c.UserOneID, c.UserTwoID),
		UserOneID:          c.UserOneID,
		UserTwoID:          c.UserTwoID,
		LastMessage:        c.LastMessage,
		LastMessageAt:      c.LastMessageAt,
		UnreadCountUserOne: c.UnreadCountUserOne,
		UnreadCountUserTwo: c.UnreadCountUserTwo,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

// MessageModel is the GORM model for messages table.
type MessageModel struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	ConversationID string    `gorm:"type:varchar(36);index:idx_messages_conversation_created;not null"`
	SenderID       string    `gorm:"type:varchar(64);not null"`
	ReceiverID     string    `gorm:"type:varchar(64);not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}
