package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/weiawesome/wes-io-live/call-service/internal/audit"
	"github.com/weiawesome/wes-io-live/call-service/internal/domain"
	"github.com/weiawesome/wes-io-live/call-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/call-service/internal/repository"
	"github.com/weiawesome/wes-io-live/call-service/pkg/log"
)

const (
	defaultPersistTimeout = 5 * time.Second

	// relayAttempts bounds retries after losing a concurrent conversation
	// create.
	relayAttempts = 2
)

type chatService struct {
	repo           repository.ConversationRepository
	notifier       Notifier
	kafkaProducer  kafka.ActivityProducer
	persistTimeout time.Duration
}

// NewChatService creates a ChatService. kafkaProducer may be nil.
func NewChatService(
	repo repository.ConversationRepository,
	notifier Notifier,
	kafkaProducer kafka.ActivityProducer,
	persistTimeout time.Duration,
) ChatService {
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}
	return &chatService{
		repo:           repo,
		notifier:       notifier,
		kafkaProducer:  kafkaProducer,
		persistTimeout: persistTimeout,
	}
}

func (s *chatService) SendMessage(ctx context.Context, senderID, receiverID, content string) (*domain.Message, *domain.Conversation, error) {
	l := log.Ctx(ctx)

	if senderID == "" || receiverID == "" {
		return nil, nil, fmt.Errorf("%w: sender_id and receiver_id are required", ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	pctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	now := time.Now().UTC()
	var (
		msg  *domain.Message
		conv *domain.Conversation
	)
	var err error
	for attempt := 1; attempt <= relayAttempts; attempt++ {
		err = s.repo.WithTx(pctx, func(tx repository.ConversationRepository) error {
			c, err := upsertConversation(pctx, tx, senderID, receiverID, content, now)
			if err != nil {
				return err
			}

			m := &domain.Message{
				ConversationID: c.ID,
				SenderID:       senderID,
				ReceiverID:     receiverID,
				Content:        content,
				CreatedAt:      now,
			}
			if err := tx.CreateMessage(pctx, m); err != nil {
				return err
			}

			msg, conv = m, c
			return nil
		})
		if !errors.Is(err, repository.ErrConversationExists) {
			break
		}
		l.Debug().Str(log.FieldUserID, senderID).Int("attempt", attempt).Msg("conversation created concurrently, retrying")
	}
	if err != nil {
		l.Error().Err(err).
			Str(log.FieldUserID, senderID).
			Str("receiver_id", receiverID).
			Msg("failed to persist chat message")
		return nil, nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	audit.LogWithTarget(ctx, audit.ActionSendMessage, senderID, conv.ID, "chat message sent")

	if err := s.notifier.NotifyUser(ctx, receiverID, &domain.NewMessageMessage{
		Type:        domain.MsgTypeNewMessage,
		MessageView: msg.View(),
	}); err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, conv.ID).Msg("failed to deliver new_message")
	}
	if err := s.notifier.NotifyUser(ctx, receiverID, &domain.ConversationUpdatedMessage{
		Type:         domain.MsgTypeConversationUpdated,
		Conversation: conv,
	}); err != nil {
		l.Warn().Err(err).Str(log.FieldConversationID, conv.ID).Msg("failed to deliver conversation_updated")
	}

	if s.kafkaProducer != nil {
		if err := s.kafkaProducer.ProduceMessageSent(ctx, conv.ID, senderID, receiverID); err != nil {
			l.Warn().Err(err).Str(log.FieldConversationID, conv.ID).Msg("failed to produce message_sent event")
		}
	}

	return msg, conv, nil
}

// upsertConversation applies a new message to the pair's conversation. A new
// conversation belongs to the sender as user one with the receiver's counter
// at one. Losing a concurrent create returns ErrConversationExists; the row
// is only visible to a new transaction under repeatable-read isolation.
func upsertConversation(ctx context.Context, tx repository.ConversationRepository, senderID, receiverID, content string, now time.Time) (*domain.Conversation, error) {
	conv, err := tx.FindConversation(ctx, senderID, receiverID)
	if errors.Is(err, repository.ErrConversationNotFound) {
		conv = &domain.Conversation{
			UserOneID:          senderID,
			UserTwoID:          receiverID,
			LastMessage:        content,
			LastMessageAt:      now,
			UnreadCountUserOne: 0,
			UnreadCountUserTwo: 1,
		}
		if err := tx.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}
	if err != nil {
		return nil, err
	}

	return tx.UpdateConversation(ctx, conv.ID, domain.ConversationUpdate{
		LastMessage:        content,
		LastMessageAt:      now,
		IncrementUnreadFor: receiverID,
	})
}

func (s *chatService) OpenConversation(ctx context.Context, userID, receiverID string) (*domain.Conversation, bool, error) {
	if userID == "" || receiverID == "" {
		return nil, false, fmt.Errorf("%w: receiver_id is required", ErrValidation)
	}

	pctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	conv, err := s.repo.FindConversation(pctx, userID, receiverID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, repository.ErrConversationNotFound) {
		return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	conv = &domain.Conversation{
		UserOneID:     userID,
		UserTwoID:     receiverID,
		LastMessageAt: time.Now().UTC(),
	}
	err = s.repo.CreateConversation(pctx, conv)
	if errors.Is(err, repository.ErrConversationExists) {
		conv, err = s.repo.FindConversation(pctx, userID, receiverID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return conv, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return conv, true, nil
}

func (s *chatService) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	pctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	conversations, err := s.repo.ListConversations(pctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return conversations, nil
}

func (s *chatService) GetMessages(ctx context.Context, userID, conversationID string) (*domain.ConversationMessagesResponse, error) {
	pctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	conv, err := s.repo.GetConversation(pctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}

	messages, err := s.repo.ListMessages(pctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	conv, err = s.repo.MarkRead(pctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	audit.LogWithTarget(ctx, audit.ActionMarkRead, userID, conversationID, "conversation marked read")

	return &domain.ConversationMessagesResponse{
		Conversation: conv,
		Groups:       domain.GroupByDate(messages),
	}, nil
}
