package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/call-service/internal/domain"
	"github.com/weiawesome/wes-io-live/call-service/pkg/database"
	"github.com/weiawesome/wes-io-live/call-service/pkg/log"
)

func isDuplicateKeyError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// GormConversationRepository implements ConversationRepository using GORM.
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository creates a new GORM-based repository.
func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

// Migrate creates or updates the conversation and message tables.
func (r *GormConversationRepository) Migrate() error {
	return database.AutoMigrate(r.db, &domain.ConversationModel{}, &domain.MessageModel{})
}

// WithTx runs fn in a transaction. Nested calls use savepoints.
func (r *GormConversationRepository) WithTx(ctx context.Context, fn func(repo ConversationRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormConversationRepository{db: tx})
	})
}

// FindConversation looks up the conversation of a user pair in either order.
func (r *GormConversationRepository) FindConversation(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	l := log.Ctx(ctx)

	var model domain.ConversationModel
	result := r.db.WithContext(ctx).First(&model, "pair_key = ?", domain.PairKey(userA, userB))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		l.Error().Err(result.Error).Msg("failed to find conversation")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// CreateConversation inserts a conversation inside a savepoint so a losing
// concurrent insert leaves the surrounding transaction usable.
func (r *GormConversationRepository) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	l := log.Ctx(ctx)

	conv.ID = uuid.New().String()
	model := domain.ConversationToModel(conv)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrConversationExists
		}
		l.Error().Err(err).Msg("failed to create conversation in db")
		return err
	}

	conv.CreatedAt = model.CreatedAt
	conv.UpdatedAt = model.UpdatedAt
	l.Debug().Str(log.FieldConversationID, conv.ID).Msg("conversation created in db")
	return nil
}

// UpdateConversation applies update with a single UPDATE so concurrent
// increments are never lost. User one is checked first when both ids match.
// A missing row surfaces as ErrConversationNotFound from the re-read.
func (r *GormConversationRepository) UpdateConversation(ctx context.Context, id string, update domain.ConversationUpdate) (*domain.Conversation, error) {
	l := log.Ctx(ctx)

	at := update.LastMessageAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	values := map[string]interface{}{
		"last_message":    update.LastMessage,
		"last_message_at": at,
		"updated_at":      time.Now().UTC(),
	}
	if receiver := update.IncrementUnreadFor; receiver != "" {
		values["unread_count_user_one"] = gorm.Expr(
			"CASE WHEN user_one_id = ? THEN unread_count_user_one + 1 ELSE unread_count_user_one END",
			receiver,
		)
		values["unread_count_user_two"] = gorm.Expr(
			"CASE WHEN user_one_id <> ? AND user_two_id = ? THEN unread_count_user_two + 1 ELSE unread_count_user_two END",
			receiver, receiver,
		)
	}

	result := r.db.WithContext(ctx).Model(&domain.ConversationModel{}).
		Where("id = ?", id).
		Updates(values)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldConversationID, id).Msg("failed to update conversation in db")
		return nil, result.Error
	}

	return r.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation by ID.
func (r *GormConversationRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	l := log.Ctx(ctx)

	var model domain.ConversationModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		l.Error().Err(result.Error).Str(log.FieldConversationID, id).Msg("failed to get conversation by id")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// ListConversations returns the user's conversations, most recent first.
func (r *GormConversationRepository) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	l := log.Ctx(ctx)

	var models []domain.ConversationModel
	result := r.db.WithContext(ctx).
		Where("user_one_id = ? OR user_two_id = ?", userID, userID).
		Order("last_message_at DESC").
		Order("id").
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldUserID, userID).Msg("failed to list conversations from db")
		return nil, result.Error
	}

	conversations := make([]domain.Conversation, len(models))
	for i, model := range models {
		conversations[i] = *model.ToDomain()
	}
	return conversations, nil
}

// MarkRead zeroes the caller's unread counter. In a self-conversation both
// counters belong to the caller.
func (r *GormConversationRepository) MarkRead(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.ConversationModel{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"unread_count_user_one": gorm.Expr("CASE WHEN user_one_id = ? THEN 0 ELSE unread_count_user_one END", userID),
			"unread_count_user_two": gorm.Expr("CASE WHEN user_two_id = ? THEN 0 ELSE unread_count_user_two END", userID),
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldConversationID, conversationID).Msg("failed to mark conversation read")
		return nil, result.Error
	}

	return r.GetConversation(ctx, conversationID)
}

// CreateMessage inserts a message, assigning its id.
func (r *GormConversationRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	msg.ID = uuid.New().String()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if err := r.db.WithContext(ctx).Create(domain.MessageToModel(msg)).Error; err != nil {
		l.Error().Err(err).Str(log.FieldConversationID, msg.ConversationID).Msg("failed to create message in db")
		return err
	}
	return nil
}

// ListMessages returns a conversation's messages, oldest first.
func (r *GormConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	var models []domain.MessageModel
	result := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id").
		Find(&models)
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldConversationID, conversationID).Msg("failed to list messages from db")
		return nil, result.Error
	}

	messages := make([]domain.Message, len(models))
	for i, model := range models {
		messages[i] = *model.ToDomain()
	}
	return messages, nil
}
