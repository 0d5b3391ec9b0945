package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/call-service/internal/domain"
	"github.com/weiawesome/wes-io-live/call-service/internal/service"
	"github.com/weiawesome/wes-io-live/call-service/pkg/log"
	"github.com/weiawesome/wes-io-live/call-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/call-service/pkg/response"
)

// Handler handles HTTP requests for conversations and messages.
type Handler struct {
	chatService    service.ChatService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(chatService service.ChatService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		chatService:    chatService,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.Use(h.authMiddleware.RequireAuth())
	{
		conversations := api.Group("/conversations")
		{
			conversations.GET("", h.ListConversations)
			conversations.POST("", h.OpenConversation)
			conversations.GET("/:id/messages", h.GetMessages)
		}

		api.POST("/messages", h.SendMessage)
	}
}

// ListConversations lists the caller's conversations.
func (h *Handler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	conversations, err := h.chatService.ListConversations(ctx, userID)
	if err != nil {
		l.Error().Err(err).Msg("failed to list conversations")
		response.InternalError(c, "failed to list conversations")
		return
	}

	response.Success(c, conversations)
}

// OpenConversation finds or creates the conversation with a user.
func (h *Handler) OpenConversation(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind open conversation request")
		response.BadRequest(c, err.Error())
		return
	}

	conv, created, err := h.chatService.OpenConversation(ctx, userID, req.ReceiverID)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			response.BadRequest(c, err.Error())
			return
		}
		l.Error().Err(err).Msg("failed to open conversation")
		response.InternalError(c, "failed to open conversation")
		return
	}

	if created {
		response.Created(c, conv)
		return
	}
	response.Success(c, conv)
}

// GetMessages returns a conversation's messages grouped by day.
func (h *Handler) GetMessages(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	conversationID := c.Param("id")

	res, err := h.chatService.GetMessages(ctx, userID, conversationID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			response.NotFound(c, "conversation not found")
		case errors.Is(err, service.ErrForbidden):
			response.Forbidden(c, "not a participant of this conversation")
		default:
			l.Error().Err(err).Str(log.FieldConversationID, conversationID).Msg("failed to get messages")
			response.InternalError(c, "failed to get messages")
		}
		return
	}

	response.Success(c, res)
}

// SendMessage sends a direct message through the relay.
func (h *Handler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	userID := middleware.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind send message request")
		response.BadRequest(c, err.Error())
		return
	}

	msg, conv, err := h.chatService.SendMessage(ctx, userID, req.ReceiverID, req.Content)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			response.BadRequest(c, err.Error())
			return
		}
		l.Error().Err(err).Msg("failed to send message")
		response.InternalError(c, "failed to send message")
		return
	}

	response.Created(c, &domain.SendMessageResponse{
		Message:      msg.View(),
		Conversation: conv,
	})
}
