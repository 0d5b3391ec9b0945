package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/call-service/internal/domain"
	"github.com/weiawesome/wes-io-live/call-service/internal/hub"
	"github.com/weiawesome/wes-io-live/call-service/internal/service"
	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
	"github.com/weiawesome/wes-io-live/call-service/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub      *hub.Hub
	service  service.SignalService
	verifier service.TokenVerifier
}

// NewWSHandler creates a new WebSocket handler. verifier may be nil, in which
// case the token query parameter is ignored.
func NewWSHandler(h *hub.Hub, svc service.SignalService, verifier service.TokenVerifier) *WSHandler {
	return &WSHandler{
		hub:      h,
		service:  svc,
		verifier: verifier,
	}
}

// HandleWebSocket handles WebSocket upgrade and message routing. A token
// query parameter authenticates the connection before the upgrade.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.Ctx(r.Context())

	var userID, username string
	if token := r.URL.Query().Get("token"); token != "" && h.verifier != nil {
		claims, err := h.verifier.Verify(token)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(response.Response{
				Error: &response.ErrorInfo{Code: domain.ErrCodeUnauthorized, Message: err.Error()},
			})
			return
		}
		userID, username = claims.Identity(), claims.Username
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn)

	client.SetDisconnectHandler(func(c *hub.Client) {
		ctx := pkglog.WithConnection(context.Background(), c.ID, c.UserID())
		if err := h.service.HandleDisconnect(ctx, c); err != nil {
			cl := pkglog.Ctx(ctx)
			cl.Error().Err(err).Msg("disconnect handler error")
		}
	})

	h.hub.Register(client)
	if userID != "" {
		client.Session.Authenticate(userID, username)
		h.hub.BindUser(client, userID)
	}

	l.Debug().Str(pkglog.FieldConnectionID, client.ID).Str(pkglog.FieldUserID, userID).Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	ctx := pkglog.WithConnection(context.Background(), client.ID, client.UserID())
	l := pkglog.Ctx(ctx)

	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	switch base.Type {
	case domain.MsgTypeAuth:
		var msg domain.AuthMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid auth message"))
			return
		}
		if err := h.service.HandleAuth(ctx, client, msg.Token); err != nil {
			l.Warn().Err(err).Msg("auth failed")
		}

	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid join_room message"))
			return
		}
		if err := h.service.HandleJoinRoom(ctx, client, &msg); err != nil {
			l.Error().Err(err).Str(pkglog.FieldRoomID, msg.RoomID).Msg("join room failed")
		}

	case domain.MsgTypeOffer, domain.MsgTypeAnswer, domain.MsgTypeICECandidate:
		var msg domain.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid "+base.Type+" message"))
			return
		}
		if err := h.service.HandleSignal(ctx, client, &msg); err != nil {
			l.Error().Err(err).Str(pkglog.FieldMessageType, base.Type).Str(pkglog.FieldRoomID, msg.RoomID).Msg("signal relay failed")
		}

	case domain.MsgTypeChatMessage:
		var msg domain.ChatMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid chat_message message"))
			return
		}
		if err := h.service.HandleChatMessage(ctx, client, &msg); err != nil {
			l.Error().Err(err).Msg("chat message failed")
		}

	case domain.MsgTypeHangup:
		var msg domain.HangupMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid hangup message"))
			return
		}
		if err := h.service.HandleHangup(ctx, client, &msg); err != nil {
			l.Error().Err(err).Msg("hangup failed")
		}

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
}
