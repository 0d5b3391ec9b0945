package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/weiawesome/wes-io-live/call-service/internal/audit"
	"github.com/weiawesome/wes-io-live/call-service/internal/config"
	"github.com/weiawesome/wes-io-live/call-service/internal/domain"
	"github.com/weiawesome/wes-io-live/call-service/internal/hub"
	"github.com/weiawesome/wes-io-live/call-service/internal/kafka"
	"github.com/weiawesome/wes-io-live/call-service/internal/room"
	"github.com/weiawesome/wes-io-live/call-service/pkg/log"
	"github.com/weiawesome/wes-io-live/call-service/pkg/pubsub"
)

type signalService struct {
	hub           *hub.Hub
	registry      *room.Registry
	chat          ChatService
	verifier      TokenVerifier
	notifier      Notifier
	subscriber    pubsub.Subscriber
	kafkaProducer kafka.ActivityProducer
	authRequired  bool

	// membership serializes registry changes with the matching hub
	// subscription changes, so a room's members and its subscribers never
	// disagree between the two steps.
	membership sync.Mutex

	cancel context.CancelFunc
}

// NewSignalService creates a new SignalService instance. subscriber is only
// needed when notifications travel through a shared bus; kafkaProducer may be
// nil.
func NewSignalService(
	h *hub.Hub,
	registry *room.Registry,
	chat ChatService,
	verifier TokenVerifier,
	notifier Notifier,
	subscriber pubsub.Subscriber,
	kafkaProducer kafka.ActivityProducer,
	authCfg config.AuthConfig,
) SignalService {
	return &signalService{
		hub:           h,
		registry:      registry,
		chat:          chat,
		verifier:      verifier,
		notifier:      notifier,
		subscriber:    subscriber,
		kafkaProducer: kafkaProducer,
		authRequired:  authCfg.Required,
	}
}

func (s *signalService) HandleAuth(ctx context.Context, c *hub.Client, token string) error {
	if s.verifier == nil {
		c.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: "Authentication is not configured",
		})
		return errors.New("no token verifier configured")
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", err.Error(), "websocket authentication failed")
		c.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: err.Error(),
		})
		return fmt.Errorf("invalid token: %w", err)
	}

	userID := claims.Identity()
	if bound := c.UserID(); bound != "" && bound != userID {
		c.SendMessage(&domain.AuthResultMessage{
			Type:    domain.MsgTypeAuthResult,
			Success: false,
			Message: "Connection is bound to another user",
		})
		return fmt.Errorf("connection bound to %s, token is for %s", bound, userID)
	}

	c.Session.Authenticate(userID, claims.Username)
	s.hub.BindUser(c, userID)
	audit.Log(ctx, audit.ActionAuth, userID, "websocket authenticated")

	return c.SendMessage(&domain.AuthResultMessage{
		Type:     domain.MsgTypeAuthResult,
		Success:  true,
		UserID:   userID,
		Username: claims.Username,
	})
}

// identify resolves the user acting on the connection. claimed is the id the
// event carries and may be empty. When identification fails an error frame
// has already been sent and ok is false.
func (s *signalService) identify(c *hub.Client, claimed string) (userID string, ok bool) {
	if c.Session.IsAuthenticated() {
		userID = c.Session.GetUserID()
		if claimed != "" && claimed != userID {
			c.SendMessage(domain.NewErrorMessage(domain.ErrCodeForbidden, "User id does not match the connection"))
			return "", false
		}
		return userID, true
	}

	if s.authRequired {
		c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
		return "", false
	}

	if claimed == "" {
		if userID = c.Session.GetUserID(); userID == "" {
			c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "user_id is required"))
			return "", false
		}
		return userID, true
	}

	userID = c.Session.Claim(claimed)
	if userID != claimed {
		c.SendMessage(domain.NewErrorMessage(domain.ErrCodeForbidden, "User id does not match the connection"))
		return "", false
	}
	s.hub.BindUser(c, userID)
	return userID, true
}

func (s *signalService) HandleJoinRoom(ctx context.Context, c *hub.Client, msg *domain.JoinRoomMessage) error {
	l := log.Ctx(ctx)

	if msg.RoomID == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "room_id is required"))
	}

	userID, ok := s.identify(c, msg.UserID)
	if !ok {
		return nil
	}

	s.membership.Lock()
	res := s.registry.Join(msg.RoomID, userID, msg.CalleeID)
	s.hub.JoinRoom(c, msg.RoomID)
	s.membership.Unlock()

	if res.NotifyCallee {
		if err := s.notifier.NotifyUser(ctx, msg.CalleeID, &domain.IncomingCallMessage{
			Type:     domain.MsgTypeIncomingCall,
			RoomID:   msg.RoomID,
			CallerID: userID,
		}); err != nil {
			l.Warn().Err(err).Str(log.FieldRoomID, msg.RoomID).Str("callee_id", msg.CalleeID).Msg("failed to ring callee")
		}
	}

	if err := s.hub.BroadcastToRoom(msg.RoomID, domain.NewPeerJoined(msg.RoomID, userID), c.ID); err != nil {
		return err
	}

	if !res.AlreadyMember {
		audit.LogWithTarget(ctx, audit.ActionJoin, userID, msg.RoomID, "joined call room")
		if s.kafkaProducer != nil {
			if err := s.kafkaProducer.ProduceCallJoined(ctx, msg.RoomID, userID); err != nil {
				l.Warn().Err(err).Str(log.FieldRoomID, msg.RoomID).Msg("failed to produce call_joined event")
			}
		}
	}

	l.Debug().
		Str(log.FieldRoomID, msg.RoomID).
		Int("members", len(res.Members)).
		Bool("rang_callee", res.NotifyCallee).
		Msg("room joined")
	return nil
}

func (s *signalService) HandleSignal(ctx context.Context, c *hub.Client, msg *domain.SignalMessage) error {
	if msg.RoomID == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "room_id is required"))
	}
	if len(msg.Payload) == 0 {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "payload is required"))
	}
	if s.authRequired && !c.Session.IsAuthenticated() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not authenticated"))
	}

	return s.hub.BroadcastToRoom(msg.RoomID, &domain.SignalMessage{
		Type:    msg.Type,
		RoomID:  msg.RoomID,
		Payload: msg.Payload,
	}, c.ID)
}

func (s *signalService) HandleChatMessage(ctx context.Context, c *hub.Client, msg *domain.ChatMessage) error {
	senderID, ok := s.identify(c, msg.SenderID)
	if !ok {
		return nil
	}

	_, _, err := s.chat.SendMessage(ctx, senderID, msg.ReceiverID, msg.Content)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error()))
	default:
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to send message"))
	}
}

func (s *signalService) HandleHangup(ctx context.Context, c *hub.Client, msg *domain.HangupMessage) error {
	userID, ok := s.identify(c, msg.UserID)
	if !ok {
		return nil
	}

	s.membership.Lock()
	rooms := s.registry.LeaveAll(userID)
	for _, roomID := range rooms {
		s.hub.LeaveRoomForUser(userID, roomID)
	}
	s.membership.Unlock()
	s.announceLeft(ctx, userID, rooms, kafka.ReasonHangup)

	audit.LogWithDetail(ctx, audit.ActionHangup, userID, fmt.Sprintf("rooms=%d", len(rooms)), "hung up")
	return nil
}

// HandleDisconnect detaches the connection and removes its user from every
// room in which none of the user's remaining connections is subscribed. The
// rooms are read from the registry, so a connection the hub already dropped
// for being slow is reconciled the same way.
func (s *signalService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	s.membership.Lock()
	res := s.hub.Detach(c)
	if res.UserID == "" {
		s.membership.Unlock()
		return nil
	}

	var uncovered []string
	for _, roomID := range s.registry.RoomsOf(res.UserID) {
		if !s.hub.UserInRoom(res.UserID, roomID) {
			uncovered = append(uncovered, roomID)
		}
	}
	left := s.registry.LeaveRooms(res.UserID, uncovered)
	s.membership.Unlock()

	s.announceLeft(ctx, res.UserID, left, kafka.ReasonDisconnect)

	if len(left) > 0 {
		audit.LogWithDetail(ctx, audit.ActionDisconnect, res.UserID, fmt.Sprintf("rooms=%d last=%t", len(left), res.LastConnection), "left call rooms on disconnect")
	}
	return nil
}

// announceLeft broadcasts peer_left once per room the user was removed from.
func (s *signalService) announceLeft(ctx context.Context, userID string, rooms []string, reason string) {
	l := log.Ctx(ctx)

	for _, roomID := range rooms {
		if err := s.hub.BroadcastToRoom(roomID, domain.NewPeerLeft(roomID, userID), ""); err != nil {
			l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to broadcast peer_left")
		}
		if s.kafkaProducer != nil {
			if err := s.kafkaProducer.ProduceCallLeft(ctx, roomID, userID, reason); err != nil {
				l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to produce call_left event")
			}
		}
	}
}

func (s *signalService) Start(ctx context.Context) error {
	if s.subscriber == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	eventCh, err := s.subscriber.SubscribePattern(ctx, pubsub.PatternUserNotify)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to user notifications: %w", err)
	}

	go s.handleNotifications(ctx, eventCh)

	l := log.L()
	l.Info().Str("pattern", pubsub.PatternUserNotify).Msg("subscribed to user notifications")
	return nil
}

func (s *signalService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *signalService) handleNotifications(ctx context.Context, eventCh <-chan *pubsub.Event) {
	l := log.L()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if event.Type != pubsub.EventUserNotification || event.Target == "" {
				l.Debug().Str("event_type", event.Type).Msg("ignoring notification event")
				continue
			}
			s.hub.SendRawToUser(event.Target, event.Payload)
		}
	}
}
