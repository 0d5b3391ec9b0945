package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/weiawesome/wes-io-live/call-service/internal/config"
	"github.com/weiawesome/wes-io-live/call-service/internal/domain"
	"github.com/weiawesome/wes-io-live/call-service/internal/hub"
	"github.com/weiawesome/wes-io-live/call-service/internal/repository"
	"github.com/weiawesome/wes-io-live/call-service/internal/room"
	"github.com/weiawesome/wes-io-live/call-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/call-service/pkg/pubsub"
)

const testSecret = "test-secret"

type fixture struct {
	hub      *hub.Hub
	registry *room.Registry
	repo     repository.ConversationRepository
	chat     ChatService
	signal   SignalService
	tokens   *jwt.Manager
}

func setupTestRepo(t *testing.T) repository.ConversationRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := repository.NewGormConversationRepository(db)
	require.NoError(t, repo.Migrate())
	return repo
}

func newFixture(t *testing.T, authRequired bool) *fixture {
	return newFixtureWithRepo(t, authRequired, setupTestRepo(t))
}

func newFixtureWithRepo(t *testing.T, authRequired bool, repo repository.ConversationRepository) *fixture {
	return newFixtureWith(t, authRequired, repo, config.DefaultWebSocketConfig(), time.Second)
}

func newFixtureWith(t *testing.T, authRequired bool, repo repository.ConversationRepository, ws config.WebSocketConfig, persistTimeout time.Duration) *fixture {
	t.Helper()

	h := hub.NewHub(ws)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)

	tokens, err := jwt.NewManager(testSecret, "")
	require.NoError(t, err)

	notifier := NewHubNotifier(h)
	registry := room.NewRegistry()
	chat := NewChatService(repo, notifier, nil, persistTimeout)
	signal := NewSignalService(h, registry, chat, tokens, notifier, nil, nil, config.AuthConfig{Required: authRequired})

	return &fixture{
		hub:      h,
		registry: registry,
		repo:     repo,
		chat:     chat,
		signal:   signal,
		tokens:   tokens,
	}
}

// connect registers a connection, authenticated as userID when it is not empty.
func (f *fixture) connect(id, userID string) *hub.Client {
	c := hub.NewClient(id, f.hub, nil)
	f.hub.Register(c)
	if userID != "" {
		c.Session.Authenticate(userID, userID)
		f.hub.BindUser(c, userID)
	}
	return c
}

func (f *fixture) join(t *testing.T, c *hub.Client, roomID, calleeID string) {
	t.Helper()
	require.NoError(t, f.signal.HandleJoinRoom(context.Background(), c, &domain.JoinRoomMessage{
		Type:     domain.MsgTypeJoinRoom,
		RoomID:   roomID,
		CalleeID: calleeID,
	}))
}

// receiveType reads from the client until a message of the given type arrives.
// Messages of other types are discarded.
func receiveType(t *testing.T, c *hub.Client, typ string) map[string]interface{} {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data, ok := <-c.Send:
			require.True(t, ok, "send channel closed")
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &m))
			if m["type"] == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("client %s received no %s", c.ID, typ)
			return nil
		}
	}
}

// assertNoType fails if a message of the given type arrives within a short
// window.
func assertNoType(t *testing.T, c *hub.Client, typ string) {
	t.Helper()
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case data := <-c.Send:
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &m))
			if m["type"] == typ {
				t.Fatalf("client %s got unexpected %s: %s", c.ID, typ, data)
			}
		case <-deadline:
			return
		}
	}
}

func assertSilent(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s got unexpected message %s", c.ID, data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestJoinRoom_RingsCalleeAndRelaysOffer(t *testing.T) {
	f := newFixture(t, true)
	a := f.connect("c1", "A")
	b := f.connect("c2", "B")

	f.join(t, a, "R", "B")

	ring := receiveType(t, b, domain.MsgTypeIncomingCall)
	assert.Equal(t, "R", ring["room_id"])
	assert.Equal(t, "A", ring["caller_id"])

	f.join(t, b, "R", "A")
	joined := receiveType(t, a, domain.MsgTypePeerJoined)
	assert.Equal(t, "B", joined["user_id"])
	assert.Equal(t, "R", joined["room_id"])
	assertNoType(t, a, domain.MsgTypeIncomingCall)

	offer := json.RawMessage(`{"sdp":"v=0","type":"offer"}`)
	require.NoError(t, f.signal.HandleSignal(context.Background(), a, &domain.SignalMessage{
		Type:    domain.MsgTypeOffer,
		RoomID:  "R",
		Payload: offer,
	}))

	got := receiveType(t, b, domain.MsgTypeOffer)
	assert.Equal(t, "R", got["room_id"])
	payload, err := json.Marshal(got["payload"])
	require.NoError(t, err)
	assert.JSONEq(t, string(offer), string(payload))

	assertSilent(t, a)
	assert.ElementsMatch(t, []string{"A", "B"}, f.registry.MembersOf("R"))
}

func TestSignal_SenderNeverReceivesOwnEvent(t *testing.T) {
	for _, typ := range []string{domain.MsgTypeOffer, domain.MsgTypeAnswer, domain.MsgTypeICECandidate} {
		t.Run(typ, func(t *testing.T) {
			f := newFixture(t, true)
			a := f.connect("c1", "A")
			b := f.connect("c2", "B")
			f.join(t, a, "R", "")
			f.join(t, b, "R", "")
			receiveType(t, a, domain.MsgTypePeerJoined)

			require.NoError(t, f.signal.HandleSignal(context.Background(), a, &domain.SignalMessage{
				Type:    typ,
				RoomID:  "R",
				Payload: json.RawMessage(`{"candidate":"x"}`),
			}))

			receiveType(t, b, typ)
			assertSilent(t, a)
		})
	}
}

func TestSignal_Validation(t *testing.T) {
	f := newFixture(t, true)
	a := f.connect("c1", "A")

	require.NoError(t, f.signal.HandleSignal(context.Background(), a, &domain.SignalMessage{Type: domain.MsgTypeOffer, Payload: json.RawMessage(`{}`)}))
	errMsg := receiveType(t, a, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeBadRequest, errMsg["code"])

	require.NoError(t, f.signal.HandleSignal(context.Background(), a, &domain.SignalMessage{Type: domain.MsgTypeOffer, RoomID: "R"}))
	errMsg = receiveType(t, a, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeBadRequest, errMsg["code"])
}

func TestJoinRoom_CalleeRungOnce(t *testing.T) {
	f := newFixture(t, true)
	a := f.connect("c1", "A")
	a2 := f.connect("c3", "A")
	b := f.connect("c2", "B")

	f.join(t, a, "R", "B")
	f.join(t, a, "R", "B")
	f.join(t, a2, "R", "B")

	receiveType(t, b, domain.MsgTypeIncomingCall)
	assertNoType(t, b, domain.MsgTypeIncomingCall)
}

func TestJoinRoom_SelfAsCalleeDoesNotRing(t *testing.T) {
	f := newFixture(t, true)
	a := f.connect("c1", "A")

	f.join(t, a, "R", "A")
	assertSilent(t, a)
}

func TestJoinRoom_IdentityChecks(t *testing.T) {
	tests := []struct {
		name         string
		authRequired bool
		sessionUser  string
		claimed      string
		wantCode     string
	}{
		{name: "unauthenticated with auth required", authRequired: true, claimed: "A", wantCode: domain.ErrCodeUnauthorized},
		{name: "claim differs from token", authRequired: true, sessionUser: "A", claimed: "B", wantCode: domain.ErrCodeForbidden},
		{name: "no identity at all", authRequired: false, wantCode: domain.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.authRequired)
			c := f.connect("c1", tt.sessionUser)

			require.NoError(t, f.signal.HandleJoinRoom(context.Background(), c, &domain.JoinRoomMessage{
				Type:   domain.MsgTypeJoinRoom,
				RoomID: "R",
				UserID: tt.claimed,
			}))

			errMsg := receiveType(t, c, domain.MsgTypeError)
			assert.Equal(t, tt.wantCode, errMsg["code"])
			assert.Empty(t, f.registry.MembersOf("R"))
		})
	}
}

func TestJoinRoom_ClaimBindsConnectionWhenAuthOptional(t *testing.T) {
	f := newFixture(t, false)
	c := f.connect("c1", "")
	other := f.connect("c2", "B")

	require.NoError(t, f.signal.HandleJoinRoom(context.Background(), c, &domain.JoinRoomMessage{
		Type:     domain.MsgTypeJoinRoom,
		RoomID:   "R",
		UserID:   "A",
		CalleeID: "B",
	}))
	receiveType(t, other, domain.MsgTypeIncomingCall)
	assert.Equal(t, "A", c.UserID())
	assert.Equal(t, 1, f.hub.UserConnections("A"))

	require.NoError(t, f.signal.HandleJoinRoom(context.Background(), c, &domain.JoinRoomMessage{
		Type:   domain.MsgTypeJoinRoom,
		RoomID: "S",
		UserID: "Z",
	}))
	errMsg := receiveType(t, c, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeForbidden, errMsg["code"])
	assert.False(t, f.registry.Contains("S", "Z"))
}

func TestHangup_PeerLeftOncePerRoom(t *testing.T) {
	f := newFixture(t, true)
	a := f.connect("c1", "A")
	b := f.connect("c2", "B")
	c := f.connect("c3", "C")

	f.join(t, a, "R1", "")
	f.join(t, a, "R2", "")
	f.join(t, b, "R1", "")
	f.join(t, b, "R2", "")
	f.join(t, c, "R2", "")

	require.NoError(t, f.signal.HandleHangup(context.Background(), b, &domain.HangupMessage{Type: domain.MsgTypeHangup}))

	left := receiveType(t, c, domain.MsgTypePeerLeft)
	assert.Equal(t, "R2", left["room_id"])
	assert.Equal(t, "B", left["user_id"])
	assertNoType(t, c, domain.MsgTypePeerLeft)

	seen := map[string]bool{}
	seen[receiveType(t, a, domain.MsgTypePeerLeft)["room_id"].(string)] = true
	seen[receiveType(t, a, domain.MsgTypePeerLeft)["room_id"].(string)] = true
	assert.Equal(t, map[string]bool{"R1": true, "R2": true}, seen)
	assertNoType(t, a, domain.MsgTypePeerLeft)

	assertNoType(t, b, domain.MsgTypePeerLeft)
	assert.False(t, f.registry.Contains("R1", "B"))
	assert.False(t, f.registry.Contains("R2", "B"))
	assert.Equal(t, 2, f.hub.RoomSize("R2"))
}

func TestHangup_SecondHangupIsSilent(t *testing.T) {
	f := newFixture(t, true)
	a := f.connect("c1", "A")
	b := f.connect("c2", "B")
	f.join(t, a, "R", "")
	f.join(t, b, "R", "")

	require.NoError(t, f.signal.HandleHangup(context.Background(), b, &domain.HangupMessage{}))
	receiveType(t, a, domain.MsgTypePeerLeft)

	require.NoError(t, f.signal.HandleHangup(context.Background(), b, &domain.HangupMessage{}))
	assertNoType(t, a, domain.MsgTypePeerLeft)
}

func TestDisconnect_LastConnectionLeavesRooms(t *testing.T) {
	f := newFixture(t, true)
	a := f.connect("c1", "A")
	b1 := f.connect("c2", "B")
	b2 := f.connect("c3", "B")

	f.join(t, a, "R", "")
	f.join(t, b1, "R", "")
	f.join(t, b2, "R", "")

	require.NoError(t, f.signal.HandleDisconnect(context.Background(), b2))
	assertNoType(t, a, domain.MsgTypePeerLeft)
	assert.True(t, f.registry.Contains("R", "B"))

	require.NoError(t, f.signal.HandleDisconnect(context.Background(), b1))
	left := receiveType(t, a, domain.MsgTypePeerLeft)
	assert.Equal(t, "B", left["user_id"])
	assertNoType(t, a, domain.MsgTypePeerLeft)
	assert.False(t, f.registry.Contains("R", "B"))
}

func TestDisconnect_OtherConnectionNotInRoom(t *testing.T) {
	f := newFixture(t, true)
	a := f.connect("c1", "A")
	b1 := f.connect("c2", "B")
	f.connect("c3", "B")

	f.join(t, a, "R", "")
	f.join(t, b1, "R", "")

	require.NoError(t, f.signal.HandleDisconnect(context.Background(), b1))
	left := receiveType(t, a, domain.MsgTypePeerLeft)
	assert.Equal(t, "B", left["user_id"])
	assert.False(t, f.registry.Contains("R", "B"))
}

func TestDisconnect_UnidentifiedConnection(t *testing.T) {
	f := newFixture(t, false)
	a := f.connect("c1", "A")
	anon := f.connect("c2", "")

	f.join(t, a, "R", "")
	f.hub.JoinRoom(anon, "R")

	require.NoError(t, f.signal.HandleDisconnect(context.Background(), anon))
	assertSilent(t, a)
	assert.Equal(t, 1, f.hub.RoomSize("R"))
	assert.Equal(t, []string{"A"}, f.registry.MembersOf("R"))
}

func TestDisconnect_DroppedSlowConnectionLeavesRoom(t *testing.T) {
	ws := config.DefaultWebSocketConfig()
	ws.SendBuffer = 1
	f := newFixtureWith(t, true, setupTestRepo(t), ws, time.Second)
	ctx := context.Background()

	slow := f.connect("c1", "U")
	f.connect("c2", "U")
	peer := f.connect("c3", "V")

	f.join(t, slow, "R", "")
	f.join(t, peer, "R", "")

	// peer_joined fills slow's buffer, so the offer overflows it.
	require.NoError(t, f.signal.HandleSignal(ctx, peer, &domain.SignalMessage{
		Type:    domain.MsgTypeOffer,
		RoomID:  "R",
		Payload: json.RawMessage(`{"sdp":"x"}`),
	}))
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.signal.HandleDisconnect(ctx, slow))

	left := receiveType(t, peer, domain.MsgTypePeerLeft)
	assert.Equal(t, "U", left["user_id"])
	assert.False(t, f.registry.Contains("R", "U"))
	assert.Equal(t, []string{"V"}, f.registry.MembersOf("R"))
}

func TestDisconnect_ConcurrentReconnectKeepsMembership(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	peer := f.connect("peer", "B")
	f.join(t, peer, "R", "")

	for i := 0; i < 30; i++ {
		old := f.connect(fmt.Sprintf("old-%d", i), "A")
		f.join(t, old, "R", "")

		var wg sync.WaitGroup
		var fresh *hub.Client
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.signal.HandleDisconnect(ctx, old)
		}()
		go func() {
			defer wg.Done()
			fresh = f.connect(fmt.Sprintf("new-%d", i), "A")
			f.signal.HandleJoinRoom(ctx, fresh, &domain.JoinRoomMessage{RoomID: "R"})
		}()
		wg.Wait()

		require.True(t, f.registry.Contains("R", "A"), "iteration %d", i)
		require.True(t, f.hub.UserInRoom("A", "R"), "iteration %d", i)

		require.NoError(t, f.signal.HandleDisconnect(ctx, fresh))
		require.False(t, f.registry.Contains("R", "A"))
		f.hub.Unregister(old)
		f.hub.Unregister(fresh)
	}
}

func TestHangup_ConcurrentJoinStaysConsistent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	peer := f.connect("peer", "B")
	f.join(t, peer, "R", "")

	for i := 0; i < 30; i++ {
		first := f.connect(fmt.Sprintf("a1-%d", i), "A")
		second := f.connect(fmt.Sprintf("a2-%d", i), "A")
		f.join(t, first, "R", "")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.signal.HandleHangup(ctx, first, &domain.HangupMessage{})
		}()
		go func() {
			defer wg.Done()
			f.signal.HandleJoinRoom(ctx, second, &domain.JoinRoomMessage{RoomID: "R"})
		}()
		wg.Wait()

		assert.Equal(t, f.registry.Contains("R", "A"), f.hub.UserInRoom("A", "R"), "iteration %d", i)

		require.NoError(t, f.signal.HandleHangup(ctx, second, &domain.HangupMessage{}))
		f.hub.Unregister(first)
		f.hub.Unregister(second)
	}
}

func TestAuth(t *testing.T) {
	f := newFixture(t, true)
	c := f.connect("c1", "")

	require.Error(t, f.signal.HandleAuth(context.Background(), c, "garbage"))
	res := receiveType(t, c, domain.MsgTypeAuthResult)
	assert.Equal(t, false, res["success"])
	assert.False(t, c.Session.IsAuthenticated())

	token, err := f.tokens.Issue("A", "alice", time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.signal.HandleAuth(context.Background(), c, token))
	res = receiveType(t, c, domain.MsgTypeAuthResult)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "A", res["user_id"])
	assert.Equal(t, 1, f.hub.UserConnections("A"))

	other, err := f.tokens.Issue("B", "bob", time.Minute)
	require.NoError(t, err)
	require.Error(t, f.signal.HandleAuth(context.Background(), c, other))
	res = receiveType(t, c, domain.MsgTypeAuthResult)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "A", c.UserID())
}

func TestStart_DeliversBusNotifications(t *testing.T) {
	h := hub.NewHub(config.DefaultWebSocketConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)

	bus := pubsub.NewLocalPubSub()
	t.Cleanup(func() { bus.Close() })

	notifier := NewPubSubNotifier(bus)
	registry := room.NewRegistry()
	chat := NewChatService(setupTestRepo(t), notifier, nil, time.Second)
	svc := NewSignalService(h, registry, chat, nil, notifier, bus, nil, config.AuthConfig{})
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { svc.Stop() })

	a := hub.NewClient("c1", h, nil)
	h.Register(a)
	b := hub.NewClient("c2", h, nil)
	h.Register(b)
	require.NoError(t, svc.HandleJoinRoom(ctx, b, &domain.JoinRoomMessage{RoomID: "lobby", UserID: "B"}))

	require.NoError(t, svc.HandleJoinRoom(ctx, a, &domain.JoinRoomMessage{RoomID: "R", UserID: "A", CalleeID: "B"}))
	ring := receiveType(t, b, domain.MsgTypeIncomingCall)
	assert.Equal(t, "A", ring["caller_id"])

	require.NoError(t, svc.HandleChatMessage(ctx, a, &domain.ChatMessage{ReceiverID: "B", Content: "hello"}))
	msg := receiveType(t, b, domain.MsgTypeNewMessage)
	assert.Equal(t, "hello", msg["content"])
	assert.Equal(t, "A", msg["sender_id"])
}
