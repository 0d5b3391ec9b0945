package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/weiawesome/wes-io-live/call-service/internal/config"
	"github.com/weiawesome/wes-io-live/call-service/internal/hub"
	"github.com/weiawesome/wes-io-live/call-service/internal/repository"
	"github.com/weiawesome/wes-io-live/call-service/internal/service"
	"github.com/weiawesome/wes-io-live/call-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/call-service/pkg/middleware"
)

const testSecret = "handler-test-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	engine *gin.Engine
	hub    *hub.Hub
	chat   service.ChatService
	tokens *jwt.Manager
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

func newTestServer(t *testing.T, iceServers []config.ICEServerConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.NewHub(config.DefaultWebSocketConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)

	tokens, err := jwt.NewManager(testSecret, "")
	require.NoError(t, err)

	chat := service.NewChatService(setupTestRepo(t), service.NewHubNotifier(h), nil, time.Second)

	r := gin.New()
	NewHandler(chat, middleware.NewAuthMiddleware(tokens)).RegisterRoutes(r)
	NewICEHandler(iceServers).RegisterRoutes(r)

	return &testServer{engine: r, hub: h, chat: chat, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := s.tokens.Issue(userID, userID, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestRoutes_RequireAuth(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := s.do(t, http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)
}

func TestOpenConversation_CreatedThenExisting(t *testing.T) {
	s := newTestServer(t, nil)

	w, env := s.do(t, http.MethodPost, "/api/v1/conversations", "A", map[string]string{"receiver_id": "B"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	w, env = s.do(t, http.MethodPost, "/api/v1/conversations", "B", map[string]string{"receiver_id": "A"})
	require.Equal(t, http.StatusOK, w.Code)
	var existing struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &existing))
	assert.Equal(t, created.ID, existing.ID)

	w, _ = s.do(t, http.MethodPost, "/api/v1/conversations", "A", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessage_NotifiesAndPersists(t *testing.T) {
	s := newTestServer(t, nil)

	b := hub.NewClient("c2", s.hub, nil)
	s.hub.Register(b)
	b.Session.Authenticate("B", "B")
	s.hub.BindUser(b, "B")

	w, env := s.do(t, http.MethodPost, "/api/v1/messages", "A", map[string]string{"receiver_id": "B", "content": "hello"})
	require.Equal(t, http.StatusCreated, w.Code)

	var sent struct {
		Message struct {
			Content string `json:"content"`
			Date    string `json:"date"`
		} `json:"message"`
		Conversation struct {
			UnreadCountUserTwo int `json:"unread_count_user_two"`
		} `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, "hello", sent.Message.Content)
	assert.NotEmpty(t, sent.Message.Date)
	assert.Equal(t, 1, sent.Conversation.UnreadCountUserTwo)

	select {
	case data := <-b.Send:
		assert.Contains(t, string(data), `"type":"new_message"`)
	case <-time.After(time.Second):
		t.Fatal("receiver got no new_message")
	}

	w, _ = s.do(t, http.MethodPost, "/api/v1/messages", "A", map[string]string{"receiver_id": "B", "content": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessages(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	_, conv, err := s.chat.SendMessage(ctx, "A", "B", "one")
	require.NoError(t, err)
	_, _, err = s.chat.SendMessage(ctx, "A", "B", "two")
	require.NoError(t, err)

	w, env := s.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", "B", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Conversation struct {
			UnreadCountUserTwo int `json:"unread_count_user_two"`
		} `json:"conversation"`
		Groups []struct {
			Date     string `json:"date"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		} `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Len(t, res.Groups, 1)
	require.Len(t, res.Groups[0].Messages, 2)
	assert.Equal(t, "one", res.Groups[0].Messages[0].Content)
	assert.Zero(t, res.Conversation.UnreadCountUserTwo)

	w, _ = s.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", "C", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/conversations/missing/messages", "A", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListConversations(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	_, _, err := s.chat.SendMessage(ctx, "A", "B", "first")
	require.NoError(t, err)
	_, _, err = s.chat.SendMessage(ctx, "C", "A", "second")
	require.NoError(t, err)

	w, env := s.do(t, http.MethodGet, "/api/v1/conversations", "A", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list []struct {
		LastMessage string `json:"last_message"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].LastMessage)
}
