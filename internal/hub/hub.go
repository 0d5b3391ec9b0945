package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	pkglog "github.com/weiawesome/wes-io-live/call-service/pkg/log"
	"github.com/weiawesome/wes-io-live/call-service/internal/config"
)

// Hub manages all WebSocket connections, their room broadcast groups and the
// per-user subscription table.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client // roomID -> clientID -> client
	users      map[string]map[string]*Client // userID -> clientID -> client
	unregister chan *Client
	broadcast  chan *RoomMessage
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// RoomMessage is a message to be broadcast to a room.
type RoomMessage struct {
	RoomID  string
	Message []byte
	Exclude string // Client ID to exclude from broadcast
}

// DetachResult describes a client's subscriptions at the moment it was
// detached. Rooms is empty when the client had already been dropped.
type DetachResult struct {
	UserID string
	// Rooms the client was subscribed to.
	Rooms []string
	// LastConnection is true when the user has no other connection left.
	LastConnection bool
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		users:      make(map[string]map[string]*Client),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan *RoomMessage, 256),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Run processes unregistrations and room broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	l := pkglog.L()
	defer h.stopOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.unregister:
			h.remove(client)
			l.Debug().Str(pkglog.FieldConnectionID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for clientID, client := range h.rooms[msg.RoomID] {
				if clientID == msg.Exclude {
					continue
				}
				h.trySend(client, msg.Message)
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	l := pkglog.L()
	l.Debug().Str(pkglog.FieldConnectionID, client.ID).Msg("client registered")
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	h.detachLocked(client)
	delete(h.clients, client.ID)
	close(client.Send)
}

// BindUser adds the client to userID's subscription set.
func (h *Hub) BindUser(client *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[string]*Client)
	}
	h.users[userID][client.ID] = client
}

// JoinRoom subscribes a client to a room's broadcast group.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client
}

// LeaveRoomForUser unsubscribes every connection of userID from roomID.
func (h *Hub) LeaveRoomForUser(userID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for clientID := range h.users[userID] {
		h.leaveRoomLocked(clientID, roomID)
	}
}

func (h *Hub) leaveRoomLocked(clientID, roomID string) {
	if roomClients, ok := h.rooms[roomID]; ok {
		delete(roomClients, clientID)
		if len(roomClients) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Detach removes the client from every room and from its user's subscription
// set while keeping it registered, so replies can still reach it. The whole
// operation runs under one lock, which lets two connections of the same user
// closing at once agree on which of them was last.
func (h *Hub) Detach(client *Client) DetachResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detachLocked(client)
}

func (h *Hub) detachLocked(client *Client) DetachResult {
	res := DetachResult{UserID: client.UserID()}

	for roomID, roomClients := range h.rooms {
		if _, ok := roomClients[client.ID]; ok {
			res.Rooms = append(res.Rooms, roomID)
			h.leaveRoomLocked(client.ID, roomID)
		}
	}
	sort.Strings(res.Rooms)

	if res.UserID == "" {
		return res
	}

	conns := h.users[res.UserID]
	delete(conns, client.ID)
	if len(conns) == 0 {
		delete(h.users, res.UserID)
		res.LastConnection = true
	}
	return res
}

// UserInRoom reports whether any live connection of userID is subscribed to
// roomID.
func (h *Hub) UserInRoom(userID, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID := range h.rooms[roomID] {
		if _, ok := h.users[userID][clientID]; ok {
			return true
		}
	}
	return false
}

// BroadcastToRoom queues message for every client in roomID except exclude.
func (h *Hub) BroadcastToRoom(roomID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- &RoomMessage{RoomID: roomID, Message: data, Exclude: exclude}:
	case <-h.done:
	}
	return nil
}

// SendToClient sends a message to a specific client.
func (h *Hub) SendToClient(clientID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.deliver(clientID, data)
	return nil
}

// SendToUser sends a message to every connection bound to userID and returns
// how many connections it was queued for.
func (h *Hub) SendToUser(userID string, message interface{}) (int, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return 0, err
	}
	return h.SendRawToUser(userID, data), nil
}

// SendRawToUser is SendToUser for an already encoded message.
func (h *Hub) SendRawToUser(userID string, data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, client := range h.users[userID] {
		if h.trySend(client, data) {
			n++
		}
	}
	return n
}

func (h *Hub) deliver(clientID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.clients[clientID]; ok {
		h.trySend(client, data)
	}
}

// trySend must be called with h.mu held. A client whose buffer is full is
// dropped; its room memberships are reconciled when its read loop ends.
func (h *Hub) trySend(client *Client, data []byte) bool {
	select {
	case client.Send <- data:
		return true
	default:
		l := pkglog.L()
		l.Warn().Str(pkglog.FieldConnectionID, client.ID).Msg("send buffer full, dropping client")
		go h.Unregister(client)
		return false
	}
}

// RoomsOf returns the rooms a client is subscribed to.
func (h *Hub) RoomsOf(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var rooms []string
	for roomID, roomClients := range h.rooms {
		if _, ok := roomClients[client.ID]; ok {
			rooms = append(rooms, roomID)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// RoomSize returns the number of connections subscribed to roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// UserConnections returns the number of connections bound to userID.
func (h *Hub) UserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
