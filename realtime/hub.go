/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection subscribed to a room channel.
type Client struct {
	conn     *websocket.Conn
	send     chan Event
	playerID string
}

type channel struct {
	id      string
	clients map[*Client]bool
	mu      sync.Mutex
}

// presentLocked must be called with ch.mu held.
func (ch *channel) presentLocked(playerID string) bool {
	for c := range ch.clients {
		if c.playerID == playerID {
			return true
		}
	}

	return false
}

// Manager owns one channel per room id. Channels appear with their first
// subscriber and disappear with their last.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*channel
	timers   map[string]*time.Timer

	grace    time.Duration
	onAbsent func(roomID, playerID string)
	logger   zerolog.Logger
}

type ManagerOption func(*Manager)

// WithPresence removes players that stay disconnected for longer than
// grace by calling onAbsent. A zero grace disables removal.
func WithPresence(grace time.Duration, onAbsent func(roomID, playerID string)) ManagerOption {
	return func(m *Manager) {
		m.grace = grace
		m.onAbsent = onAbsent
	}
}

func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		channels: make(map[string]*channel),
		timers:   make(map[string]*time.Timer),
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func presenceKey(roomID, playerID string) string {
	return roomID + "/" + playerID
}

// Publish delivers n to every subscriber of its room, each projected for
// that subscriber. Subscribers that cannot keep up are dropped.
func (m *Manager) Publish(n Notice) {
	m.mu.Lock()
	ch, ok := m.channels[n.Room.ID]
	m.mu.Unlock()

	if !ok {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	for c := range ch.clients {
		select {
		case c.send <- n.For(c.playerID):
		default:
			m.logger.Warn().Str("room", ch.id).Str("player", c.playerID).Msg("dropping slow subscriber")
			delete(ch.clients, c)
			close(c.send)
		}
	}
}

// Subscribers counts the open connections on a room's channel.
func (m *Manager) Subscribers(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[roomID]
	if !ok {
		return 0
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	return len(ch.clients)
}

func (m *Manager) register(roomID string, c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[roomID]
	if !ok {
		ch = &channel{id: roomID, clients: make(map[*Client]bool)}
		m.channels[roomID] = ch
	}

	ch.mu.Lock()
	ch.clients[c] = true
	ch.mu.Unlock()

	key := presenceKey(roomID, c.playerID)
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) unregister(roomID string, c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[roomID]
	if !ok {
		return
	}

	ch.mu.Lock()
	if _, ok := ch.clients[c]; ok {
		delete(ch.clients, c)
		close(c.send)
	}
	present := ch.presentLocked(c.playerID)
	empty := len(ch.clients) == 0
	ch.mu.Unlock()

	if empty {
		delete(m.channels, roomID)
	}

	if !present && c.playerID != "" && m.grace > 0 && m.onAbsent != nil {
		m.scheduleRemovalLocked(roomID, c.playerID)
	}
}

// scheduleRemovalLocked must be called with m.mu held.
func (m *Manager) scheduleRemovalLocked(roomID, playerID string) {
	key := presenceKey(roomID, playerID)
	if t, ok := m.timers[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		if m.timers[key] != t {
			m.mu.Unlock()

			return
		}
		delete(m.timers, key)

		if ch, ok := m.channels[roomID]; ok {
			ch.mu.Lock()
			present := ch.presentLocked(playerID)
			ch.mu.Unlock()

			if present {
				m.mu.Unlock()

				return
			}
		}
		m.mu.Unlock()

		m.logger.Info().Str("room", roomID).Str("player", playerID).Msg("player did not come back")
		m.onAbsent(roomID, playerID)
	})
	m.timers[key] = t
}

// Serve upgrades the request and subscribes it to roomID on behalf of
// playerID, which may be empty for an observer. It returns when the
// connection closes.
func (m *Manager) Serve(w http.ResponseWriter, r *http.Request, roomID, playerID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		conn:     conn,
		send:     make(chan Event, sendBuffer),
		playerID: playerID,
	}

	m.register(roomID, client)

	go client.writePump()
	client.readPump(m, roomID)

	return nil
}

func (c *Client) readPump(m *Manager, roomID string) {
	defer func() {
		m.unregister(roomID, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// subscribers have nothing to say; a chatty one is cut off
	limiter := rate.NewLimiter(1, 5)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}

		if !limiter.Allow() {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber and cancels pending removals.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}

	for id, ch := range m.channels {
		ch.mu.Lock()
		for c := range ch.clients {
			close(c.send)
			_ = c.conn.Close()
			delete(ch.clients, c)
		}
		ch.mu.Unlock()
		delete(m.channels, id)
	}
}
