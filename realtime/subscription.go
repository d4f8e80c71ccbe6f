/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handlers receive the events of one room channel. Nil handlers are skipped.
type Handlers struct {
	OnRoomUpdated  func(Event)
	OnPlayerJoined func(Event)
	OnPlayerLeft   func(Event)
	OnGameStarted  func(Event)
	OnPlayerKicked func(Event)

	// OnDisconnect reports a connection lost without Unsubscribe.
	OnDisconnect func(error)
}

func (h Handlers) dispatch(ev Event) {
	var fn func(Event)

	switch ev.Type {
	case EventRoomUpdated:
		fn = h.OnRoomUpdated
	case EventPlayerJoined:
		fn = h.OnPlayerJoined
	case EventPlayerLeft:
		fn = h.OnPlayerLeft
	case EventGameStarted:
		fn = h.OnGameStarted
	case EventPlayerKicked:
		fn = h.OnPlayerKicked
	}

	if fn != nil {
		fn(ev)
	}
}

// Subscription is the client end of a room channel.
type Subscription struct {
	url      string
	handlers Handlers
	dialer   *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSubscription prepares a subscription to the channel at url
// (ws:// or wss://). Nothing is dialed until Subscribe.
func NewSubscription(url string, h Handlers) *Subscription {
	return &Subscription{
		url:      url,
		handlers: h,
		dialer: &websocket.Dialer{
			HandshakeTimeout: writeWait,
		},
	}
}

// Subscribe connects unless a live connection already exists, in which
// case it does nothing. A connection that died is replaced.
func (s *Subscription) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", s.url, err)
	}

	s.conn = conn
	go s.readLoop(conn)

	return nil
}

// Active reports whether the subscription holds a live connection.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn != nil
}

// Unsubscribe closes the connection. It is safe to call repeatedly.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	_ = conn.Close()
}

func (s *Subscription) readLoop(conn *websocket.Conn) {
	// the server pings every pingPeriod; silence past pongWait is a dead peer
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}

		return err
	})

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			s.mu.Lock()
			lost := s.conn == conn
			if lost {
				s.conn = nil
			}
			s.mu.Unlock()

			_ = conn.Close()

			if lost && s.handlers.OnDisconnect != nil {
				s.handlers.OnDisconnect(err)
			}

			return
		}

		s.handlers.dispatch(ev)
	}
}
