/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session keeps a client attached to its room across reloads,
// dropped connections and silent channel failures.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Seednode/impostor/realtime"
	"github.com/Seednode/impostor/room"
)

var ErrNoSession = errors.New("not in a room")

const (
	noticeResumed  = "Game resumed"
	noticeRejoined = "Rejoined the room as a new player"
	noticeKicked   = "You have been kicked from the room."
	noticeGone     = "The room no longer exists."
)

// RoomAPI is the server as the controller sees it. Precondition failures
// come back as the room package's sentinel errors.
type RoomAPI interface {
	CreateRoom(ctx context.Context, playerName string, language room.Language, disallowImpostorStart bool) (roomID, playerID string, err error)
	JoinRoom(ctx context.Context, roomID, playerName string) (playerID string, err error)
	LeaveRoom(ctx context.Context, roomID, playerID string) error
	StartGame(ctx context.Context, roomID, playerID string) error
	KickPlayer(ctx context.Context, roomID, targetID, hostID string) error
	GetRoom(ctx context.Context, roomID, playerID string) (*room.View, error)
}

// Subscriber is a room channel subscription. Subscribe must be a no-op
// while the connection is alive and must redial once it is not.
type Subscriber interface {
	Subscribe(ctx context.Context) error
	Unsubscribe()
}

type SubscriberFactory func(roomID, playerID string, h realtime.Handlers) Subscriber

type Visibility int

const (
	Hidden Visibility = iota
	Visible
)

// State is the client's view of its session. Treat it as read-only.
type State struct {
	Room       *room.View
	PlayerID   string
	PlayerName string
	Connecting bool
	Notice     string
}

// subToken identifies one subscription; it must not be zero-sized.
type subToken struct{ _ byte }

type Controller struct {
	api       RoomAPI
	storage   Storage
	subscribe SubscriberFactory
	logger    zerolog.Logger
	now       func() time.Time
	maxAge    time.Duration
	onChange  func(State)

	// serializes reconnection attempts
	reconnectMu sync.Mutex

	retryMin time.Duration
	retryMax time.Duration
	done     chan struct{}
	stop     sync.Once

	mu         sync.Mutex
	state      State
	gen        uint64
	sub        Subscriber
	tok        *subToken
	subOf      [2]string
	recovering bool
	lostAgain  bool
}

type Option func(*Controller)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(c *Controller) {
		c.maxAge = d
	}
}

// WithRetryBackoff sets the first and the longest wait between attempts to
// recover a channel the transport reported as lost.
func WithRetryBackoff(first, longest time.Duration) Option {
	return func(c *Controller) {
		c.retryMin, c.retryMax = first, longest
	}
}

// WithOnChange registers a callback run after every state change.
func WithOnChange(fn func(State)) Option {
	return func(c *Controller) {
		c.onChange = fn
	}
}

func New(api RoomAPI, storage Storage, subscribe SubscriberFactory, opts ...Option) *Controller {
	c := &Controller{
		api:       api,
		storage:   storage,
		subscribe: subscribe,
		logger:    zerolog.Nop(),
		now:       time.Now,
		maxAge:    MaxAge,
		retryMin:  time.Second,
		retryMax:  30 * time.Second,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Controller) emit() {
	if c.onChange == nil {
		return
	}

	c.onChange(c.State())
}

// bump starts a new generation; anything tagged with an older one is stale.
func (c *Controller) bump() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.state.Connecting = false

	return c.gen
}

// SaveSession records the current room, player and name.
func (c *Controller) SaveSession() {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	if st.Room == nil || st.PlayerID == "" || st.PlayerName == "" {
		return
	}

	err := c.storage.Save(Descriptor{
		RoomID:     st.Room.ID,
		PlayerID:   st.PlayerID,
		PlayerName: st.PlayerName,
		Timestamp:  c.now(),
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("saving session")
	}
}

// LoadSession returns the saved descriptor unless it is missing, unreadable
// or older than the maximum age. Stale and unreadable records are erased.
func (c *Controller) LoadSession() (Descriptor, bool) {
	d, err := c.storage.Load()
	if err != nil {
		c.logger.Warn().Err(err).Msg("loading session")
		c.ClearSession()

		return Descriptor{}, false
	}

	if d == nil {
		return Descriptor{}, false
	}

	if c.now().Sub(d.Timestamp) > c.maxAge {
		c.ClearSession()

		return Descriptor{}, false
	}

	return *d, true
}

func (c *Controller) ClearSession() {
	if err := c.storage.Clear(); err != nil {
		c.logger.Warn().Err(err).Msg("clearing session")
	}
}

// adopt installs a fetched room as the current state if gen is still current.
func (c *Controller) adopt(gen uint64, view *room.View, playerID, playerName, notice string) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()

		return false
	}

	c.state.Room = view
	c.state.PlayerID = playerID
	c.state.PlayerName = playerName
	c.state.Notice = notice
	c.mu.Unlock()

	c.emit()

	return true
}

// reset drops the room, the subscription and the saved session.
func (c *Controller) reset(notice string) {
	c.mu.Lock()
	c.gen++
	sub := c.sub
	c.sub, c.tok = nil, nil
	c.state = State{Notice: notice}
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	c.ClearSession()
	c.emit()
}

func (c *Controller) handlers(tok *subToken) realtime.Handlers {
	snapshot := func(ev realtime.Event) {
		c.mu.Lock()
		if c.tok != tok {
			c.mu.Unlock()

			return
		}

		// every snapshot replaces the last, whatever order they arrive in
		view := ev.Room
		c.state.Room = &view
		c.mu.Unlock()

		c.emit()
	}

	return realtime.Handlers{
		OnRoomUpdated:  snapshot,
		OnPlayerJoined: snapshot,
		OnPlayerLeft:   snapshot,
		OnGameStarted:  snapshot,
		OnPlayerKicked: func(ev realtime.Event) {
			c.mu.Lock()
			kicked := c.tok == tok && ev.KickedPlayerID == c.state.PlayerID
			c.mu.Unlock()

			if !kicked {
				snapshot(ev)

				return
			}

			c.logger.Info().Str("room", ev.Room.ID).Msg("kicked from room")
			c.reset(noticeKicked)
		},
		OnDisconnect: func(err error) {
			c.mu.Lock()
			current := c.tok == tok
			c.mu.Unlock()

			if !current {
				return
			}

			c.logger.Warn().Err(err).Msg("room channel lost")
			c.recoverChannel()
		},
	}
}

// subscribeTo makes sure a live subscription for roomID as playerID exists.
// With fresh set, any existing subscription is torn down and redialed even
// if it still looks connected.
func (c *Controller) subscribeTo(ctx context.Context, gen uint64, roomID, playerID string, fresh bool) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()

		return nil
	}

	var stale Subscriber
	if c.sub != nil && (fresh || c.subOf != [2]string{roomID, playerID}) {
		stale = c.sub
		c.sub, c.tok = nil, nil
	}

	if c.sub == nil {
		tok := &subToken{}
		c.tok = tok
		c.sub = c.subscribe(roomID, playerID, c.handlers(tok))
		c.subOf = [2]string{roomID, playerID}
	}
	sub := c.sub
	c.mu.Unlock()

	if stale != nil {
		stale.Unsubscribe()
	}

	return sub.Subscribe(ctx)
}

// establish fetches the room for a freshly issued identity and goes live.
func (c *Controller) establish(ctx context.Context, gen uint64, roomID, playerID, playerName, notice string) error {
	view, err := c.api.GetRoom(ctx, roomID, playerID)
	if err != nil {
		return err
	}

	if !c.adopt(gen, view, playerID, playerName, notice) {
		return nil
	}

	c.SaveSession()

	if err := c.subscribeTo(ctx, gen, roomID, playerID, false); err != nil {
		return fmt.Errorf("subscribing to room: %w", err)
	}

	return nil
}

func (c *Controller) CreateRoom(ctx context.Context, playerName string, language room.Language, disallowImpostorStart bool) error {
	gen := c.bump()

	roomID, playerID, err := c.api.CreateRoom(ctx, playerName, language, disallowImpostorStart)
	if err != nil {
		return err
	}

	return c.establish(ctx, gen, roomID, playerID, playerName, "")
}

func (c *Controller) JoinRoom(ctx context.Context, roomID, playerName string) error {
	gen := c.bump()

	playerID, err := c.api.JoinRoom(ctx, roomID, playerName)
	if err != nil {
		return err
	}

	return c.establish(ctx, gen, roomID, playerID, playerName, "")
}

func (c *Controller) identity() (roomID, playerID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Room == nil || c.state.PlayerID == "" {
		return "", "", ErrNoSession
	}

	return c.state.Room.ID, c.state.PlayerID, nil
}

// LeaveRoom leaves explicitly and forgets the session. A room or player
// that is already gone counts as left.
func (c *Controller) LeaveRoom(ctx context.Context) error {
	roomID, playerID, err := c.identity()
	if err != nil {
		return err
	}

	err = c.api.LeaveRoom(ctx, roomID, playerID)
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) && !errors.Is(err, room.ErrPlayerNotFound) {
		return err
	}

	c.reset("")

	return nil
}

func (c *Controller) StartGame(ctx context.Context) error {
	roomID, playerID, err := c.identity()
	if err != nil {
		return err
	}

	return c.api.StartGame(ctx, roomID, playerID)
}

func (c *Controller) KickPlayer(ctx context.Context, targetID string) error {
	roomID, playerID, err := c.identity()
	if err != nil {
		return err
	}

	return c.api.KickPlayer(ctx, roomID, targetID, playerID)
}

// newestPlayerID prefers an identity for roomID issued after the caller
// captured its arguments, so repeated attempts never join twice.
func (c *Controller) newestPlayerID(roomID, playerID string) string {
	c.mu.Lock()
	if c.state.Room != nil && c.state.Room.ID == roomID && c.state.PlayerID != "" {
		playerID = c.state.PlayerID
		c.mu.Unlock()

		return playerID
	}
	c.mu.Unlock()

	if d, ok := c.LoadSession(); ok && d.RoomID == roomID {
		return d.PlayerID
	}

	return playerID
}

func (c *Controller) setConnecting(gen uint64, connecting bool) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()

		return
	}
	c.state.Connecting = connecting
	c.mu.Unlock()

	c.emit()
}

// reconnectFailed ends an attempt. A room that is gone or closed ends the
// session; anything else is a transport fault and the session is kept.
func (c *Controller) reconnectFailed(gen uint64, roomID string, err error) (bool, error) {
	if !errors.Is(err, room.ErrRoomNotFound) && !errors.Is(err, room.ErrRoomFinished) {
		return false, err
	}

	c.logger.Info().Str("room", roomID).Msg("room is gone, session cleared")

	c.mu.Lock()
	current := gen == c.gen
	c.mu.Unlock()

	if current {
		c.reset(noticeGone)
	} else {
		c.ClearSession()
	}

	return false, nil
}

// AttemptReconnection resumes the session as playerID if the room still
// lists it, or rejoins as a new player under playerName if it does not.
// It reports false when the room no longer exists or the attempt was
// superseded; errors are transport faults and leave the session in place.
func (c *Controller) AttemptReconnection(ctx context.Context, roomID, playerID, playerName string) (bool, error) {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	gen := c.bump()
	c.setConnecting(gen, true)
	defer c.setConnecting(gen, false)

	playerID = c.newestPlayerID(roomID, playerID)

	view, err := c.api.GetRoom(ctx, roomID, playerID)
	if err != nil {
		return c.reconnectFailed(gen, roomID, err)
	}

	notice := noticeResumed
	rejoined := false

	if !view.HasPlayer(playerID) {
		playerID, err = c.api.JoinRoom(ctx, roomID, playerName)
		if err != nil {
			return c.reconnectFailed(gen, roomID, err)
		}
		rejoined = true
		notice = noticeRejoined

		view, err = c.api.GetRoom(ctx, roomID, playerID)
		if err != nil {
			return c.reconnectFailed(gen, roomID, err)
		}
	}

	if !c.adopt(gen, view, playerID, playerName, notice) {
		if rejoined {
			// nobody will ever use this identity
			_ = c.api.LeaveRoom(context.WithoutCancel(ctx), roomID, playerID)
		}

		return false, nil
	}

	c.SaveSession()

	// the old channel may be open yet silent, so never trust it here
	if err := c.subscribeTo(ctx, gen, roomID, playerID, true); err != nil {
		return false, fmt.Errorf("subscribing to room: %w", err)
	}

	c.logger.Info().Str("room", roomID).Str("player", playerID).Bool("rejoined", rejoined).Msg("reconnected")

	return true, nil
}

// recoverChannel retries the session in the background, backing off between
// attempts, until one settles or the session ends. Only one runs at a time;
// a loss reported meanwhile starts another round once it finishes.
func (c *Controller) recoverChannel() {
	c.mu.Lock()
	if c.recovering {
		c.lostAgain = true
		c.mu.Unlock()

		return
	}
	c.recovering = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			again := c.lostAgain
			c.recovering, c.lostAgain = false, false
			c.mu.Unlock()

			select {
			case <-c.done:
			default:
				if again {
					c.recoverChannel()
				}
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		delay := c.retryMin

		for {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()

				return
			case <-timer.C:
			}

			st := c.State()
			if st.Room == nil || st.PlayerID == "" || st.PlayerName == "" {
				return
			}

			_, err := c.AttemptReconnection(ctx, st.Room.ID, st.PlayerID, st.PlayerName)
			if err == nil || ctx.Err() != nil {
				return
			}

			delay = min(2*delay, c.retryMax)

			c.logger.Warn().Err(err).Dur("retry", delay).Msg("recovering room channel")
		}
	}()
}

// Close drops the subscription and stops background recovery but keeps the
// saved session, so a later Restore can resume it.
func (c *Controller) Close() {
	c.stop.Do(func() { close(c.done) })

	c.mu.Lock()
	c.gen++
	sub := c.sub
	c.sub, c.tok = nil, nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

// Restore reconnects using the saved session, if there is one.
func (c *Controller) Restore(ctx context.Context) (bool, error) {
	d, ok := c.LoadSession()
	if !ok {
		return false, nil
	}

	return c.AttemptReconnection(ctx, d.RoomID, d.PlayerID, d.PlayerName)
}

// Monitor reconnects every time the client comes back to the foreground,
// which also recovers channels that died without reporting it.
func (c *Controller) Monitor(ctx context.Context, visibility <-chan Visibility) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-visibility:
			if !ok {
				return
			}

			if v != Visible {
				continue
			}

			st := c.State()

			var err error
			if st.Room != nil && st.PlayerID != "" && st.PlayerName != "" {
				_, err = c.AttemptReconnection(ctx, st.Room.ID, st.PlayerID, st.PlayerName)
			} else {
				_, err = c.Restore(ctx)
			}

			if err != nil {
				c.logger.Warn().Err(err).Msg("reconnecting after returning to foreground")
			}
		}
	}
}
