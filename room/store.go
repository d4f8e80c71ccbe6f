/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long an untouched room survives.
const DefaultTTL = 3 * time.Hour

// Backend persists rooms under expiring keys. Every write stamps UpdatedAt
// and pushes the expiry out by the backend's TTL.
type Backend interface {
	// Get returns ErrRoomNotFound for missing or expired rooms.
	Get(ctx context.Context, id string) (*Room, error)

	// Put stores a new room.
	Put(ctx context.Context, r *Room) error

	// Update applies fn to a private copy of the room and persists the
	// result. Calls for the same id are serialized. If fn fails nothing
	// is written and its error is returned.
	Update(ctx context.Context, id string, fn func(*Room) error) (*Room, error)

	// Sweep deletes expired rooms.
	Sweep(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Store is the only writer of rooms. Each operation is one atomic
// read-modify-write against a single room.
type Store struct {
	backend Backend
	words   Words
	pick    Chooser
	newID   func() string
	now     func() time.Time
	logger  zerolog.Logger
}

type Option func(*Store)

// WithChooser replaces the random source for roles, words and starting players.
func WithChooser(pick Chooser) Option {
	return func(s *Store) {
		s.pick = pick
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func NewStore(backend Backend, words Words, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		words:   words,
		pick:    RandomChooser,
		newID:   uuid.NewString,
		now:     time.Now,
		logger:  zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateRoom persists a new waiting room hosted by hostName and returns it
// with the host's player id.
func (s *Store) CreateRoom(ctx context.Context, hostName string, language Language, disallowImpostorStart bool) (*Room, string, error) {
	playerID := s.newID()
	r := New(s.newID(), playerID, hostName, language, disallowImpostorStart, s.now())

	if err := s.backend.Put(ctx, r); err != nil {
		return nil, "", err
	}

	s.logger.Info().Str("room", r.ID).Str("player", playerID).Msg("room created")

	return r, playerID, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	return s.backend.Get(ctx, roomID)
}

// AddPlayer joins playerName to a room that is not finished.
func (s *Store) AddPlayer(ctx context.Context, roomID, playerName string) (*Room, string, error) {
	playerID := s.newID()

	r, err := s.backend.Update(ctx, roomID, func(r *Room) error {
		return r.AddPlayer(playerID, playerName)
	})
	if err != nil {
		return nil, "", err
	}

	s.logger.Info().Str("room", roomID).Str("player", playerID).Msg("player joined")

	return r, playerID, nil
}

// RemovePlayer takes playerID out of the room, keeping the room even when
// it becomes empty so players can still reconnect until it expires.
func (s *Store) RemovePlayer(ctx context.Context, roomID, playerID string) (*Room, Player, error) {
	var removed Player

	r, err := s.backend.Update(ctx, roomID, func(r *Room) error {
		var err error
		removed, err = r.RemovePlayer(playerID)

		return err
	})
	if err != nil {
		return nil, Player{}, err
	}

	if len(r.Players) == 0 {
		s.logger.Info().Str("room", roomID).Msg("room is empty, kept for reconnection")
	}

	return r, removed, nil
}

// StartGame starts or restarts the round on behalf of hostID.
func (s *Store) StartGame(ctx context.Context, roomID, hostID string, policy StartPolicy) (*Room, error) {
	r, err := s.backend.Update(ctx, roomID, func(r *Room) error {
		return r.Start(hostID, s.words[r.Language], s.pick, policy)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("room", roomID).Int("game", r.GameCount).Msg("round started")

	return r, nil
}

// KickPlayer removes targetID on behalf of hostID.
func (s *Store) KickPlayer(ctx context.Context, roomID, targetID, hostID string) (*Room, Player, error) {
	var kicked Player

	r, err := s.backend.Update(ctx, roomID, func(r *Room) error {
		var err error
		kicked, err = r.Kick(targetID, hostID)

		return err
	})
	if err != nil {
		return nil, Player{}, err
	}

	return r, kicked, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Reap sweeps expired rooms every interval until ctx is done.
func (s *Store) Reap(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.backend.Sweep(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("sweeping expired rooms")

				continue
			}

			if n > 0 {
				s.logger.Info().Int("rooms", n).Msg("expired rooms removed")
			}
		}
	}
}
