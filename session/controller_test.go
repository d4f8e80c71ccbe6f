/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/impostor/realtime"
	"github.com/Seednode/impostor/room"
	"github.com/Seednode/impostor/session"
	"github.com/Seednode/impostor/storage"
)

type fakeAPI struct {
	store *room.Store

	mu    sync.Mutex
	joins int
	down  error
	hook  func()
}

func (f *fakeAPI) fault() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.down
}

func (f *fakeAPI) CreateRoom(ctx context.Context, playerName string, language room.Language, disallow bool) (string, string, error) {
	if err := f.fault(); err != nil {
		return "", "", err
	}

	r, playerID, err := f.store.CreateRoom(ctx, playerName, language, disallow)
	if err != nil {
		return "", "", err
	}

	return r.ID, playerID, nil
}

func (f *fakeAPI) JoinRoom(ctx context.Context, roomID, playerName string) (string, error) {
	if err := f.fault(); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.joins++
	f.mu.Unlock()

	_, playerID, err := f.store.AddPlayer(ctx, roomID, playerName)

	return playerID, err
}

func (f *fakeAPI) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	if err := f.fault(); err != nil {
		return err
	}

	_, _, err := f.store.RemovePlayer(ctx, roomID, playerID)

	return err
}

func (f *fakeAPI) StartGame(ctx context.Context, roomID, playerID string) error {
	if err := f.fault(); err != nil {
		return err
	}

	_, err := f.store.StartGame(ctx, roomID, playerID, room.StartPolicy{})

	return err
}

func (f *fakeAPI) KickPlayer(ctx context.Context, roomID, targetID, hostID string) error {
	if err := f.fault(); err != nil {
		return err
	}

	_, _, err := f.store.KickPlayer(ctx, roomID, targetID, hostID)

	return err
}

func (f *fakeAPI) GetRoom(ctx context.Context, roomID, playerID string) (*room.View, error) {
	f.mu.Lock()
	hook := f.hook
	f.hook = nil
	down := f.down
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	if down != nil {
		return nil, down
	}

	r, err := f.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	v := room.Project(r, playerID)

	return &v, nil
}

func (f *fakeAPI) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.joins
}

type memoryStorage struct {
	mu sync.Mutex
	d  *session.Descriptor
}

func (m *memoryStorage) Load() (*session.Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.d == nil {
		return nil, nil
	}
	d := *m.d

	return &d, nil
}

func (m *memoryStorage) Save(d session.Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.d = &d

	return nil
}

func (m *memoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.d = nil

	return nil
}

type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) Subscribe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSubscriber) Unsubscribe() {
	m.Called()
}

type subscriptions struct {
	mu       sync.Mutex
	subs     []*mockSubscriber
	handlers []realtime.Handlers
	refuse   int
}

func (s *subscriptions) factory(roomID, playerID string, h realtime.Handlers) session.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.refuse > 0 {
		s.refuse--
		err = errors.New("dial refused")
	}

	sub := &mockSubscriber{}
	sub.On("Subscribe", mock.Anything).Return(err)
	sub.On("Unsubscribe").Return()

	s.subs = append(s.subs, sub)
	s.handlers = append(s.handlers, h)

	return sub
}

func (s *subscriptions) last(t *testing.T) (*mockSubscriber, realtime.Handlers) {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	require.NotEmpty(t, s.subs)

	return s.subs[len(s.subs)-1], s.handlers[len(s.handlers)-1]
}

func (s *subscriptions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.subs)
}

func (s *subscriptions) refuseNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refuse = n
}

type fixture struct {
	store   *room.Store
	api     *fakeAPI
	saved   *memoryStorage
	subs    *subscriptions
	control *session.Controller
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()

	words, err := room.LoadWords()
	require.NoError(t, err)

	f := &fixture{
		store: room.NewStore(storage.NewMemory(room.DefaultTTL), words),
		saved: &memoryStorage{},
		subs:  &subscriptions{},
	}
	f.api = &fakeAPI{store: f.store}
	f.control = session.New(f.api, f.saved, f.subs.factory, opts...)

	return f
}

// twoPlayerRoom creates a room hosted by Alice with Bob joined.
func (f *fixture) twoPlayerRoom(t *testing.T) (roomID, aliceID, bobID string) {
	t.Helper()

	ctx := context.Background()

	r, aliceID, err := f.store.CreateRoom(ctx, "Alice", room.LanguageEnglish, false)
	require.NoError(t, err)

	_, bobID, err = f.store.AddPlayer(ctx, r.ID, "Bob")
	require.NoError(t, err)

	return r.ID, aliceID, bobID
}

func (f *fixture) players(t *testing.T, roomID string) int {
	t.Helper()

	r, err := f.store.GetRoom(context.Background(), roomID)
	require.NoError(t, err)

	return len(r.Players)
}

func TestController_CreateRoom(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.control.CreateRoom(context.Background(), "Alice", room.LanguageFrench, true))

	st := f.control.State()
	require.NotNil(t, st.Room)
	assert.Equal(t, room.LanguageFrench, st.Room.Language)
	assert.True(t, st.Room.DisallowImpostorStart)
	assert.Equal(t, "Alice", st.PlayerName)

	me, ok := st.Room.Player(st.PlayerID)
	require.True(t, ok)
	assert.True(t, me.IsHost)

	d, ok := f.control.LoadSession()
	require.True(t, ok)
	assert.Equal(t, st.Room.ID, d.RoomID)
	assert.Equal(t, st.PlayerID, d.PlayerID)

	sub, _ := f.subs.last(t)
	sub.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestController_JoinRoomRejected(t *testing.T) {
	f := newFixture(t)

	err := f.control.JoinRoom(context.Background(), "missing", "Bob")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
	assert.Nil(t, f.control.State().Room)

	_, ok := f.control.LoadSession()
	assert.False(t, ok)
}

func TestController_ResumeKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	roomID, _, bobID := f.twoPlayerRoom(t)

	ok, err := f.control.AttemptReconnection(context.Background(), roomID, bobID, "Bob")
	require.NoError(t, err)
	assert.True(t, ok)

	st := f.control.State()
	assert.Equal(t, bobID, st.PlayerID)
	assert.Equal(t, "Game resumed", st.Notice)
	assert.False(t, st.Connecting)
	assert.Zero(t, f.api.joinCount())
	assert.Equal(t, 2, f.players(t, roomID))
}

func TestController_RejoinAfterRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, _, bobID := f.twoPlayerRoom(t)

	_, _, err := f.store.RemovePlayer(ctx, roomID, bobID)
	require.NoError(t, err)

	ok, err := f.control.AttemptReconnection(ctx, roomID, bobID, "Bob")
	require.NoError(t, err)
	assert.True(t, ok)

	st := f.control.State()
	assert.NotEqual(t, bobID, st.PlayerID)
	assert.Equal(t, "Rejoined the room as a new player", st.Notice)
	assert.True(t, st.Room.HasPlayer(st.PlayerID))
	assert.Equal(t, 2, f.players(t, roomID))

	d, ok := f.control.LoadSession()
	require.True(t, ok)
	assert.Equal(t, st.PlayerID, d.PlayerID)
	assert.Equal(t, "Bob", d.PlayerName)
}

func TestController_RoomGoneClearsSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.saved.Save(session.Descriptor{
		RoomID:     "gone",
		PlayerID:   "bob",
		PlayerName: "Bob",
		Timestamp:  time.Now(),
	}))

	ok, err := f.control.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := f.saved.Load()
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Equal(t, "The room no longer exists.", f.control.State().Notice)
}

func TestController_TransportErrorKeepsSession(t *testing.T) {
	f := newFixture(t)
	roomID, _, bobID := f.twoPlayerRoom(t)

	require.NoError(t, f.saved.Save(session.Descriptor{
		RoomID:     roomID,
		PlayerID:   bobID,
		PlayerName: "Bob",
		Timestamp:  time.Now(),
	}))

	offline := errors.New("connection refused")
	f.api.down = offline

	ok, err := f.control.Restore(context.Background())
	assert.ErrorIs(t, err, offline)
	assert.False(t, ok)

	d, err := f.saved.Load()
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, bobID, d.PlayerID)
}

func TestController_ConcurrentAttemptsJoinOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, _, bobID := f.twoPlayerRoom(t)

	_, _, err := f.store.RemovePlayer(ctx, roomID, bobID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ok, err := f.control.AttemptReconnection(ctx, roomID, bobID, "Bob")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.api.joinCount())
	assert.Equal(t, 2, f.players(t, roomID))
}

func TestController_SupersededAttemptIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, _, bobID := f.twoPlayerRoom(t)

	_, _, err := f.store.RemovePlayer(ctx, roomID, bobID)
	require.NoError(t, err)

	// a newer action lands while the attempt is in flight
	f.api.hook = func() {
		require.NoError(t, f.control.CreateRoom(ctx, "Bob", room.LanguageEnglish, false))
	}

	ok, err := f.control.AttemptReconnection(ctx, roomID, bobID, "Bob")
	require.NoError(t, err)
	assert.False(t, ok)

	st := f.control.State()
	require.NotNil(t, st.Room)
	assert.NotEqual(t, roomID, st.Room.ID)
	assert.Empty(t, st.Notice)

	// the orphaned rejoin was withdrawn
	assert.Equal(t, 1, f.players(t, roomID))
}

func TestController_KickedClearsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, aliceID, _ := f.twoPlayerRoom(t)

	require.NoError(t, f.control.JoinRoom(ctx, roomID, "Carol"))
	carolID := f.control.State().PlayerID

	r, carol, err := f.store.KickPlayer(ctx, roomID, carolID, aliceID)
	require.NoError(t, err)

	sub, h := f.subs.last(t)
	h.OnPlayerKicked(realtime.PlayerKicked(r, carol).For(carolID))

	st := f.control.State()
	assert.Nil(t, st.Room)
	assert.Empty(t, st.PlayerID)
	assert.Equal(t, "You have been kicked from the room.", st.Notice)
	sub.AssertCalled(t, "Unsubscribe")

	_, ok := f.control.LoadSession()
	assert.False(t, ok)
}

func TestController_KickOfAnotherPlayerUpdatesRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, aliceID, bobID := f.twoPlayerRoom(t)

	ok, err := f.control.AttemptReconnection(ctx, roomID, aliceID, "Alice")
	require.NoError(t, err)
	require.True(t, ok)

	r, bob, err := f.store.KickPlayer(ctx, roomID, bobID, aliceID)
	require.NoError(t, err)

	_, h := f.subs.last(t)
	h.OnPlayerKicked(realtime.PlayerKicked(r, bob).For(aliceID))

	st := f.control.State()
	require.NotNil(t, st.Room)
	assert.Len(t, st.Room.Players, 1)
	assert.Equal(t, aliceID, st.PlayerID)
}

func TestController_SnapshotReplacesRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.control.CreateRoom(ctx, "Alice", room.LanguageEnglish, false))
	st := f.control.State()

	r, _, err := f.store.AddPlayer(ctx, st.Room.ID, "Bob")
	require.NoError(t, err)

	_, h := f.subs.last(t)
	h.OnPlayerJoined(realtime.PlayerJoined(r, r.Players[1]).For(st.PlayerID))

	assert.Len(t, f.control.State().Room.Players, 2)
}

func TestController_EventsFromReplacedSubscriptionAreIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.control.CreateRoom(ctx, "Alice", room.LanguageEnglish, false))
	first := f.control.State()
	_, stale := f.subs.last(t)

	require.NoError(t, f.control.CreateRoom(ctx, "Alice", room.LanguageEnglish, false))
	second := f.control.State()

	r, err := f.store.GetRoom(ctx, first.Room.ID)
	require.NoError(t, err)
	stale.OnRoomUpdated(realtime.RoomUpdated(r).For(first.PlayerID))

	assert.Equal(t, second.Room.ID, f.control.State().Room.ID)
}

func TestController_LoadSessionExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, session.WithClock(func() time.Time { return now }))

	require.NoError(t, f.saved.Save(session.Descriptor{
		RoomID:     "r1",
		PlayerID:   "bob",
		PlayerName: "Bob",
		Timestamp:  now.Add(-session.MaxAge - time.Minute),
	}))

	_, ok := f.control.LoadSession()
	assert.False(t, ok)

	d, err := f.saved.Load()
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestController_LeaveRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, _, _ := f.twoPlayerRoom(t)

	require.NoError(t, f.control.JoinRoom(ctx, roomID, "Carol"))
	require.Equal(t, 3, f.players(t, roomID))

	require.NoError(t, f.control.LeaveRoom(ctx))

	assert.Equal(t, 2, f.players(t, roomID))
	assert.Nil(t, f.control.State().Room)

	_, ok := f.control.LoadSession()
	assert.False(t, ok)

	assert.ErrorIs(t, f.control.LeaveRoom(ctx), session.ErrNoSession)
}

func TestController_HostActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, aliceID, bobID := f.twoPlayerRoom(t)

	ok, err := f.control.AttemptReconnection(ctx, roomID, aliceID, "Alice")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.control.StartGame(ctx))
	require.NoError(t, f.control.KickPlayer(ctx, bobID))
	assert.ErrorIs(t, f.control.KickPlayer(ctx, aliceID), room.ErrKickSelf)

	r, err := f.store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusPlaying, r.Status)
	assert.Len(t, r.Players, 1)
}

func TestController_MonitorReconnectsWhenVisible(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	roomID, _, _ := f.twoPlayerRoom(t)
	require.NoError(t, f.control.JoinRoom(ctx, roomID, "Carol"))
	carolID := f.control.State().PlayerID

	// the server dropped Carol while she was away
	_, _, err := f.store.RemovePlayer(ctx, roomID, carolID)
	require.NoError(t, err)

	visibility := make(chan session.Visibility)
	done := make(chan struct{})
	go func() {
		f.control.Monitor(ctx, visibility)
		close(done)
	}()

	visibility <- session.Hidden
	assert.Equal(t, carolID, f.control.State().PlayerID)

	visibility <- session.Visible
	assert.Eventually(t, func() bool {
		st := f.control.State()

		return st.PlayerID != carolID && st.Room != nil && st.Room.HasPlayer(st.PlayerID)
	}, 2*time.Second, 10*time.Millisecond)

	close(visibility)
	<-done
}

func TestController_OnChange(t *testing.T) {
	var (
		mu     sync.Mutex
		states []session.State
	)

	f := newFixture(t, session.WithOnChange(func(st session.State) {
		mu.Lock()
		defer mu.Unlock()

		states = append(states, st)
	}))
	roomID, _, bobID := f.twoPlayerRoom(t)

	_, err := f.control.AttemptReconnection(context.Background(), roomID, bobID, "Bob")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.NotEmpty(t, states)
	assert.True(t, states[0].Connecting)
	assert.False(t, states[len(states)-1].Connecting)
	assert.Equal(t, bobID, states[len(states)-1].PlayerID)
}

func TestController_ResumeReplacesChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, _, _ := f.twoPlayerRoom(t)

	require.NoError(t, f.control.JoinRoom(ctx, roomID, "Carol"))
	st := f.control.State()
	silent, silentHandlers := f.subs.last(t)

	// same room, same player: the open channel is still dropped and redialed
	ok, err := f.control.AttemptReconnection(ctx, roomID, st.PlayerID, "Carol")
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 2, f.subs.count())
	silent.AssertCalled(t, "Unsubscribe")

	live, liveHandlers := f.subs.last(t)
	live.AssertNumberOfCalls(t, "Subscribe", 1)
	live.AssertNotCalled(t, "Unsubscribe")

	r, _, err := f.store.AddPlayer(ctx, roomID, "Dave")
	require.NoError(t, err)

	silentHandlers.OnPlayerJoined(realtime.PlayerJoined(r, r.Players[3]).For(st.PlayerID))
	assert.Len(t, f.control.State().Room.Players, 3)

	liveHandlers.OnPlayerJoined(realtime.PlayerJoined(r, r.Players[3]).For(st.PlayerID))
	assert.Len(t, f.control.State().Room.Players, 4)
}

func TestController_LostChannelIsRedialed(t *testing.T) {
	f := newFixture(t, session.WithRetryBackoff(5*time.Millisecond, 20*time.Millisecond))
	t.Cleanup(f.control.Close)
	ctx := context.Background()
	roomID, _, _ := f.twoPlayerRoom(t)

	require.NoError(t, f.control.JoinRoom(ctx, roomID, "Carol"))
	carolID := f.control.State().PlayerID
	_, first := f.subs.last(t)

	// the first redial fails and is retried
	f.subs.refuseNext(1)
	first.OnDisconnect(errors.New("unexpected EOF"))

	assert.Eventually(t, func() bool {
		return f.subs.count() == 3 && !f.control.State().Connecting
	}, 2*time.Second, 5*time.Millisecond)

	live, _ := f.subs.last(t)
	live.AssertNumberOfCalls(t, "Subscribe", 1)

	st := f.control.State()
	assert.Equal(t, carolID, st.PlayerID)
	assert.Equal(t, 1, f.api.joinCount())

	// a channel that was already replaced is not recovered again
	first.OnDisconnect(errors.New("unexpected EOF"))
	assert.Never(t, func() bool {
		return f.subs.count() != 3
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestController_CloseStopsRecovery(t *testing.T) {
	f := newFixture(t, session.WithRetryBackoff(50*time.Millisecond, time.Second))
	ctx := context.Background()
	roomID, _, _ := f.twoPlayerRoom(t)

	require.NoError(t, f.control.JoinRoom(ctx, roomID, "Carol"))
	sub, h := f.subs.last(t)

	h.OnDisconnect(errors.New("unexpected EOF"))
	f.control.Close()
	sub.AssertCalled(t, "Unsubscribe")

	assert.Never(t, func() bool {
		return f.subs.count() != 1
	}, 200*time.Millisecond, 10*time.Millisecond)

	_, ok := f.control.LoadSession()
	assert.True(t, ok)
}
