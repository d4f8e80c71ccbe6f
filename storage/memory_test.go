/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package storage_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/impostor/room"
	"github.com/Seednode/impostor/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newMemory(t *testing.T) (*storage.Memory, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := storage.NewMemory(time.Hour)
	m.SetClock(clock.Now)

	return m, clock
}

func TestMemory_GetMissing(t *testing.T) {
	m, _ := newMemory(t)

	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestMemory_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	m, clock := newMemory(t)

	require.NoError(t, m.Put(ctx, room.New("r1", "p1", "Alice", room.LanguageEnglish, false, clock.Now())))

	clock.Advance(59 * time.Minute)
	_, err := m.Get(ctx, "r1")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = m.Get(ctx, "r1")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestMemory_UpdateRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	m, clock := newMemory(t)

	require.NoError(t, m.Put(ctx, room.New("r1", "p1", "Alice", room.LanguageEnglish, false, clock.Now())))

	clock.Advance(50 * time.Minute)
	updated, err := m.Update(ctx, "r1", func(r *room.Room) error {
		return r.AddPlayer("p2", "Bob")
	})
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), updated.UpdatedAt)

	clock.Advance(50 * time.Minute)
	got, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Players, 2)
}

func TestMemory_FailedUpdateWritesNothing(t *testing.T) {
	ctx := context.Background()
	m, clock := newMemory(t)

	require.NoError(t, m.Put(ctx, room.New("r1", "p1", "Alice", room.LanguageEnglish, false, clock.Now())))

	boom := errors.New("boom")
	_, err := m.Update(ctx, "r1", func(r *room.Room) error {
		r.Players = nil

		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Players, 1)
}

func TestMemory_ReturnedRoomsAreCopies(t *testing.T) {
	ctx := context.Background()
	m, clock := newMemory(t)

	require.NoError(t, m.Put(ctx, room.New("r1", "p1", "Alice", room.LanguageEnglish, false, clock.Now())))

	got, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	got.Players[0].Name = "Mallory"

	again, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", again.Players[0].Name)
}

func TestMemory_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	ctx := context.Background()
	m, clock := newMemory(t)

	require.NoError(t, m.Put(ctx, room.New("r1", "host", "Alice", room.LanguageEnglish, false, clock.Now())))

	const joiners = 64

	var wg sync.WaitGroup
	for i := range joiners {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := m.Update(ctx, "r1", func(r *room.Room) error {
				return r.AddPlayer(fmt.Sprintf("p%d", i), "P")
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Players, joiners+1)
}

func TestMemory_Sweep(t *testing.T) {
	ctx := context.Background()
	m, clock := newMemory(t)

	require.NoError(t, m.Put(ctx, room.New("old", "p1", "Alice", room.LanguageEnglish, false, clock.Now())))
	clock.Advance(30 * time.Minute)
	require.NoError(t, m.Put(ctx, room.New("new", "p2", "Bob", room.LanguageEnglish, false, clock.Now())))
	clock.Advance(45 * time.Minute)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Get(ctx, "new")
	assert.NoError(t, err)
}
