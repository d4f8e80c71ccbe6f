/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package storage provides the backends a room.Store persists rooms in.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Seednode/impostor/room"
)

type entry struct {
	room      *room.Room
	expiresAt time.Time
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Memory keeps rooms in process. Updates to one room are serialized by a
// lock for that room id only.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]entry
	locks map[string]*keyLock

	ttl time.Duration
	now func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		rooms: make(map[string]entry),
		locks: make(map[string]*keyLock),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock replaces the time source used for stamps and expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = now
}

func (m *Memory) lock(id string) *keyLock {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()

	return l
}

func (m *Memory) unlock(id string, l *keyLock) {
	l.mu.Unlock()

	m.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
	m.mu.Unlock()
}

// lookupLocked must be called with m.mu held.
func (m *Memory) lookupLocked(id string) (*room.Room, bool) {
	e, ok := m.rooms[id]
	if !ok {
		return nil, false
	}

	if !m.now().Before(e.expiresAt) {
		delete(m.rooms, id)

		return nil, false
	}

	return e.room, true
}

// storeLocked must be called with m.mu held.
func (m *Memory) storeLocked(r *room.Room) *room.Room {
	now := m.now()
	r.UpdatedAt = now

	m.rooms[r.ID] = entry{
		room:      r.Clone(),
		expiresAt: now.Add(m.ttl),
	}

	return r
}

func (m *Memory) Get(ctx context.Context, id string) (*room.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.lookupLocked(id)
	if !ok {
		return nil, room.ErrRoomNotFound
	}

	return r.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, r *room.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := m.lock(r.ID)
	defer m.unlock(r.ID, l)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.storeLocked(r)

	return nil
}

func (m *Memory) Update(ctx context.Context, id string, fn func(*room.Room) error) (*room.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := m.lock(id)
	defer m.unlock(id, l)

	m.mu.Lock()
	current, ok := m.lookupLocked(id)
	m.mu.Unlock()

	if !ok {
		return nil, room.ErrRoomNotFound
	}

	r := current.Clone()
	if err := fn(r); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.storeLocked(r), nil
}

func (m *Memory) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, e := range m.rooms {
		if !now.Before(e.expiresAt) {
			delete(m.rooms, id)
			removed++
		}
	}

	return removed, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	return nil
}
