/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Seednode/impostor/room"
)

// Postgres stores each room as a JSONB document. Expired rows are treated
// as absent until Sweep deletes them.
type Postgres struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

func NewPostgres(ctx context.Context, connString string, ttl time.Duration) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fault(err)
	}

	return &Postgres{pool: pool, ttl: ttl, now: time.Now}, nil
}

// fault classifies a driver error: context errors pass through, anything
// else is a storage fault.
func fault(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %s (%s)", room.ErrStorage, pgErr.Message, pgErr.Code)
	}

	return fmt.Errorf("%w: %w", room.ErrStorage, err)
}

func (p *Postgres) Get(ctx context.Context, id string) (*room.Room, error) {
	var data []byte

	err := p.pool.QueryRow(ctx,
		`SELECT data FROM rooms WHERE id = $1 AND expires_at > $2`,
		id, p.now(),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, room.ErrRoomNotFound
		}

		return nil, fault(err)
	}

	return decode(data)
}

func decode(data []byte) (*room.Room, error) {
	var r room.Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: decoding room: %w", room.ErrStorage, err)
	}

	return &r, nil
}

func (p *Postgres) Put(ctx context.Context, r *room.Room) error {
	now := p.now()
	r.UpdatedAt = now

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding room: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO rooms (id, data, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at`,
		r.ID, data, r.CreatedAt, now, now.Add(p.ttl),
	)
	if err != nil {
		return fault(err)
	}

	return nil
}

// Update locks the row for the length of a transaction, so concurrent
// updates of the same room wait for each other.
func (p *Postgres) Update(ctx context.Context, id string, fn func(*room.Room) error) (*room.Room, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fault(err)
	}
	defer tx.Rollback(ctx)

	var data []byte
	err = tx.QueryRow(ctx,
		`SELECT data FROM rooms WHERE id = $1 AND expires_at > $2 FOR UPDATE`,
		id, p.now(),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, room.ErrRoomNotFound
		}

		return nil, fault(err)
	}

	r, err := decode(data)
	if err != nil {
		return nil, err
	}

	if err := fn(r); err != nil {
		return nil, err
	}

	now := p.now()
	r.UpdatedAt = now

	data, err = json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding room: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE rooms SET data = $2, updated_at = $3, expires_at = $4 WHERE id = $1`,
		id, data, now, now.Add(p.ttl),
	)
	if err != nil {
		return nil, fault(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fault(err)
	}

	return r, nil
}

func (p *Postgres) Sweep(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rooms WHERE expires_at <= $1`, p.now())
	if err != nil {
		return 0, fault(err)
	}

	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fault(err)
	}

	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()

	return nil
}
