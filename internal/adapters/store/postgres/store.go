// Package postgres implements the store ports on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	_ "embed"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ChatRelay/internal/adapters/store"
	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ core.Store           = (*Store)(nil)
	_ core.CredentialStore = (*Store)(nil)
)

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	log.Info().Str("module", "store.postgres").Int32("max_conns", cfg.MaxConns).Msg("connected")
	return pool, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) UserByToken(ctx context.Context, token string) (domain.User, error) {
	if _, err := uuid.Parse(token); err != nil {
		return domain.User{}, core.ErrUserNotFound
	}
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, username FROM users WHERE token = $1::uuid`, token,
	).Scan(&u.ID, &u.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, core.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, errors.Wrap(err, "user by token")
	}
	return u, nil
}

func (s *Store) UserByCredentials(ctx context.Context, username, password string) (domain.Account, error) {
	var acc domain.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, username, password, token::text FROM users WHERE username = $1`, username,
	).Scan(&acc.ID, &acc.Username, &acc.PasswordHash, &acc.Token)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, core.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Account{}, errors.Wrap(err, "user by credentials")
	}
	if !store.CheckPassword(acc.PasswordHash, password) {
		return domain.Account{}, core.ErrInvalidCredentials
	}
	return acc, nil
}

func (s *Store) UsersInRoom(ctx context.Context, room domain.RoomID) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id::text, u.username
		FROM chat_user cu
		JOIN users u ON u.id = cu.user_id
		WHERE cu.chat_id = $1::uuid
		ORDER BY cu.joined_at, u.username`, string(room))
	if err != nil {
		return nil, errors.Wrap(err, "users in room")
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		err := row.Scan(&u.ID, &u.Username)
		return u, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan users")
	}
	return users, nil
}

func (s *Store) AddMembership(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_user (chat_id, user_id) VALUES ($1::uuid, $2::uuid) ON CONFLICT DO NOTHING`,
		string(room), string(user))
	return errors.Wrap(err, "add membership")
}

func (s *Store) RemoveMembership(ctx context.Context, room domain.RoomID, user domain.UserID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chat_user WHERE chat_id = $1::uuid AND user_id = $2::uuid`,
		string(room), string(user))
	if err != nil {
		return false, errors.Wrap(err, "remove membership")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) AppendMessage(ctx context.Context, room domain.RoomID, user domain.UserID, content string, at time.Time) (domain.Message, error) {
	msg := domain.NewMessage(room, user, content, at)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_id, user_id, content, created_at) VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5)`,
		string(msg.ID), string(room), string(user), content, msg.CreatedAt)
	if err != nil {
		return domain.Message{}, errors.Wrap(err, "append message")
	}
	return msg, nil
}

func (s *Store) History(ctx context.Context, room domain.RoomID) ([]domain.HistoryMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.user_id::text, u.username, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1::uuid
		ORDER BY m.created_at, m.seq`, string(room))
	if err != nil {
		return nil, errors.Wrap(err, "history")
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.HistoryMessage, error) {
		var m domain.HistoryMessage
		err := row.Scan(&m.UserID, &m.Username, &m.Content, &m.Timestamp)
		m.Timestamp = m.Timestamp.UTC()
		return m, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan history")
	}
	return msgs, nil
}
