package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ChatRelay/internal/adapters/store"
	"github.com/dkeye/ChatRelay/internal/domain"
)

// Migrate creates the tables when they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "migrate")
	}
	log.Info().Str("module", "store.postgres").Msg("schema applied")
	return nil
}

// Seed inserts the fixture accounts and the room. Existing rows are left alone.
func Seed(ctx context.Context, pool *pgxpool.Pool, room domain.RoomID) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO chats (id) VALUES ($1::uuid) ON CONFLICT DO NOTHING`, string(room)); err != nil {
			return errors.Wrap(err, "seed chat")
		}
		for _, f := range store.Fixtures {
			acc, err := f.Account()
			if err != nil {
				return errors.Wrapf(err, "hash password for %s", f.Username)
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO users (id, username, password, token) VALUES ($1::uuid, $2, $3, $4::uuid) ON CONFLICT DO NOTHING`,
				string(acc.ID), acc.Username, acc.PasswordHash, acc.Token)
			if err != nil {
				return errors.Wrapf(err, "seed user %s", f.Username)
			}
			log.Info().Str("module", "store.postgres").Str("username", f.Username).Msg("seeded user")
		}
		return nil
	})
}

// Purge deletes messages, memberships and chats. Accounts are kept.
func Purge(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `TRUNCATE messages, chat_user, chats`); err != nil {
		return errors.Wrap(err, "purge")
	}
	log.Info().Str("module", "store.postgres").Msg("tables truncated")
	return nil
}
