// Command chatdb manages the PostgreSQL schema and development data.
//
//	chatdb [--database-url URL] [--room ID] migrate|seed|purge
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/ChatRelay/internal/adapters/store/postgres"
	"github.com/dkeye/ChatRelay/internal/domain"
)

var commands = map[string]func(ctx context.Context, pool *pgxpool.Pool, room domain.RoomID) error{
	"migrate": func(ctx context.Context, pool *pgxpool.Pool, _ domain.RoomID) error {
		return postgres.Migrate(ctx, pool)
	},
	"seed": postgres.Seed,
	"purge": func(ctx context.Context, pool *pgxpool.Pool, _ domain.RoomID) error {
		return postgres.Purge(ctx, pool)
	},
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fs := pflag.NewFlagSet("chatdb", pflag.ExitOnError)
	dbURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	room := fs.String("room", string(domain.DefaultRoomID), "chat id created by seed")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: chatdb [flags] migrate|seed|purge\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	name := fs.Arg(0)
	run, ok := commands[name]
	if !ok {
		fs.Usage()
		os.Exit(2)
	}
	if *dbURL == "" {
		log.Fatal().Msg("database url is required (--database-url or DATABASE_URL)")
	}
	if !domain.RoomID(*room).Valid() {
		log.Fatal().Str("room", *room).Msg("room must be a uuid")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := postgres.Connect(ctx, *dbURL, 2)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	defer pool.Close()

	if err := run(ctx, pool, domain.RoomID(*room)); err != nil {
		log.Error().Err(err).Str("command", name).Msg("failed")
		pool.Close()
		os.Exit(1)
	}
	log.Info().Str("command", name).Msg("done")
}
