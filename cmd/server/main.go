package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ChatRelay/internal/adapters/auth"
	router "github.com/dkeye/ChatRelay/internal/adapters/http"
	"github.com/dkeye/ChatRelay/internal/adapters/store/memory"
	"github.com/dkeye/ChatRelay/internal/adapters/store/postgres"
	"github.com/dkeye/ChatRelay/internal/app"
	"github.com/dkeye/ChatRelay/internal/app/orch"
	"github.com/dkeye/ChatRelay/internal/config"
	"github.com/dkeye/ChatRelay/internal/core"
	"github.com/dkeye/ChatRelay/internal/domain"
)

type backend interface {
	core.Store
	core.CredentialStore
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	room := domain.RoomID(cfg.RoomID)
	store, closeStore, err := openStore(ctx, cfg, room)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store).Msg("failed to open store")
	}
	defer closeStore()

	var cache redis.Cmdable
	if cfg.Redis.Addr != "" {
		client, err := auth.NewRedisClient(ctx, auth.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer client.Close()
		cache = client
	}

	policy, err := app.ParseLagPolicy(cfg.LagPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("bad lag policy")
	}

	bus := app.NewBroadcaster(cfg.BroadcastCapacity)
	controller := orch.NewRoomController(store, bus)
	controller.MaxMessageLength = cfg.MaxMessageLength

	o := &orch.Orchestrator{
		Registry:   app.NewRegistry(),
		Bus:        bus,
		Controller: controller,
		Auth:       auth.NewTokenVerifier(store, cache, cfg.Redis.TokenTTL),
		Rooms:      store,
		Policy:     policy,
		Limiter:    app.NewRateLimiter(cfg.MessageRate.Limit, cfg.MessageRate.Interval),
		Room:       room,
		Options:    orch.SessionOptions{PingPeriod: cfg.PingPeriod},
	}

	r := router.SetupRouter(ctx, cfg, o, store)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("room", string(room)).Msg("chat relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	// Hijacked WebSocket connections are not tracked by srv.Shutdown, and
	// their leave sequence needs the store, which closes after main returns.
	n, err := o.Shutdown(shutdownCtx)
	if err != nil {
		log.Error().Err(err).Int("sessions", n).Msg("sessions still running at shutdown deadline")
	} else {
		log.Info().Int("sessions", n).Msg("live sessions closed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, cfg *config.Config, room domain.RoomID) (backend, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	default:
		s, err := memory.Seeded(room)
		if err != nil {
			return nil, nil, err
		}
		log.Warn().Str("module", "main").Msg("using in-memory store, state is lost on restart")
		return s, func() {}, nil
	}
}
