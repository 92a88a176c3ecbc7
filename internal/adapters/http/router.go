package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ChatRelay/internal/adapters/ws"
	"github.com/dkeye/ChatRelay/internal/app/orch"
	"github.com/dkeye/ChatRelay/internal/config"
	"github.com/dkeye/ChatRelay/internal/core"
)

// SetupRouter wires the HTTP surface. ctx bounds every WebSocket connection.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, creds core.CredentialStore) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("ChatSessions", store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", healthz)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{creds: creds, registry: o.Registry}
	r.POST("/login", h.login)

	wsCtl := ws.NewController(o, ws.ConnOptions{
		ReadLimit:    cfg.ReadLimit,
		WriteTimeout: cfg.WriteTimeout,
	})
	r.GET("/websocket", func(c *gin.Context) {
		wsCtl.HandleWS(ctx, c)
	})

	api := r.Group("/api")
	api.GET("/whoami", h.whoami)
	api.GET("/sessions", h.sessions)

	return r
}
