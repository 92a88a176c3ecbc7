package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ChatRelay/internal/app/orch"
)

// Controller upgrades HTTP requests and hands each connection to a fresh
// supervisor.
type Controller struct {
	Orch     *orch.Orchestrator
	Options  ConnOptions
	upgrader websocket.Upgrader
}

func NewController(o *orch.Orchestrator, opts ConnOptions) *Controller {
	return &Controller{
		Orch:    o,
		Options: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS blocks for the lifetime of the connection. ctx is the server
// context so shutdown tears live connections down.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	wsConn, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	conn := NewConn(wsConn, c.ClientIP(), ctl.Options)
	log.Info().Str("module", "adapters.ws").Str("remote", conn.RemoteAddr()).Msg("new WS connection")

	_ = ctl.Orch.NewSupervisor().Serve(ctx, conn)
}
