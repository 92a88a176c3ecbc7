package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ChatRelay/internal/app"
	"github.com/dkeye/ChatRelay/internal/core"
)

const (
	sessionUserID   = "user_id"
	sessionUsername = "username"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type WhoAmIResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type handlers struct {
	creds    core.CredentialStore
	registry *app.Registry
}

func (h *handlers) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid credentials"})
		return
	}

	acc, err := h.creds.UserByCredentials(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, core.ErrInvalidCredentials) {
		log.Info().Str("module", "adapters.http").Str("username", req.Username).Msg("login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("login lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	s := sessions.Default(c)
	s.Set(sessionUserID, string(acc.ID))
	s.Set(sessionUsername, acc.Username)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	log.Info().Str("module", "adapters.http").Str("user", string(acc.ID)).Msg("login ok")
	c.JSON(http.StatusOK, LoginResponse{
		ID:       string(acc.ID),
		Username: acc.Username,
		Token:    acc.Token,
	})
}

func (h *handlers) whoami(c *gin.Context) {
	s := sessions.Default(c)
	id, _ := s.Get(sessionUserID).(string)
	name, _ := s.Get(sessionUsername).(string)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not logged in"})
		return
	}
	c.JSON(http.StatusOK, WhoAmIResponse{ID: id, Username: name})
}

func (h *handlers) sessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.registry.Online()})
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
