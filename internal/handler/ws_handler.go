package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/realtime"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Native clients (the terminal student app) send no Origin.
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the realtime store to student devices.
type WSHandler struct {
	gateway  *realtime.Gateway
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. Students are anonymous, so every
// connection runs under the student write policy.
func NewWSHandler(store realtime.Store, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		gateway:  realtime.NewGateway(store, realtime.StudentPolicy{}, log),
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// RealtimeStream godoc
// WS /ws/v1/realtime
func (h *WSHandler) RealtimeStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Debug().Str("remote", c.ClientIP()).Msg("Realtime client connected")
	h.gateway.Serve(c.Request.Context(), conn)
	h.log.Debug().Str("remote", c.ClientIP()).Msg("Realtime client disconnected")
}
