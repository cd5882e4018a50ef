package websocket

import (
	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/prappser/splatfetch/internal/status"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// The control surface listens on a local address only.
var upgrader = websocket.FastHTTPUpgrader{
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
		return true
	},
}

type Handler struct {
	hub    *Hub
	source status.Source
}

func NewHandler(hub *Hub, source status.Source) *Handler {
	return &Handler{
		hub:    hub,
		source: source,
	}
}

// HandleFastHTTP upgrades the connection and sends the current status before
// streaming further changes.
func (h *Handler) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	remoteAddr := ctx.RemoteAddr().String()

	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := NewClient(h.hub, conn, uuid.New().String())
		h.hub.Register(client)

		client.send <- &OutgoingMessage{
			Type:     MessageTypeConnected,
			ClientID: client.id,
		}
		client.send <- NewStatusMessage(h.source.Status())

		log.Info().
			Str("clientId", client.id).
			Str("remoteAddr", remoteAddr).
			Msg("[WS] Client connected")

		go client.WritePump()
		client.ReadPump()
	})

	if err != nil {
		log.Error().Err(err).Msg("[WS] Failed to upgrade connection")
		return
	}
}
