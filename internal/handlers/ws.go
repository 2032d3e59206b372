package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents connect from anywhere, matching the CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and hands the connection to the hub. It
// returns when the connection closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.hub.NewClient(ws).Serve()
}
