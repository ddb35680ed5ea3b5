package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// Serve upgrades the request to a WebSocket and runs it as a client of
// topic until either side closes. Authorization happens before Serve.
func Serve(hub *Hub, w http.ResponseWriter, r *http.Request, topic string, closeAfter int, originPatterns []string) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		OriginPatterns: originPatterns,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "topic", topic, "error", err)
		return
	}

	client := NewClient(hub, conn, topic, closeAfter)
	client.Run(r.Context())
}
