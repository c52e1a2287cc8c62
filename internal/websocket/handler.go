package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// Handler upgrades requests to websocket connections and runs them as hub
// clients. An empty originPatterns list accepts only same-origin requests.
func Handler(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.WithField("error", err.Error()).Warn("Websocket upgrade failed")
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn).Run(r.Context())
	}
}
