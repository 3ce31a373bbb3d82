package httpapi

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

// wsConn adapts a websocket connection to the hub's transport interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) Write(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

func (c wsConn) Close() error {
	return c.conn.CloseNow()
}

// handleWebsocket registers the client with the notifier hub and then only
// drains inbound frames: the first read error means the client is gone.
// Clients are not expected to send anything meaningful.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		return
	}
	subscriber := wsConn{conn: conn}
	s.hub.Subscribe(subscriber)
	defer func() {
		s.hub.Unsubscribe(subscriber)
		_ = conn.CloseNow()
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		patterns = append(patterns, trimSchemePrefix(origin))
	}
	return patterns
}

func trimSchemePrefix(origin string) string {
	for _, scheme := range []string{"https://", "http://"} {
		if len(origin) > len(scheme) && origin[:len(scheme)] == scheme {
			return origin[len(scheme):]
		}
	}
	return origin
}
