package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tafel/internal/obs"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	msgLimit   = 1024
)

// WSHandler bridges hub subscriptions onto WebSocket connections. A client
// declares interest with {"type":"join-session","sessionId":"..."} and then
// receives the session's event stream in FIFO order.
type WSHandler struct {
	Hub      *Hub
	Logger   zerolog.Logger
	Upgrader websocket.Upgrader
}

type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// ServeHTTP upgrades the connection and runs the subscription until either
// side disconnects.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if obs.WSConnections != nil {
		obs.WSConnections.Inc()
		defer obs.WSConnections.Dec()
	}

	conn.SetReadLimit(msgLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sub, err := h.waitForJoin(conn)
	if err != nil {
		h.Logger.Debug().Err(err).Msg("websocket join failed")
		return
	}
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WSHandler) waitForJoin(conn *websocket.Conn) (*Subscriber, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "join-session" || msg.SessionID == "" {
			continue
		}
		sub := h.Hub.Subscribe(msg.SessionID)
		if sub == nil {
			return nil, websocket.ErrCloseSent
		}
		return sub, nil
	}
}
