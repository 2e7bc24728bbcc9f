package broadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades requests to websockets and streams hub frames to them
func Handler(h *Hub, log *zap.Logger) http.Handler {
	log = log.Named("ws")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("upgrade failed", zap.Error(err))
			return
		}

		sub := h.Subscribe()
		log.Debug("subscriber connected", zap.String("id", sub.ID), zap.String("remote", r.RemoteAddr))

		go writeLoop(ws, sub)
		readLoop(ws)

		h.Unsubscribe(sub.ID)
		log.Debug("subscriber disconnected", zap.String("id", sub.ID))
	})
}

// readLoop discards client messages and returns when the peer goes away
func readLoop(ws *websocket.Conn) {
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func writeLoop(ws *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame, ok := <-sub.Out:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
