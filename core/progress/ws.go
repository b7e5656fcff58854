package progress

import (
	"time"

	"github.com/gorilla/websocket"

	"labelpanel/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Attach streams the events of sessionID to conn until either side closes.
// It blocks for the lifetime of the connection.
func (h *Hub) Attach(conn *websocket.Conn, sessionID string) {
	sub := h.Subscribe(sessionID)
	go writePump(conn, sub)
	readPump(conn, sessionID)
	h.Unsubscribe(sub)
}

// readPump 只处理控制帧和关闭
func readPump(conn *websocket.Conn, sessionID string) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("progress websocket read error",
					logger.ErrorField(err),
					logger.String("sessionId", sessionID))
			}
			return
		}
	}
}

// writePump 写入消息循环
func writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
