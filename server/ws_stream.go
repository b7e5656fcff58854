package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"labelpanel/logger"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UploadEventsHandler streams the commit progress of a session over a
// websocket.
func (h *APIHandler) UploadEventsHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.String("sessionId", sessionID), logger.ErrorField(err))
		return
	}
	defer conn.Close()

	logger.Debug("progress subscriber connected", logger.String("sessionId", sessionID))
	h.hub.Attach(conn, sessionID)
	logger.Debug("progress subscriber gone", logger.String("sessionId", sessionID))
}
