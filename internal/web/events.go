package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = pingPeriod + 10*time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// sessionEvent is pushed to every open tab of a client when its session
// changes. Tabs reload, which re-evaluates the menu and the route guard.
type sessionEvent struct {
	Type     string `json:"type"`
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	changes, cancel := s.sessions.Subscribe(clientID(r))
	defer cancel()

	// The read loop only exists to notice the tab going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
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
		case <-closed:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(sessionEvent{
				Type:     "session",
				LoggedIn: change.Session.LoggedIn(),
				Username: change.Session.Username,
			})
			if err != nil {
				logger.Debug().Err(err).Msg("failed to push session event")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
