package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/events"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are forwarded to websocket clients.
var streamTopics = []events.Event{
	events.EventOrderFilled,
	events.EventOrderRejected,
	events.EventOrderFailed,
	events.EventModeChange,
	events.EventRiskAlert,
	events.EventBackendHealth,
	events.EventStrategySignal,
	events.EventStateDiverged,
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(100, streamTopics...)
	defer unsub()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				s.Log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}
}
