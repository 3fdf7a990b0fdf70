package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to localhost; browser dashboards connect cross-port
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler streams the same events as the SSE endpoint over a websocket
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("api: websocket upgrade failed: %v", err)
			return
		}

		sub := make(chan Event)
		s.events.subscribe <- sub

		// Reader goroutine drains the connection and detects close
		go func() {
			defer func() {
				s.events.drop <- sub
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for event := range sub {
			if err := conn.WriteJSON(event); err != nil {
				conn.Close()
				return
			}
		}
		conn.Close()
	}
}
