package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The protocol carries no cookies or ambient credentials, so
	// cross-origin browser clients are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket serves the postbox protocol over a websocket: each text
// message is one request line, each reply one text message. The dispatch
// path is identical to TCP.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess := s.sessions.CreateSession(conn.RemoteAddr().String(), conn)
	defer s.sessions.RemoveSession(sess.ID)

	debugLog.Printf("New websocket connection from %s (session %d)", conn.RemoteAddr(), sess.ID)

	for {
		msgType, line, err := conn.ReadMessage()
		if err != nil {
			debugLog.Printf("Session %d: websocket read error: %v", sess.ID, err)
			return
		}
		if msgType != websocket.TextMessage || len(line) == 0 {
			continue
		}

		response, stopping := s.serve(sess, line)
		data, err := json.Marshal(response)
		if err != nil {
			errorLog.Printf("Session %d: response marshal failed: %v", sess.ID, err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			debugLog.Printf("Session %d: websocket write error: %v", sess.ID, err)
			return
		}
		if stopping {
			debugLog.Printf("Session %d: stop requested", sess.ID)
			if s.config.Server.StopShutsDown {
				go s.Stop()
			}
			return
		}
	}
}
