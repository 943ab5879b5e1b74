package api

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// streamEvents upgrades to a websocket and streams hub messages as JSON until
// the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	id, ch, unsubscribe := s.opts.Hub.Subscribe()
	defer unsubscribe()
	s.log.Debug("event subscriber connected", "subscriber", id)

	// Clients only listen; CloseRead cancels ctx once they disconnect.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-s.ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case m := <-ch:
			if err := wsjson.Write(ctx, conn, m); err != nil {
				s.log.Debug("event subscriber gone", "subscriber", id, "error", err)
				return
			}
		}
	}
}
