package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		return strings.Contains(origin, "://"+strings.TrimSpace(r.Host))
	},
}

func filterFromQuery(r *http.Request) events.Filter {
	q := r.URL.Query()
	f := events.Filter{
		ChatID:    q.Get("chat_id"),
		MessageID: q.Get("message_id"),
	}
	if raw := q.Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Types = append(f.Types, events.EventType(t))
			}
		}
	}
	return f
}

// handleEvents streams bus events as JSON text frames. Query parameters chat_id,
// message_id and type (comma separated) narrow the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before the handshake completes so no event published after it is missed
	ch, err := s.ws.Bus().Subscribe(ctx, filter)
	if err != nil {
		respondError(w, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// the read side only watches for the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event bus closed"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, ev.Payload()); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
