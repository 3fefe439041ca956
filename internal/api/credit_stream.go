package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/veltoai/founder-launch/internal/credits"
	"github.com/veltoai/founder-launch/internal/utils"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 54 * time.Second
	streamReadLimit  = 4096
	streamSendBuffer = 16
)

// streamMessage is the envelope for every frame on the credit stream.
type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// creditStream pushes the caller's credit view to the browser whenever any
// session of the same identity changes it.
type creditStream struct {
	registry *credits.Registry
	upgrader websocket.Upgrader
}

func newCreditStream(registry *credits.Registry) *creditStream {
	return &creditStream{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

type streamClient struct {
	id       string
	identity string
	key      string
	conn     *websocket.Conn
	send     chan []byte
	registry *credits.Registry
}

func (s *creditStream) handle(w http.ResponseWriter, req *http.Request, identity string) {
	l, err := s.registry.Open(req.Context(), identity)
	if err != nil {
		writeServiceError(w, req, "stream", identity, err)
		return
	}
	state, err := l.State()
	if err != nil {
		writeServiceError(w, req, "stream", identity, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already answered the request.
		log.Warn().Err(err).Str("identity", identity).Msg("Credit stream upgrade failed")
		return
	}

	c := &streamClient{
		id:       utils.GenerateID("stream"),
		identity: l.Identity(),
		key:      l.CacheKey(),
		conn:     conn,
		send:     make(chan []byte, streamSendBuffer),
		registry: s.registry,
	}
	subID, notifications := s.registry.Subject().Subscribe()
	done := make(chan struct{})

	log.Debug().Str("client", c.id).Str("identity", c.identity).Msg("Credit stream opened")

	go c.writePump(done)
	c.enqueue(done, streamMessage{Type: "credits", Data: credits.NewView(c.identity, state)})
	go c.forward(done, notifications)

	c.readPump(done)

	close(done)
	s.registry.Subject().Unsubscribe(subID)
	log.Debug().Str("client", c.id).Str("identity", c.identity).Msg("Credit stream closed")
}

// forward turns subject notifications for the client's identity into frames.
func (c *streamClient) forward(done <-chan struct{}, notifications <-chan credits.Notification) {
	for {
		select {
		case <-done:
			return
		case n, ok := <-notifications:
			if !ok {
				// Subject closed on shutdown.
				_ = c.conn.Close()
				return
			}
			if n.Key != c.key {
				continue
			}
			c.enqueue(done, streamMessage{Type: "credits", Data: credits.NewView(c.identity, c.viewState(n))})
		}
	}
}

// viewState folds n into the open ledger's state the same way the ledger
// does, so the pushed tier is always the session's tier.
func (c *streamClient) viewState(n credits.Notification) credits.CreditState {
	l, ok := c.registry.Get(c.identity)
	if !ok {
		return n.State
	}
	current, err := l.State()
	if err != nil {
		return n.State
	}
	return credits.MergeIncoming(current, n.State)
}

func (c *streamClient) enqueue(done <-chan struct{}, msg streamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("client", c.id).Msg("Failed to marshal credit stream message")
		return
	}
	select {
	case c.send <- data:
	case <-done:
	}
}

// readPump handles incoming frames until the connection closes.
func (c *streamClient) readPump(done <-chan struct{}) {
	defer c.conn.Close()

	c.conn.SetReadLimit(streamReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("Credit stream read error")
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed credit stream message")
			continue
		}
		switch msg.Type {
		case "ping":
			c.enqueue(done, streamMessage{Type: "pong", Data: map[string]int64{"timestamp": time.Now().Unix()}})
		case "refresh":
			if l, ok := c.registry.Get(c.identity); ok {
				if state, err := l.State(); err == nil {
					c.enqueue(done, streamMessage{Type: "credits", Data: credits.NewView(c.identity, state)})
				}
			}
		default:
			log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Unhandled credit stream message")
		}
	}
}

// writePump is the only writer on the connection.
func (c *streamClient) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Credit stream write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
