// Package ws streams broker events to dashboard clients over WebSocket.
// A client opens the socket, sends one subscribe message naming the
// channels it wants, and then receives events until it disconnects.
package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"luna.social/internal/protocol"
	"luna.social/internal/stream"
)

var json = jsoniter.ConfigFastest

type Server struct {
	broker *stream.Broker
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(b *stream.Broker, logger *log.Logger) *Server {
	return &Server{
		broker: b,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type subscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Channels        []string `json:"channels"`
	IncludeHistory  bool     `json:"include_history"`
}

type envelope struct {
	Type  string         `json:"type"`
	Event protocol.Event `json:"event,omitempty"`
	Error string         `json:"error,omitempty"`
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		subs := s.handshake(conn)
		if subs == nil {
			return
		}
		defer func() {
			for _, sub := range subs {
				s.broker.Unsubscribe(sub)
			}
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Forwarders fan every subscription into one out channel; the
		// single write pump below is the only goroutine touching the
		// connection's write side.
		out := make(chan protocol.Event, 64)
		for _, sub := range subs {
			go func(sub *stream.Subscription) {
				for {
					select {
					case <-ctx.Done():
						return
					case ev, ok := <-sub.C:
						if !ok {
							return
						}
						select {
						case out <- ev:
						case <-ctx.Done():
							return
						}
					}
				}
			}(sub)
		}

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-out:
					b, err := json.Marshal(envelope{Type: "event", Event: ev})
					if err != nil {
						continue
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop keeps the connection alive and detects close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}
}

// handshake reads the subscribe message and opens broker subscriptions.
// Returns nil when the client misbehaves; the close frame says why.
func (s *Server) handshake(conn *websocket.Conn) []*stream.Subscription {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	var sub subscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != "subscribe" {
		s.reject(conn, "expected subscribe")
		return nil
	}
	if sub.ProtocolVersion != "" && sub.ProtocolVersion != protocol.Version {
		s.reject(conn, "bad protocol_version")
		return nil
	}
	channels := sub.Channels
	if len(channels) == 0 {
		channels = protocol.Channels
	}

	subs := make([]*stream.Subscription, 0, len(channels))
	for _, ch := range channels {
		bs, err := s.broker.Subscribe(ch, sub.IncludeHistory)
		if err != nil {
			for _, prev := range subs {
				s.broker.Unsubscribe(prev)
			}
			s.reject(conn, "unknown channel "+ch)
			return nil
		}
		subs = append(subs, bs)
	}

	ack, _ := json.Marshal(map[string]any{
		"type":             "subscribed",
		"protocol_version": protocol.Version,
		"channels":         channels,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
		for _, prev := range subs {
			s.broker.Unsubscribe(prev)
		}
		return nil
	}
	return subs
}

func (s *Server) reject(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}
