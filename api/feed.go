package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/toncenter/ton-dispatch-go/router"
)

const (
	clientBuffer      = 64
	keepAliveInterval = 15 * time.Second
)

type feedClient struct {
	id   string
	send chan []byte
}

// Hub fans router updates out to every connected feed client.
type Hub struct {
	register   chan *feedClient
	unregister chan *feedClient
	clients    map[string]*feedClient
	done       chan struct{}
	logger     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		clients:    make(map[string]*feedClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run consumes updates until ctx is done or the update channel closes.
func (h *Hub) Run(ctx context.Context, updates <-chan router.Update) {
	defer func() {
		close(h.done)
		for id, client := range h.clients {
			close(client.send)
			delete(h.clients, id)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client.id] = client
			h.logger.WithField("client", client.id).Debug("Feed client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				h.logger.WithField("client", client.id).Debug("Feed client disconnected")
			}
		case update, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(update)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal update")
				continue
			}
			for _, client := range h.clients {
				select {
				case client.send <- data:
				default:
					h.logger.WithField("client", client.id).Warn("Feed client is slow, dropping update")
				}
			}
		}
	}
}

func (h *Hub) connect() *feedClient {
	client := &feedClient{id: uuid.NewString(), send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
	return client
}

func (h *Hub) disconnect(client *feedClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func writeSSE(w *bufio.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSEBytes(w, event, data)
}

func writeSSEBytes(w *bufio.Writer, event string, payload []byte) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}

// @summary Pending request feed
// @description Streams mailbox changes as server-sent events. The first event lists the requests already waiting.
// @tags requests
// @produce text/event-stream
// @router /api/v1/events [get]
func (s *Server) eventsSSE(c *fiber.Ctx) error {
	pending := s.router.Pending()
	client := s.hub.connect()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	c.Status(fiber.StatusOK).Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer s.hub.disconnect(client)
		if err := writeSSE(w, "pending", pending); err != nil {
			return
		}
		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()
		for {
			select {
			case data, ok := <-client.send:
				if !ok {
					return
				}
				if err := writeSSEBytes(w, "update", data); err != nil {
					return
				}
			case <-keepAlive.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func (s *Server) eventsWS(c *websocket.Conn) {
	client := s.hub.connect()
	defer s.hub.disconnect(client)

	if msg, err := json.Marshal(fiber.Map{"pending": s.router.Pending()}); err == nil {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	// The reader only notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case data, ok := <-client.send:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
