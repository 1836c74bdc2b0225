// Package relay fans gateway events out to downstream services over
// WebSocket and accepts send and sync commands from them.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"omnigate/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sender routes an outgoing message to the instance that owns it.
type Sender interface {
	Send(ctx context.Context, instanceID string, msg domain.OutgoingMessage) domain.SendResult
}

// Config configures the relay server.
type Config struct {
	Host   string
	Port   int
	Path   string // WebSocket endpoint path (default: /events)
	Bus    domain.EventBus
	Sender Sender
	Logger *slog.Logger
	// Routes are extra handlers mounted next to the socket endpoint.
	Routes map[string]http.Handler
}

// Frame is the JSON protocol spoken on the socket.
//
// Server to client: "event", "send_result", "status", "error".
// Client to server: "send", "sync".
type Frame struct {
	Type       string                  `json:"type"`
	ID         string                  `json:"id,omitempty"`
	InstanceID string                  `json:"instanceId,omitempty"`
	Event      *domain.Event           `json:"event,omitempty"`
	Message    *domain.OutgoingMessage `json:"message,omitempty"`
	Result     *domain.SendResult      `json:"result,omitempty"`
	Sync       *domain.SyncJob         `json:"sync,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// Server is the relay endpoint.
type Server struct {
	addr   string
	path   string
	bus    domain.EventBus
	sender Sender
	logger *slog.Logger
	routes map[string]http.Handler
	server *http.Server

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id       string
	conn     *websocket.Conn
	topics   map[string]bool // empty = every topic
	instance string
	mu       sync.Mutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // downstream services, not browsers
	},
}

// New creates a relay server.
func New(cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = "/events"
	}
	if cfg.Port == 0 {
		cfg.Port = 8787
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		path:    cfg.Path,
		bus:     cfg.Bus,
		sender:  cfg.Sender,
		logger:  cfg.Logger,
		routes:  cfg.Routes,
		clients: make(map[string]*client),
	}
}

// Handler returns the HTTP handler serving the socket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	for path, h := range s.routes {
		mux.Handle(path, h)
	}
	return mux
}

// Start subscribes to the bus and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	subID := s.bus.Subscribe("*", s.broadcast, domain.SubscribeOptions{})
	defer s.bus.Unsubscribe("*", subID)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("relay server starting", "addr", s.addr, "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("relay listen: %w", err)
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("relay upgrade failed", "err", err)
		return
	}

	c := &client{
		id:       uuid.NewString(),
		conn:     conn,
		topics:   parseTopics(r.URL.Query().Get("topics")),
		instance: r.URL.Query().Get("instance"),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.logger.Info("relay client connected", "client_id", c.id, "instance", c.instance)
	c.send(Frame{Type: "status", ID: c.id})

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info("relay client disconnected", "client_id", c.id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("relay read error", "err", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.send(Frame{Type: "error", Error: "invalid frame: " + err.Error()})
			continue
		}
		s.handleFrame(r.Context(), c, f)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, f Frame) {
	switch f.Type {
	case "send":
		if f.Message == nil || f.InstanceID == "" {
			c.send(Frame{Type: "error", ID: f.ID, Error: "send requires instanceId and message"})
			return
		}
		if s.sender == nil {
			c.send(Frame{Type: "error", ID: f.ID, Error: "sending is not enabled"})
			return
		}
		// Sends can take seconds; keep reading frames meanwhile.
		go func() {
			res := s.sender.Send(ctx, f.InstanceID, *f.Message)
			c.send(Frame{Type: "send_result", ID: f.ID, InstanceID: f.InstanceID, Result: &res})
		}()

	case "sync":
		if f.Sync == nil || f.Sync.InstanceID == "" {
			c.send(Frame{Type: "error", ID: f.ID, Error: "sync requires instanceId and kind"})
			return
		}
		s.bus.Publish(domain.Event{
			Topic:      domain.TopicSyncStart,
			InstanceID: f.Sync.InstanceID,
			Payload:    *f.Sync,
		})

	default:
		c.send(Frame{Type: "error", ID: f.ID, Error: "unknown frame type " + strconv.Quote(f.Type)})
	}
}

func (s *Server) broadcast(e domain.Event) {
	data, err := json.Marshal(Frame{Type: "event", InstanceID: e.InstanceID, Event: &e})
	if err != nil {
		s.logger.Warn("relay encode failed", "topic", e.Topic, "err", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if !c.wants(e) {
			continue
		}
		if err := c.write(data); err != nil {
			s.logger.Debug("relay write failed", "client_id", c.id, "err", err)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (c *client) wants(e domain.Event) bool {
	if c.instance != "" && e.InstanceID != c.instance {
		return false
	}
	return len(c.topics) == 0 || c.topics[e.Topic]
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) send(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.write(data)
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.conn.Close()
		delete(s.clients, id)
	}
}

func parseTopics(raw string) map[string]bool {
	topics := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics[t] = true
		}
	}
	return topics
}
