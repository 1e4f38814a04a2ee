package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// Event is one bus message as delivered to websocket clients.
type Event struct {
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Service mirrors configured bus subjects onto a websocket endpoint so
// dashboards can watch the pipeline live. Clients are read-only; slow
// ones lose events instead of stalling the bus callback.
type Service struct {
	cfg      config.FeedConfig
	bus      *bus.Client
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewService(parent context.Context, cfg config.FeedConfig, busClient *bus.Client, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		logger: logger.With(slog.String("component", "feed")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*client]struct{}),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled || s.bus == nil {
		return nil
	}
	for _, subject := range s.cfg.Subjects {
		sub, err := s.bus.Conn().Subscribe(subject, s.fanout)
		if err != nil {
			s.drainSubs()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drainSubs()

	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	if !s.cfg.Enabled || s.bus == nil {
		return true
	}
	return len(s.subs) == len(s.cfg.Subjects)
}

// ClientCount reports the number of connected websocket clients.
func (s *Service) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Service) drainSubs() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or the service shuts down.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Enabled {
		http.Error(w, "feed disabled", http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}

	c := &client{conn: conn, send: make(chan Event, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("feed client connected", slog.String("remote", conn.RemoteAddr().String()))

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writeLoop(c)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

func (s *Service) fanout(msg *nats.Msg) {
	evt := Event{
		Subject:   msg.Subject,
		Payload:   append([]byte(nil), msg.Data...),
		Timestamp: time.Now().UTC(),
	}
	s.mu.Lock()
	for c := range s.clients {
		select {
		case c.send <- evt:
		default:
			// Slow client, drop the event.
		}
	}
	s.mu.Unlock()
}

func (s *Service) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-s.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case evt, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client input; its job is noticing the disconnect.
func (s *Service) readLoop(c *client) {
	defer s.removeClient(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Service) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
