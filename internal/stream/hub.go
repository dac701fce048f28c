// Package stream pushes newly emitted predictions to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kjstillabower/hazard-risk-service/internal/models"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
	"github.com/kjstillabower/hazard-risk-service/internal/registry"
)

// Config tunes the hub. Zero values take defaults.
type Config struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string
}

// Message is the frame sent to subscribers.
type Message struct {
	Type       string                `json:"type"`
	Prediction models.RiskPrediction `json:"prediction"`
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	filter registry.Filter
}

type outbound struct {
	pred    models.RiskPrediction
	payload []byte
}

// Hub fans predictions out to connected clients. Run must be running for clients to attach.
type Hub struct {
	cfg        Config
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan outbound
	done       chan struct{}
	count      atomic.Int64
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHub creates a Hub.
func NewHub(cfg Config, logger *zap.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:        cfg,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Run owns the client set until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			h.logger.Info("stream client connected", zap.String("client_id", c.id), zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("stream client disconnected", zap.String("client_id", c.id), zap.Int("clients", len(h.clients)))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.filter.Matches(msg.pred) {
					continue
				}
				select {
				case c.send <- msg.payload:
				default:
					h.drop(c)
					h.logger.Warn("stream client too slow, dropped", zap.String("client_id", c.id))
				}
			}

		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	observability.StreamClients.Set(float64(len(h.clients)))
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Broadcast queues preds for delivery. When the queue is full the prediction is dropped;
// the registry remains the source of truth.
func (h *Hub) Broadcast(preds []models.RiskPrediction) {
	for _, p := range preds {
		payload, err := json.Marshal(Message{Type: "prediction", Prediction: p})
		if err != nil {
			h.logger.Error("stream encode failed", zap.String("prediction_id", p.ID), zap.Error(err))
			continue
		}
		select {
		case h.broadcast <- outbound{pred: p, payload: payload}:
		default:
			h.logger.Warn("stream broadcast queue full, dropping prediction", zap.String("prediction_id", p.ID))
		}
	}
}

// ServeWS upgrades the request and attaches a client. Query parameters district and
// hazardType narrow what the client receives.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		filter: registry.Filter{
			District: r.URL.Query().Get("district"),
			Hazard:   r.URL.Query().Get("hazardType"),
		},
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("stream write failed", zap.String("client_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; it exists to process control frames and notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}
