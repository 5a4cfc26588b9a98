// Package publish fans out book-update and trade events to live
// subscribers, one topic per trading pair, over the same
// register/unregister/broadcast channel triad and ping/pong-keepalive
// client pump pair as a typical gorilla/websocket hub.
//
// Delivery is best-effort and at-most-once: a client whose send buffer
// is full is dropped rather than blocking the publisher. Subscribers
// that miss events are expected to resync via a book snapshot.
package publish

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"huginn/internal/common"
	"huginn/internal/money"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	clientBuffer   = 256
)

// BookUpdateEvent is the snapshot-style payload emitted after any
// committed matching step or cancellation touches a pair's book.
type BookUpdateEvent struct {
	Type string      `json:"type"`
	Pair common.Pair `json:"pair"`
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

// LevelView mirrors book.LevelView for the wire, keeping internal/book
// free of a publish dependency.
type LevelView struct {
	Price              money.Decimal `json:"price"`
	AggregateRemaining money.Decimal `json:"aggregate_remaining_quantity"`
	OrderCount         int           `json:"order_count"`
}

// TradeEvent is emitted once per produced trade, in execution order.
type TradeEvent struct {
	Type         string        `json:"type"`
	TradeID      string        `json:"trade_id"`
	Pair         common.Pair   `json:"pair"`
	Price        money.Decimal `json:"price"`
	Quantity     money.Decimal `json:"quantity"`
	MakerFee     money.Decimal `json:"maker_fee"`
	TakerFee     money.Decimal `json:"taker_fee"`
	ExecutedAt   time.Time     `json:"executed_at"`
	MakerOrderID string        `json:"maker_order_id"`
	TakerOrderID string        `json:"taker_order_id"`
}

// client is one subscriber connection on one pair's topic.
type client struct {
	topic common.Pair
	conn  *websocket.Conn
	send  chan []byte
}

// Hub owns one set of subscriber clients per trading pair.
type Hub struct {
	mu      sync.RWMutex
	clients map[common.Pair]map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan topicMessage

	log zerolog.Logger
}

type topicMessage struct {
	topic common.Pair
	data  []byte
}

// NewHub creates a Hub with no subscribers yet. Call Run in its own
// goroutine before registering clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[common.Pair]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan topicMessage, 256),
		log:        logger.With().Str("component", "publish").Logger(),
	}
}

// Run drives the hub's event loop until ctx is done.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.topic] == nil {
				h.clients[c.topic] = make(map[*client]bool)
			}
			h.clients[c.topic][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.topic]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients[msg.topic] {
				select {
				case c.send <- msg.data:
				default:
					h.log.Warn().Str("pair", msg.topic.String()).Msg("subscriber buffer full, dropping client")
					close(c.send)
					delete(h.clients[msg.topic], c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) publish(pair common.Pair, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	select {
	case h.broadcast <- topicMessage{topic: pair, data: data}:
	default:
		h.log.Warn().Str("pair", pair.String()).Msg("broadcast channel full, dropping event")
	}
}

// PublishBookUpdate emits a book-update event for pair.
func (h *Hub) PublishBookUpdate(evt BookUpdateEvent) {
	evt.Type = "book_update"
	h.publish(evt.Pair, evt)
}

// PublishTrade emits a trade event, once per produced trade in
// execution order (callers are responsible for calling this in the
// order trades were produced during a matching step).
func (h *Hub) PublishTrade(evt TradeEvent) {
	evt.Type = "trade"
	h.publish(evt.Pair, evt)
}

// Subscribe registers conn as a subscriber to pair's topic and starts
// its read/write pumps. Subscribers are read-only; any inbound message
// is discarded.
func (h *Hub) Subscribe(pair common.Pair, conn *websocket.Conn) {
	c := &client{topic: pair, conn: conn, send: make(chan []byte, clientBuffer)}
	h.register <- c
	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
