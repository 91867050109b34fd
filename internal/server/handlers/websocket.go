// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/domain/market"
	"marketfinder/internal/logging"
	"marketfinder/internal/metrics"
	"marketfinder/internal/service/recommend"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 4096,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origins are enforced by the CORS middleware
		return true
	},
}

// FeedMessage is pushed to recommendation feed clients
type FeedMessage struct {
	Type    string             `json:"type"` // welcome, ranking, error
	Items   []string           `json:"items,omitempty"`
	Ranking *recommend.Ranking `json:"ranking,omitempty"`
	Error   string             `json:"error,omitempty"`
	Time    time.Time          `json:"time"`
}

// feedClient is one connected recommendation feed
type feedClient struct {
	conn        *websocket.Conn
	send        chan []byte
	updates     chan geo.Position
	done        chan struct{}
	closeOnce   sync.Once
	items       market.ShoppingList
	recommender Recommender
	config      WebSocketConfig
	logger      zerolog.Logger
}

// RecommendationWebSocketHandler streams a fresh ranking for ?items= on every
// position update of the session
func RecommendationWebSocketHandler(session PositionSession, recommender Recommender, config WebSocketConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := parseItems(r.URL.Query().Get("items"))
		if len(items) == 0 {
			respondWithError(w, r, http.StatusBadRequest, "Missing items", nil)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Failed to upgrade to WebSocket")
			return
		}

		client := &feedClient{
			conn:        conn,
			send:        make(chan []byte, 16),
			updates:     make(chan geo.Position, 1),
			done:        make(chan struct{}),
			items:       items,
			recommender: recommender,
			config:      config,
			logger:      logging.WithComponent("ws-feed").With().Str("remote", r.RemoteAddr).Logger(),
		}

		metrics.WebSocketClients.Inc()
		unsubscribe := session.Subscribe(client.offer)

		go client.writePump()
		go client.rankPump(unsubscribe)
		go client.readPump()

		client.queue(FeedMessage{Type: "welcome", Items: items, Time: time.Now()})
		if st := session.State(); st.Position != nil {
			client.offer(*st.Position)
		}

		client.logger.Info().Strs("items", items).Msg("Recommendation feed connected")
	}
}

func parseItems(raw string) []string {
	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// offer hands the newest position to the rank pump, replacing any pending one.
// It never blocks the delivering goroutine.
func (c *feedClient) offer(p geo.Position) {
	select {
	case <-c.done:
		return
	default:
	}
	for {
		select {
		case c.updates <- p:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

// queue enqueues a message, dropping it when the client is slow
func (c *feedClient) queue(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal feed message")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Warn().Msg("Feed client too slow, dropping message")
	}
}

// rankPump turns position updates into rankings
func (c *feedClient) rankPump(unsubscribe func()) {
	defer unsubscribe()

	for {
		select {
		case <-c.done:
			return
		case p := <-c.updates:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteWait)
			origin := p.Coordinate
			ranking, err := c.recommender.Rank(ctx, &origin, c.items)
			cancel()

			if err != nil {
				c.queue(FeedMessage{Type: "error", Error: err.Error(), Time: time.Now()})
				continue
			}
			c.queue(FeedMessage{Type: "ranking", Ranking: &ranking, Time: time.Now()})
		}
	}
}

// readPump drains control frames; the feed ignores client payloads
func (c *feedClient) readPump() {
	defer c.closeConnection()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// writePump pumps queued messages to the WebSocket connection
func (c *feedClient) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeConnection closes the connection once and stops every pump
func (c *feedClient) closeConnection() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		metrics.WebSocketClients.Dec()
		c.logger.Info().Msg("Recommendation feed closed")
	})
}
