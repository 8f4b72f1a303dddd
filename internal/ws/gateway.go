package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/metrics"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/ratelimit"
	"github.com/adharsh555/Real-time-Pair-Programming-Prototype/internal/registry"
)

const (
	// Route prefix; the room id is the remaining path segment
	PathPrefix = "/ws/"

	DefaultDisplayName = "Anonymous"
	maxDisplayNameLen  = 64
	maxRoomIDLen       = 128
)

type Config struct {
	// Time allowed to read the next pong from the peer
	PongWait time.Duration

	// Time allowed to write a frame to the peer
	WriteWait time.Duration

	// Largest inbound frame accepted
	MaxMessageSize int64

	// Outbound frames queued per connection before the client is dropped
	SendBuffer int

	MessagesPerSecond float64
	MessageBurst      int

	// Rate-limit violations tolerated before disconnecting
	MaxViolations int

	// Open connection cap; 0 means unlimited
	MaxConnections int

	// Origins allowed to open sockets; "*" allows any
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		PongWait:          60 * time.Second,
		WriteWait:         10 * time.Second,
		MaxMessageSize:    1024 * 1024,
		SendBuffer:        256,
		MessagesPerSecond: 100,
		MessageBurst:      200,
		MaxViolations:     1000,
		MaxConnections:    0,
		AllowedOrigins:    []string{"*"},
	}
}

func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Gateway terminates WebSocket connections and relays frames between each
// socket and its room actor
type Gateway struct {
	registry *registry.Registry
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	active   atomic.Int64
}

func NewGateway(reg *registry.Registry, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		registry: reg,
		cfg:      cfg,
		log:      logger,
		metrics:  m,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// ActiveConnections counts sockets that have been upgraded and not yet released
func (g *Gateway) ActiveConnections() int {
	return int(g.active.Load())
}

// ServeHTTP handles GET /ws/{roomId}?name=<displayName>
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := RoomIDFromRequest(r)
	if roomID == "" {
		http.Error(w, "room id required", http.StatusBadRequest)
		return
	}
	name := DisplayName(r.URL.Query().Get("name"))

	if n := g.active.Add(1); g.cfg.MaxConnections > 0 && n > int64(g.cfg.MaxConnections) {
		g.active.Add(-1)
		g.log.Warn("ws.rejected", "room", roomID, "reason", "connection_limit", "limit", g.cfg.MaxConnections)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.active.Add(-1)
		g.log.Warn("ws.upgrade", "room", roomID, "err", err)
		return
	}
	g.metrics.ConnectionOpened()

	c := newClient(g, conn, roomID, name)

	actor, member, _, err := g.registry.Join(r.Context(), roomID, name, c)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, registry.ErrTooManyRooms) || errors.Is(err, registry.ErrRegistryClosed) {
			code = websocket.CloseTryAgainLater
		}
		g.log.Warn("ws.join", "room", roomID, "client", c.id, "err", err)
		conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()))
		conn.Close()
		g.release()
		return
	}
	c.room = actor
	c.member = member

	g.log.Info("ws.connected", "room", roomID, "client", c.id, "member", member.ID, "name", name)

	go c.writePump()
	go c.readPump()
}

func (g *Gateway) release() {
	g.active.Add(-1)
	g.metrics.ConnectionClosed()
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// RoomIDFromRequest takes the room id from the path segment after /ws/,
// falling back to the room query parameter
func RoomIDFromRequest(r *http.Request) string {
	var id string
	if strings.HasPrefix(r.URL.Path, PathPrefix) {
		id = strings.Trim(r.URL.Path[len(PathPrefix):], "/")
	}
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("room"))
	}
	if strings.Contains(id, "/") || utf8.RuneCountInString(id) > maxRoomIDLen {
		return ""
	}
	return id
}

// DisplayName trims and bounds a client-supplied name
func DisplayName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return DefaultDisplayName
	}
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		name = string([]rune(name)[:maxDisplayNameLen])
	}
	return name
}

func newClient(g *Gateway, conn *websocket.Conn, roomID, name string) *Client {
	return &Client{
		gateway:     g,
		conn:        conn,
		send:        make(chan []byte, g.cfg.SendBuffer),
		roomID:      roomID,
		name:        name,
		id:          uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(g.cfg.MessagesPerSecond, g.cfg.MessageBurst),
	}
}
