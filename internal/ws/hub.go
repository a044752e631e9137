package ws

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/coderelay/internal/config"
	"github.com/manpreetbhatti/coderelay/internal/metrics"
	"github.com/manpreetbhatti/coderelay/internal/ratelimit"
	"github.com/manpreetbhatti/coderelay/internal/relay"
	"github.com/manpreetbhatti/coderelay/internal/room"
)

// Hub accepts WebSocket connections and attaches each one to a relay
// session. Room state lives in the dispatcher's registry.
type Hub struct {
	dispatcher *relay.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	transport  config.TransportConfig

	upgrader websocket.Upgrader
	upgrades *ratelimit.ClientLimiters
}

func NewHub(dispatcher *relay.Dispatcher, logger *slog.Logger, m *metrics.Metrics, transport config.TransportConfig, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		transport:  transport,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		upgrades: ratelimit.NewClientLimiters(float64(transport.UpgradesPerMinute)/60, transport.UpgradesPerMinute),
	}
}

func (h *Hub) Registry() *room.Registry { return h.dispatcher.Registry() }

func (h *Hub) GetRoomCount() int { return h.Registry().Count() }

func (h *Hub) GetClientCount() int { return h.Registry().ClientCount() }

func (h *Hub) GetActiveRooms() map[string]int { return h.Registry().ActiveRooms() }

// Close stops background work. Open connections are left to the server.
func (h *Hub) Close() {
	h.upgrades.Stop()
}

// ServeWs upgrades the request and starts the client's pumps.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	addr := remoteHost(r)
	if !h.upgrades.Allow(addr) {
		h.logger.Warn("client.upgrade_rate_limited", "addr", addr)
		http.Error(w, "rate limit", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("client.upgrade", "addr", addr, "err", err)
		return
	}

	c := newClient(h, conn)
	c.session = h.dispatcher.Open(c)
	h.metrics.ConnectionOpened()
	h.logger.Info("client.connected", "client", c.clientID, "addr", addr)

	go c.writePump()
	go c.readPump()
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// checkOrigin allows requests without an Origin header (non-browser
// clients), "*" allows everything.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, o := range allowed {
			if strings.EqualFold(strings.TrimSuffix(o, "/"), u.Scheme+"://"+u.Host) {
				return true
			}
		}
		return false
	}
}

func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}
