package server

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/metrics"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin:      localOrigin,
	HandshakeTimeout: 10 * time.Second,
}

// localOrigin accepts clients without an Origin header (CLI tools) and
// browsers on a loopback host.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// eventStream pushes bus events to a websocket client until either side goes
// away. An optional session_id query parameter limits the stream to one
// session.
func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		internal.Logger().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := s.bus.Subscribe()
	defer cancel()
	metrics.AddEventSubscribers(1)
	defer metrics.AddEventSubscribers(-1)
	log := internal.Logger().With(zap.String("remote", r.RemoteAddr))
	log.Debug("event stream opened", zap.String("session_id", filter))

	// The client never sends data; reading is how close and pong frames
	// are processed.
	closed := make(chan struct{})
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("event stream read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-closed:
			log.Debug("event stream closed")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && e.SessionID != filter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Debug("event stream write failed", zap.Error(err))
				return
			}
		}
	}
}
