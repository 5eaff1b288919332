package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/fleet"
	"github.com/joshp123/plantcare/internal/history"
	"github.com/joshp123/plantcare/internal/service"
)

const (
	streamQueue  = 8
	writeTimeout = 5 * time.Second
	pingPeriod   = 30 * time.Second
)

var streamClients = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "plantcare_stream_clients",
	Help: "Connected websocket fleet stream clients",
})

// StreamCollectors exposes websocket stream collectors.
func StreamCollectors() []prometheus.Collector {
	return []prometheus.Collector{streamClients}
}

type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Stream pushes every committed fleet snapshot and command result to
// websocket clients. Slow clients drop messages rather than stall the loop.
type Stream struct {
	svc      *service.Service
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

func NewStream(svc *service.Service, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		svc: svc,
		log: logger.With("component", "stream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &streamClient{conn: conn, send: make(chan []byte, streamQueue)}
	if msg, err := json.Marshal(streamMessage{Type: "snapshot", Data: s.svc.Fleet()}); err == nil {
		client.send <- msg
	}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	streamClients.Set(float64(len(s.clients)))
	s.mu.Unlock()

	go s.writePump(client)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.remove(client)
}

func (s *Stream) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

func (s *Stream) remove(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	streamClients.Set(float64(len(s.clients)))
}

func (s *Stream) broadcast(kind string, data any) {
	msg, err := json.Marshal(streamMessage{Type: kind, Data: data})
	if err != nil {
		s.log.Error("encode stream message", "type", kind, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Close disconnects every client.
func (s *Stream) Close() {
	s.mu.Lock()
	clients := make([]*streamClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.remove(c)
	}
}

func (s *Stream) ObserveReading(string, core.Reading) {}

func (s *Stream) ObserveCommit(fleet.Snapshot) {
	s.broadcast("snapshot", s.svc.Fleet())
}

func (s *Stream) ObserveCommand(res automation.Result) {
	s.broadcast("command", history.FromResult(res))
}
