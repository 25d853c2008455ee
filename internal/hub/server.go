// Package hub relays store change notifications between processes over
// websockets. Every context sharing a store connects a Client to the same
// Server; a change published by one client is delivered to all the others.
package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"typed_kv_store/internal/kvstore"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	defaultSendBuffer = 256
	maxMessageSize    = 1 << 20
)

const (
	messageTypeChange = "change"
	serverOrigin      = "hub"
)

// Message is the wire form of a change.
type Message struct {
	Type    string `json:"type"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
}

func changeMessage(change kvstore.Change, origin string) Message {
	msg := Message{
		Type:    messageTypeChange,
		Key:     change.Key,
		Deleted: change.Deleted,
		Origin:  origin,
	}
	if !change.Deleted {
		msg.Value = string(change.Value)
	}
	return msg
}

type ServerOptions struct {
	// SendBuffer is the number of messages queued per connection before the
	// connection is dropped as too slow.
	SendBuffer     int
	AllowedOrigins []string
	Logger         *log.Logger
}

type Server struct {
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *log.Logger

	mu    sync.Mutex
	conns map[*peer]struct{}
}

type peer struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.send)
	})
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sendBuffer := opts.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	allowed := opts.AllowedOrigins
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return isOriginAllowed(r, allowed)
			},
		},
		sendBuffer: sendBuffer,
		logger:     logger,
		conns:      make(map[*peer]struct{}),
	}
}

func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == "*" || candidate == origin {
			return true
		}
	}
	return false
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p := &peer{conn: conn, send: make(chan []byte, s.sendBuffer)}

	s.mu.Lock()
	s.conns[p] = struct{}{}
	s.mu.Unlock()

	go s.writePump(p)
	s.readPump(p)
}

func (s *Server) remove(p *peer) {
	s.mu.Lock()
	delete(s.conns, p)
	s.mu.Unlock()
	p.close()
}

func (s *Server) readPump(p *peer) {
	defer func() {
		s.remove(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("hub: read: %v", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != messageTypeChange || msg.Key == "" {
			s.logger.Printf("hub: dropping malformed message")
			continue
		}
		s.broadcast(p, data)
	}
}

// Publish sends change to every connected client. It lets the process hosting
// the hub announce its own writes.
func (s *Server) Publish(change kvstore.Change) error {
	data, err := json.Marshal(changeMessage(change, serverOrigin))
	if err != nil {
		return fmt.Errorf("encode change %q: %w", change.Key, err)
	}
	s.broadcast(nil, data)
	return nil
}

func (s *Server) broadcast(from *peer, data []byte) {
	s.mu.Lock()
	var slow []*peer
	for p := range s.conns {
		if p == from {
			continue
		}
		select {
		case p.send <- data:
		default:
			slow = append(slow, p)
		}
	}
	for _, p := range slow {
		delete(s.conns, p)
	}
	s.mu.Unlock()

	for _, p := range slow {
		s.logger.Printf("hub: dropping slow connection %s", p.conn.RemoteAddr())
		p.close()
	}
}

func (s *Server) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
