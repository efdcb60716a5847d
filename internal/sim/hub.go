package sim

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gocomet/rider-app/internal/wire"
	"github.com/gocomet/rider-app/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

func newID() string {
	return uuid.NewString()
}

// Peer is one connected socket, identified by the user it belongs to.
type Peer struct {
	ID       string
	UserID   string
	UserType string

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *logger.Logger
}

// Hub tracks connected peers and routes envelopes to them by user.
type Hub struct {
	mu      sync.RWMutex
	peers   map[*Peer]bool
	onEvent func(p *Peer, env wire.Envelope)
	logger  *logger.Logger
}

// NewHub creates a hub. onEvent is called for every envelope a peer
// sends; it runs on the peer's read goroutine.
func NewHub(onEvent func(p *Peer, env wire.Envelope), log *logger.Logger) *Hub {
	return &Hub{
		peers:   make(map[*Peer]bool),
		onEvent: onEvent,
		logger:  log,
	}
}

// Attach wires a freshly upgraded connection into the hub, sends the
// hello envelope, and starts the pumps.
func (h *Hub) Attach(conn *websocket.Conn, userID, userType string) *Peer {
	p := &Peer{
		ID:       newID(),
		UserID:   userID,
		UserType: userType,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		logger:   h.logger,
	}

	h.mu.Lock()
	h.peers[p] = true
	h.mu.Unlock()

	h.logger.Info("Peer connected",
		logger.String("peer_id", p.ID),
		logger.String("user_id", userID),
		logger.String("user_type", userType),
	)

	p.Send(wire.EventConnected, wire.Connected{SocketID: p.ID})

	go p.writePump()
	go p.readPump()
	return p
}

func (h *Hub) remove(p *Peer) {
	h.mu.Lock()
	if _, ok := h.peers[p]; ok {
		delete(h.peers, p)
		close(p.send)
	}
	h.mu.Unlock()
	h.logger.Info("Peer disconnected", logger.String("peer_id", p.ID))
}

// SendToUser delivers an envelope to every peer of the given user.
func (h *Hub) SendToUser(userID, userType, event string, v interface{}) {
	env, err := wire.NewEnvelope(event, v)
	if err != nil {
		h.logger.Error("Failed to build envelope", logger.Err(err), logger.String("event", event))
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to marshal envelope", logger.Err(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		if p.UserID == userID && p.UserType == userType {
			select {
			case p.send <- data:
			default:
				h.logger.Warn("Peer send buffer full",
					logger.String("peer_id", p.ID),
					logger.String("event", event),
				)
			}
		}
	}
}

// ActivePeers returns the number of connected peers.
func (h *Hub) ActivePeers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Send queues one envelope on this peer.
func (p *Peer) Send(event string, v interface{}) {
	env, err := wire.NewEnvelope(event, v)
	if err != nil {
		p.logger.Error("Failed to build envelope", logger.Err(err), logger.String("event", event))
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("Failed to marshal envelope", logger.Err(err))
		return
	}
	select {
	case p.send <- data:
	default:
		p.logger.Warn("Peer send buffer full", logger.String("peer_id", p.ID))
	}
}

func (p *Peer) readPump() {
	defer func() {
		p.hub.remove(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				p.logger.Error("Socket read error", logger.Err(err), logger.String("peer_id", p.ID))
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			p.logger.Warn("Unparseable envelope", logger.Err(err), logger.String("peer_id", p.ID))
			continue
		}
		if p.hub.onEvent != nil {
			p.hub.onEvent(p, env)
		}
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
