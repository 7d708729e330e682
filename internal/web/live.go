package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendQueue  = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub tracks live clients.
type hub struct {
	mu      sync.RWMutex
	clients map[*liveClient]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*liveClient]struct{})}
}

func (h *hub) add(c *liveClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *liveClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.send(msg)
	}
}

func (h *hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.close()
	}
}

// liveClient is one websocket subscriber. Messages that do not fit the
// send queue are dropped.
type liveClient struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *liveClient) send(msg []byte) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
	}
}

func (c *liveClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards client messages and notices disconnects.
func (c *liveClient) readPump() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: live read error: %v", err)
			}
			return
		}
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: live upgrade error: %v", err)
		return
	}
	c := &liveClient{
		conn:   conn,
		sendCh: make(chan []byte, sendQueue),
		done:   make(chan struct{}),
	}
	s.live.add(c)
	log.Printf("web: live client %s connected", r.RemoteAddr)

	go c.writePump()
	c.readPump()

	s.live.remove(c)
	c.close()
	log.Printf("web: live client %s disconnected", r.RemoteAddr)
}
