package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"alarmist/internal/store"
)

// Hub fans out Store events to connected WebSocket clients, one Store
// subscription per client keyed on that client's pattern query parameter,
// the wire analogue of the programmatic subscribe/unsubscribe API.
type Hub struct {
	store *store.Store

	clients  map[*wsClient]bool
	register chan *wsClient
	mu       sync.Mutex
	upgrader websocket.Upgrader

	// OnClientCountChanged, if set, is invoked after every register/
	// unregister with the current client count.
	OnClientCountChanged func(count int)
}

type wsClient struct {
	conn    *websocket.Conn
	hub     *Hub
	send    chan store.Event
	subID   int
	storeCh <-chan store.Event
	done    chan struct{}
}

func newHub(st *store.Store) *Hub {
	return &Hub{
		store:    st,
		clients:  make(map[*wsClient]bool),
		register: make(chan *wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and streams Events matching the ?pattern=
// query parameter (default "_", matching every alarm) until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pattern, err := ParsePattern(r.URL.Query().Get("pattern"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}

	storeCh, subID := h.store.Subscribe(pattern)
	client := &wsClient{
		conn:    conn,
		hub:     h,
		send:    make(chan store.Event, 256),
		subID:   subID,
		storeCh: storeCh,
		done:    make(chan struct{}),
	}

	h.register <- client
	go client.feedPump()
	go client.writePump()
	go client.readPump()
}

// run processes registrations until the register channel is closed; must
// be started once before serving traffic. Unregistration is done directly
// by removeClient.
func (h *Hub) run() {
	for client := range h.register {
		h.mu.Lock()
		h.clients[client] = true
		count := len(h.clients)
		h.mu.Unlock()
		h.notifyCount(count)
	}
}

func (h *Hub) removeClient(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	h.store.Unsubscribe(c.subID)
	close(c.done)
	h.notifyCount(count)
}

func (h *Hub) notifyCount(count int) {
	if h.OnClientCountChanged != nil {
		h.OnClientCountChanged(count)
	}
}

func (h *Hub) close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

// feedPump relays Store events matching this client's pattern onto send.
func (c *wsClient) feedPump() {
	for {
		select {
		case ev, ok := <-c.storeCh:
			if !ok {
				return
			}
			select {
			case c.send <- ev:
			default:
				// Slow client: drop rather than block the Store's publish.
			}
		case <-c.done:
			return
		}
	}
}

// writePump serializes queued Events as JSON lines and pings idle connections.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(wireEvent(ev))
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards client input but keeps read deadlines/pong handling
// alive, unregistering on disconnect.
func (c *wsClient) readPump() {
	defer c.hub.removeClient(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

type eventWire struct {
	ID                string      `json:"id"`
	State             string      `json:"state"`
	PreviousState     string      `json:"previous_state"`
	Description       interface{} `json:"description,omitempty"`
	Level             string      `json:"level"`
	TimestampNanos    int64       `json:"timestamp_nanos"`
	PreviousTimestampNanos int64  `json:"previous_timestamp_nanos"`
}

func wireEvent(ev store.Event) eventWire {
	return eventWire{
		ID:                     ev.ID.String(),
		State:                  ev.State.String(),
		PreviousState:          ev.PreviousState.String(),
		Description:            ev.Description,
		Level:                  ev.Level.String(),
		TimestampNanos:         ev.Timestamp.UnixNano(),
		PreviousTimestampNanos: ev.PreviousTimestamp.UnixNano(),
	}
}
