package ipc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/vegabridge/pkg/telemetry"
	"github.com/odvcencio/vegabridge/pkg/widget"
)

const clientSendBuffer = 64

// Forwarder receives every message a widget sends to its views.
type Forwarder interface {
	ForwardMessage(widgetID string, msg widget.Message)
}

// Hub owns one Endpoint per widget and fans their traffic out to websocket
// views and forwarders.
type Hub struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	forwarders []Forwarder
	metrics    *telemetry.Metrics
}

// NewHub creates a Hub. metrics may be nil.
func NewHub(metrics *telemetry.Metrics) *Hub {
	return &Hub{
		endpoints: make(map[string]*Endpoint),
		metrics:   metrics,
	}
}

// AddForwarder registers a Forwarder to receive all outbound messages.
func (h *Hub) AddForwarder(f Forwarder) {
	h.mu.Lock()
	h.forwarders = append(h.forwarders, f)
	h.mu.Unlock()
}

// Endpoint returns the endpoint for widgetID, creating it if needed.
func (h *Hub) Endpoint(widgetID string) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ep, ok := h.endpoints[widgetID]; ok {
		return ep
	}
	ep := &Endpoint{
		id:      widgetID,
		hub:     h,
		clients: make(map[*client]struct{}),
		state:   make(map[string]any),
	}
	h.endpoints[widgetID] = ep
	return ep
}

// Lookup returns the endpoint for widgetID if one exists.
func (h *Hub) Lookup(widgetID string) (*Endpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ep, ok := h.endpoints[widgetID]
	return ep, ok
}

// Remove disconnects every view of widgetID and forgets the endpoint.
func (h *Hub) Remove(widgetID string) {
	h.mu.Lock()
	ep, ok := h.endpoints[widgetID]
	delete(h.endpoints, widgetID)
	h.mu.Unlock()
	if ok {
		ep.closeAll()
	}
}

func (h *Hub) forward(widgetID string, msg widget.Message) {
	h.mu.RLock()
	forwarders := h.forwarders
	h.mu.RUnlock()
	for _, f := range forwarders {
		f.ForwardMessage(widgetID, msg)
	}
}

// Endpoint is the Channel a widget talks through. It keeps the latest
// synchronized properties so views that attach late start from them.
type Endpoint struct {
	id  string
	hub *Hub

	mu      sync.RWMutex
	clients map[*client]struct{}
	state   map[string]any
	handler func(widget.Message)
}

var _ widget.Channel = (*Endpoint)(nil)

// Send delivers msg to every attached view, dropping views that fall behind.
func (e *Endpoint) Send(msg widget.Message) {
	e.broadcast(msg)
	e.hub.forward(e.id, msg)
}

// SyncState merges state into the snapshot and pushes the changed
// properties to attached views.
func (e *Endpoint) SyncState(state map[string]any) {
	delta := make(map[string]any, len(state))
	e.mu.Lock()
	for k, v := range state {
		e.state[k] = v
		delta[k] = v
	}
	e.mu.Unlock()

	msg := widget.Message{Type: widget.MessageState, State: delta}
	e.broadcast(msg)
	e.hub.forward(e.id, msg)
}

// OnMessage sets the handler for messages coming from views.
func (e *Endpoint) OnMessage(handler func(widget.Message)) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

// Dispatch hands an inbound message to the widget.
func (e *Endpoint) Dispatch(msg widget.Message) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// Snapshot returns a copy of the synchronized properties.
func (e *Endpoint) Snapshot() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyState(e.state)
}

// Clients returns the number of attached views.
func (e *Endpoint) Clients() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients)
}

func (e *Endpoint) broadcast(msg widget.Message) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for c := range e.clients {
		if !c.enqueue(msg) {
			go e.removeClient(c, true)
		}
	}
}

// register attaches a view. The current snapshot is queued ahead of any
// later message.
func (e *Endpoint) register(conn wsConn, buffer int) *client {
	if buffer <= 0 {
		buffer = clientSendBuffer
	}
	c := &client{
		conn: conn,
		send: make(chan widget.Message, buffer),
	}
	e.mu.Lock()
	c.send <- widget.Message{Type: widget.MessageState, State: copyState(e.state)}
	e.clients[c] = struct{}{}
	e.mu.Unlock()
	if m := e.hub.metrics; m != nil {
		m.ViewClients.Inc()
	}
	return c
}

func (e *Endpoint) removeClient(c *client, dropped bool) {
	e.mu.Lock()
	_, ok := e.clients[c]
	if ok {
		delete(e.clients, c)
		close(c.send)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if m := e.hub.metrics; m != nil {
		m.ViewClients.Dec()
		if dropped {
			m.ClientsDropped.Inc()
		}
	}
}

func (e *Endpoint) closeAll() {
	e.mu.RLock()
	clients := make([]*client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	e.mu.RUnlock()
	for _, c := range clients {
		e.removeClient(c, false)
		c.close(websocket.StatusGoingAway, "widget removed")
	}
}

func copyState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(status websocket.StatusCode, reason string) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

type client struct {
	conn wsConn
	send chan widget.Message
}

func (c *client) enqueue(msg widget.Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// writeLoop returns nil once the send channel is closed.
func (c *client) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return nil
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err = c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// readLoop dispatches inbound view messages to the widget. Frames that are
// not a typed JSON message are skipped.
func (c *client) readLoop(ctx context.Context, ep *Endpoint) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg widget.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			continue
		}
		ep.Dispatch(msg)
	}
}

func (c *client) close(status websocket.StatusCode, reason string) {
	_ = c.conn.Close(status, reason)
}
