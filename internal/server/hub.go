// Package server coordinates client admission, message relay, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/namerelay/internal/metrics"
	"github.com/Tyrowin/namerelay/internal/registry"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrHubClosed is returned by Admit once the hub has been shut down.
var ErrHubClosed = errors.New("hub is shut down")

// BroadcastMessage is an inbound frame waiting to be relayed.
type BroadcastMessage struct {
	Sender *Client
	Frame  Frame
}

// Hub owns the set of live clients. Admission, relay and removal are
// serialized through the Run loop, so roster pushes and relayed frames
// reach every client queue in the order the events happened.
type Hub struct {
	names   *registry.Registry
	cfg     Config
	clock   clockwork.Clock
	metrics *metrics.Metrics

	clients    map[*Client]struct{}
	broadcast  chan BroadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub that releases names through names. A nil metrics
// value gets a private, unexported registry; a nil clock is the real clock.
func NewHub(names *registry.Registry, cfg *Config, m *metrics.Metrics, clock clockwork.Clock) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		names:      names,
		cfg:        *cfg,
		clock:      clock,
		metrics:    m,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan BroadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Admit adds client to the live set and pushes the roster to every live
// client, the new one included.
func (h *Hub) Admit(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// Relay queues frame from sender for delivery to every live client.
func (h *Hub) Relay(sender *Client, frame Frame) {
	select {
	case h.broadcast <- BroadcastMessage{Sender: sender, Frame: frame}:
	case <-h.ctx.Done():
	}
}

// Remove releases the client's name, drops it from the live set and pushes
// the roster to the clients that remain. Unknown clients are ignored.
func (h *Hub) Remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of live clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				slog.Warn("Received nil client registration; skipping")
				continue
			}
			h.admit(client)

		case client := <-h.unregister:
			if client == nil {
				continue
			}
			h.removeClients([]*Client{client})

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) admit(client *Client) {
	h.mutex.Lock()
	if _, exists := h.clients[client]; exists {
		h.mutex.Unlock()
		return
	}
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.ActiveConnections.Set(float64(clientCount))
	slog.Info("Client admitted",
		"name", client.name, "client_id", client.id, "addr", client.addr, "clients", clientCount)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	h.removeClients(h.pushRoster())
}

// handleBroadcast fans one inbound frame out to the live set.
func (h *Hub) handleBroadcast(msg BroadcastMessage) {
	if msg.Sender != nil && !h.isLive(msg.Sender) {
		slog.Debug("Dropping message from departed client", "client_id", msg.Sender.id)
		return
	}

	var skip *Client
	if !h.cfg.EchoToSender {
		skip = msg.Sender
	}

	h.metrics.MessagesRelayed.Inc()
	failed := h.fanOut(msg.Frame, skip)
	h.removeClients(failed)
}

// pushRoster sends the current registry snapshot to every live client and
// returns the clients whose queue was full.
func (h *Hub) pushRoster() []*Client {
	roster := h.names.Snapshot()
	payload, err := json.Marshal(roster)
	if err != nil {
		slog.Error("Failed to encode roster", "error", err)
		return nil
	}

	h.metrics.RosterPushes.Inc()
	h.metrics.ClaimedNames.Set(float64(len(roster)))
	return h.fanOut(textFrame(payload), nil)
}

// fanOut queues frame on every live client except skip. A full queue never
// blocks the loop; the client is returned for removal instead.
func (h *Hub) fanOut(frame Frame, skip *Client) []*Client {
	var failed []*Client
	delivered := 0

	for _, client := range h.getClientSnapshot() {
		if client == skip {
			continue
		}
		if !h.enqueue(client, frame) {
			failed = append(failed, client)
			continue
		}
		delivered++
	}

	h.metrics.Deliveries.Add(float64(delivered))
	if len(failed) > 0 {
		h.metrics.SlowConsumerDisconnects.Add(float64(len(failed)))
	}
	return failed
}

// enqueue is only called from the Run loop, the sole closer of client.send.
func (h *Hub) enqueue(client *Client, frame Frame) bool {
	select {
	case client.send <- frame:
		return true
	default:
		slog.Warn("Outbound queue full; disconnecting slow client",
			"name", client.name, "client_id", client.id, "addr", client.addr)
		return false
	}
}

// removeClients detaches clients and pushes the roster to the survivors. A
// roster push can overflow other queues, so it repeats until nothing fails.
func (h *Hub) removeClients(clients []*Client) {
	for len(clients) > 0 {
		if h.detach(clients) == 0 {
			return
		}
		clients = h.pushRoster()
	}
}

// detach drops clients from the live set, releases their names and closes
// their queues. It returns how many were actually live.
func (h *Hub) detach(clients []*Client) int {
	h.mutex.Lock()
	var removed []*Client
	for _, client := range clients {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			removed = append(removed, client)
		}
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	for _, client := range removed {
		h.names.Release(client.name)
		close(client.send)
		slog.Info("Client removed",
			"name", client.name, "client_id", client.id, "addr", client.addr, "clients", clientCount)
	}

	if len(removed) > 0 {
		h.metrics.ActiveConnections.Set(float64(clientCount))
	}
	return len(removed)
}

func (h *Hub) isLive(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, exists := h.clients[client]
	return exists
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients closes every outbound queue; each write pump then sends a
// close frame and closes its connection, which ends the read pump.
func (h *Hub) shutdownClients() {
	slog.Info("Shutting down all client connections...")

	clients := h.getClientSnapshot()
	h.detach(clients)

	slog.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	slog.Info("Initiating hub shutdown...")

	h.cancel()

	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Hub shutdown completed successfully")
		return nil
	case <-h.clock.After(timeout):
		slog.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
