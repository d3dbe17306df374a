package realtime

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
)

const clientBuffer = 32

type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
	once     sync.Once
}

// Hub fans messages out to the subscribers connected to this process.
type Hub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[string]map[*Client]bool
	heartbeat     time.Duration
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		logger:        log.With("component", "Hub"),
		subscriptions: make(map[string]map[*Client]bool),
		heartbeat:     15 * time.Second,
	}
}

func (hub *Hub) NewClient() *Client {
	return &Client{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan Message, clientBuffer),
		done:     make(chan struct{}),
	}
}

func (hub *Hub) Subscribe(client *Client, channels ...string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for _, channel := range channels {
		channel = strings.TrimSpace(channel)
		if channel == "" {
			continue
		}
		client.Channels[channel] = true
		clients, ok := hub.subscriptions[channel]
		if !ok {
			clients = make(map[*Client]bool)
			hub.subscriptions[channel] = clients
		}
		clients[client] = true
		hub.logger.Debug("Client subscribed", "clientID", client.ID, "channel", channel)
	}
}

func (hub *Hub) Unsubscribe(client *Client, channel string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.unsubscribeLocked(client, strings.TrimSpace(channel))
}

func (hub *Hub) unsubscribeLocked(client *Client, channel string) {
	delete(client.Channels, channel)
	if subs, ok := hub.subscriptions[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(hub.subscriptions, channel)
		}
	}
}

// Broadcast never blocks: a subscriber with a full buffer loses the message.
func (hub *Hub) Broadcast(msg Message) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if msg.Channel == "" {
		return
	}
	for c := range hub.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			hub.logger.Warn("Dropping message; outbound buffer full", "clientID", c.ID, "channel", msg.Channel)
		}
	}
}

func (hub *Hub) SubscriberCount(channel string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[channel])
}

// CloseClient detaches the client and closes its outbound channel. Safe to
// call more than once.
func (hub *Hub) CloseClient(client *Client) {
	client.once.Do(func() {
		close(client.done)
		hub.mu.Lock()
		for ch := range client.Channels {
			hub.unsubscribeLocked(client, ch)
		}
		hub.mu.Unlock()
		close(client.Outbound)
	})
}

// ServeHTTP streams the client's messages as server-sent events until the
// request context ends or the client is closed.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	flusher.Flush()
	ctx := r.Context()

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			hub.logger.Debug("Client context done", "clientID", client.ID, "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			payload, err := msg.Payload()
			if err != nil {
				hub.logger.Warn("Failed to marshal message", "error", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", msg.Event, msg.Channel, payload)
			flusher.Flush()
		}
	}
}
