package client

import (
	"sync"

	"github.com/tokibito/fruit-game/internal/logging"
	"github.com/tokibito/fruit-game/internal/metrics"
)

const TypeVersionUpdate = "VERSION_UPDATE"

// Notification is the fire-and-forget message posted to controlled pages.
type Notification struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client is one connected page. It receives notifications only after the
// worker has claimed it for a generation.
type Client struct {
	id         int64
	generation string
	ch         chan Notification
}

// Notifications is the client's receive channel.
func (c *Client) Notifications() <-chan Notification {
	return c.ch
}

// Registry tracks connected pages and which generation controls them.
type Registry struct {
	mu      sync.Mutex
	nextID  int64
	clients map[int64]*Client
	current string
	logger  logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		clients: make(map[int64]*Client),
		logger:  logger,
	}
}

// Register adds a newly connected page. If a generation has already claimed
// the registry's clients, the new page is controlled immediately.
func (r *Registry) Register() *Client {
	r.mu.Lock()
	r.nextID++
	c := &Client{
		id:         r.nextID,
		generation: r.current,
		ch:         make(chan Notification, 8),
	}
	r.clients[c.id] = c
	n := r.controlledLocked()
	r.mu.Unlock()

	metrics.SetControlledClients(n)
	return c
}

func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	delete(r.clients, c.id)
	n := r.controlledLocked()
	r.mu.Unlock()

	metrics.SetControlledClients(n)
}

// ClaimAll takes control of every connected page for the given generation,
// so future registrations and broadcasts route through it. Returns the
// number of pages claimed.
func (r *Registry) ClaimAll(generation string) int {
	r.mu.Lock()
	r.current = generation
	for _, c := range r.clients {
		c.generation = generation
	}
	n := len(r.clients)
	r.mu.Unlock()

	metrics.SetControlledClients(n)
	return n
}

// Broadcast posts the notification to every controlled page, one message
// each. Delivery is non-blocking; a page that is not draining its channel is
// skipped rather than stalling the caller.
func (r *Registry) Broadcast(n Notification) int {
	r.mu.Lock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c.generation != "" {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		select {
		case c.ch <- n:
			delivered++
		default:
			if r.logger != nil {
				r.logger.Warn("client not draining notifications, skipped", "client", c.id)
			}
		}
	}

	metrics.AddNotifiedClients(delivered)
	return delivered
}

func (r *Registry) controlledLocked() int {
	n := 0
	for _, c := range r.clients {
		if c.generation != "" {
			n++
		}
	}
	return n
}
