package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one registered consumer of the cache layer (a window, tab or
// embedded view of the hosting application).
type Client struct {
	ID           string
	RegisteredAt time.Time

	// Controller is the cache version currently serving this client, empty
	// until a version claims it.
	Controller string
}

// ClientRegistry tracks live clients and which version controls them. It is
// shared across successive managers so an upgrade claims existing clients
// instead of starting from zero.
type ClientRegistry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Register adds a new client and returns it with a generated id.
func (r *ClientRegistry) Register() Client {
	client := &Client{
		ID:           uuid.NewString(),
		RegisteredAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.clients[client.ID] = client
	r.mu.Unlock()
	return *client
}

// Unregister removes a client. Unknown ids are a no-op.
func (r *ClientRegistry) Unregister(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

// Claim binds every registered client to the given version and returns how
// many were claimed.
func (r *ClientRegistry) Claim(version string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.Controller = version
	}
	return len(r.clients)
}

// Controller returns the version controlling a client, empty when the
// client is unknown or unclaimed.
func (r *ClientRegistry) Controller(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[id]; ok {
		return client.Controller
	}
	return ""
}

// List returns a snapshot of all registered clients.
func (r *ClientRegistry) List() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, *client)
	}
	return out
}

// Len returns the number of registered clients.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
