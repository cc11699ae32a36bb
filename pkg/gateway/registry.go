package gateway

import (
	"sort"
	"sync"
	"time"
)

// idleAfter is how long a client may stay silent before it is reported idle
const idleAfter = 5 * time.Minute

// ClientRegistry tracks websocket clients by id and by the user they authenticated as.
// Run events are fanned out per user, so the user index is the lookup that matters.
type ClientRegistry struct {
	mu     sync.RWMutex
	byID   map[string]*Client
	byUser map[string]map[string]*Client
}

// NewClientRegistry creates an empty registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		byID:   make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
	}
}

// Add registers client, replacing an earlier client with the same id
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[client.ID]; ok {
		r.unindex(prev)
	}
	r.byID[client.ID] = client

	sessions := r.byUser[client.UserID]
	if sessions == nil {
		sessions = make(map[string]*Client)
		r.byUser[client.UserID] = sessions
	}
	sessions[client.ID] = client
}

// Remove drops a client. Unknown ids are ignored.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.byID[clientID]; ok {
		delete(r.byID, clientID)
		r.unindex(client)
	}
}

func (r *ClientRegistry) unindex(client *Client) {
	sessions := r.byUser[client.UserID]
	delete(sessions, client.ID)
	if len(sessions) == 0 {
		delete(r.byUser, client.UserID)
	}
}

// Get returns the client with clientID
func (r *ClientRegistry) Get(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.byID[clientID]
	return client, ok
}

// All returns every connected client
func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.byID))
	for _, client := range r.byID {
		clients = append(clients, client)
	}
	return clients
}

// ForUser returns the clients connected as userID
func (r *ClientRegistry) ForUser(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byUser[userID]
	clients := make([]*Client, 0, len(sessions))
	for _, client := range sessions {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// Users returns the number of distinct connected users
func (r *ClientRegistry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser)
}

// Touch records activity on a client
func (r *ClientRegistry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.byID[clientID]; ok {
		client.LastActivity = time.Now()
	}
}

// Snapshot describes every connected client, oldest connection first
func (r *ClientRegistry) Snapshot() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.byID))
	for _, client := range r.byID {
		infos = append(infos, ClientInfo{
			ID:           client.ID,
			UserID:       client.UserID,
			ConnectedAt:  client.ConnectedAt,
			LastActivity: client.LastActivity,
			IPAddress:    client.IPAddress,
			Idle:         now.Sub(client.LastActivity) > idleAfter,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
