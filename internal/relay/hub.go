package relay

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/TheWatchtower0/thewatchtower-webmaster-socket/internal/metrics"
)

// Hub is the connection registry: three indices over the same set of live
// Clients. Every Client appears under its user id and device id; admins
// additionally appear in the admin index. An id whose set empties is
// removed outright, so no index ever holds an empty set.
type Hub struct {
	mu       sync.RWMutex
	byUser   map[string]map[*Client]struct{}
	byDevice map[string]map[*Client]struct{}
	byAdmin  map[string]map[*Client]struct{}
	log      *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		byUser:   make(map[string]map[*Client]struct{}),
		byDevice: make(map[string]map[*Client]struct{}),
		byAdmin:  make(map[string]map[*Client]struct{}),
		log:      log,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.byUser, c.UserID, c)
	add(h.byDevice, c.DeviceID, c)
	if c.IsAdmin {
		add(h.byAdmin, c.UserID, c)
	}
	metrics.ActiveConnections.Inc()
}

// Remove is idempotent: a connection is routinely removed twice, once on
// transport close and once when the heartbeat finds it dead.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := drop(h.byUser, c.UserID, c)
	drop(h.byDevice, c.DeviceID, c)
	if c.IsAdmin {
		drop(h.byAdmin, c.UserID, c)
	}
	if removed {
		metrics.ActiveConnections.Dec()
	}
}

func add(idx map[string]map[*Client]struct{}, key string, c *Client) {
	if key == "" {
		return
	}
	set, ok := idx[key]
	if !ok {
		set = make(map[*Client]struct{})
		idx[key] = set
	}
	set[c] = struct{}{}
}

func drop(idx map[string]map[*Client]struct{}, key string, c *Client) bool {
	set, ok := idx[key]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(idx, key)
	}
	return true
}

// ConnectionsForUser returns a snapshot of the user's live connections.
func (h *Hub) ConnectionsForUser(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return collect(h.byUser[userID])
}

// AllAdmins snapshots the admin index for presence broadcasts.
func (h *Hub) AllAdmins() map[string][]*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return snapshot(h.byAdmin)
}

// AllUsers snapshots the user index (admins included).
func (h *Hub) AllUsers() map[string][]*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return snapshot(h.byUser)
}

// Clients returns every registered connection, for the heartbeat sweep.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Client
	for _, set := range h.byUser {
		out = append(out, collect(set)...)
	}
	return out
}

// UserOnline reports whether the user has at least one live connection.
func (h *Hub) UserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func collect(set map[*Client]struct{}) []*Client {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

func snapshot(idx map[string]map[*Client]struct{}) map[string][]*Client {
	out := make(map[string][]*Client, len(idx))
	for id, set := range idx {
		out[id] = collect(set)
	}
	return out
}

// SendToUser pushes a serialized payload to every open connection of the
// user, unless the user id is excluded. Openness is checked per connection
// at send time; a socket that closed between lookup and send is skipped
// silently.
func (h *Hub) SendToUser(userID string, payload []byte, exclude ...string) {
	if slices.Contains(exclude, userID) {
		return
	}
	h.deliver(h.ConnectionsForUser(userID), payload)
}

// BroadcastToAdmins fans a payload out to every admin identity not excluded.
func (h *Hub) BroadcastToAdmins(payload []byte, exclude ...string) {
	for adminID, conns := range h.AllAdmins() {
		if slices.Contains(exclude, adminID) {
			continue
		}
		h.deliver(conns, payload)
	}
}

// BroadcastToUsers fans a payload out to every identity in the user index.
func (h *Hub) BroadcastToUsers(payload []byte, exclude ...string) {
	for userID, conns := range h.AllUsers() {
		if slices.Contains(exclude, userID) {
			continue
		}
		h.deliver(conns, payload)
	}
}

func (h *Hub) deliver(conns []*Client, payload []byte) {
	for _, c := range conns {
		if !c.Open() {
			continue
		}
		if c.Push(payload) {
			metrics.FanoutSent.Inc()
		} else {
			metrics.FanoutDropped.Inc()
			h.log.Debugw("payload dropped", "user_id", c.UserID, "device_id", c.DeviceID)
		}
	}
}
