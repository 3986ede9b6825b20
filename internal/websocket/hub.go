// internal/websocket/hub.go
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/metrics"
)

var (
	ErrHubClosed    = errors.New("hub closed")
	ErrClientClosed = errors.New("client already released")
	ErrUserMismatch = errors.New("client is bound to another user")
)

// subscriberSet is the membership of one user. All subscribe, unsubscribe
// and publish calls for that user serialise on mu.
type subscriberSet struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	// dead is set once the set has been pruned from the hub; a subscriber
	// that raced with pruning must look the user up again.
	dead bool
}

// Hub is the registry of live subscribers keyed by user id.
type Hub struct {
	mu     sync.Mutex // guards users and closed; taken before any set lock
	users  map[int64]*subscriberSet
	closed bool

	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewHub creates an empty registry. m may be nil.
func NewHub(log logrus.FieldLogger, m *metrics.Metrics) *Hub {
	return &Hub{
		users:   make(map[int64]*subscriberSet),
		log:     log.WithField("component", "hub"),
		metrics: m,
	}
}

func (h *Hub) lookup(userID int64, create bool) (*subscriberSet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	set := h.users[userID]
	if set == nil && create {
		set = &subscriberSet{clients: make(map[*Client]struct{})}
		h.users[userID] = set
	}
	return set, nil
}

// Subscribe adds c to the subscribers of userID. Subscribing twice is a
// no-op.
func (h *Hub) Subscribe(userID int64, c *Client) error {
	if c.UserID != userID {
		return fmt.Errorf("%w: client %s belongs to user %d", ErrUserMismatch, c.ID, c.UserID)
	}
	for {
		set, err := h.lookup(userID, true)
		if err != nil {
			return err
		}

		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}
		if c.Closed() {
			set.mu.Unlock()
			return ErrClientClosed
		}
		_, exists := set.clients[c]
		if !exists {
			set.clients[c] = struct{}{}
		}
		n := len(set.clients)
		set.mu.Unlock()

		if !exists {
			h.metrics.SubscriberAdded()
			c.log.WithField("subscribers", n).Info("subscriber registered")
		}
		return nil
	}
}

// Unsubscribe removes c from the subscribers of userID and releases it. It
// is a no-op when c is not subscribed.
func (h *Hub) Unsubscribe(userID int64, c *Client) {
	set, err := h.lookup(userID, false)
	if err != nil || set == nil {
		return
	}

	set.mu.Lock()
	_, ok := set.clients[c]
	if ok {
		delete(set.clients, c)
		c.release()
	}
	empty := len(set.clients) == 0
	set.mu.Unlock()

	if !ok {
		return
	}
	h.metrics.SubscriberRemoved()
	c.log.Info("subscriber unregistered")
	if empty {
		h.prune(userID, set)
	}
}

// prune drops the entry for userID if it is still set and still empty.
func (h *Hub) prune(userID int64, set *subscriberSet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set.mu.Lock()
	defer set.mu.Unlock()
	if h.users[userID] == set && len(set.clients) == 0 {
		delete(h.users, userID)
		set.dead = true
	}
}

// Publish queues payload for every subscriber of userID and returns how many
// accepted it. Subscribers whose queue is full or released are removed;
// their failure is logged, never returned.
func (h *Hub) Publish(userID int64, payload []byte) int {
	set, err := h.lookup(userID, false)
	if err != nil || set == nil {
		return 0
	}

	var dropped []*Client
	delivered := 0

	set.mu.Lock()
	for c := range set.clients {
		select {
		case c.send <- payload:
			delivered++
		default:
			// Assume client is blocked or gone, unregister
			delete(set.clients, c)
			c.release()
			dropped = append(dropped, c)
		}
	}
	empty := len(set.clients) == 0
	set.mu.Unlock()

	h.metrics.Delivered(delivered)
	for _, c := range dropped {
		h.metrics.SubscriberRemoved()
		h.metrics.SubscriberDropped()
		c.log.Warn("subscriber send buffer full, removing")
	}
	if empty && len(dropped) > 0 {
		h.prune(userID, set)
	}
	return delivered
}

// PublishJSON encodes v and publishes it to userID.
func (h *Hub) PublishJSON(userID int64, v any) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encoding payload for user %d: %w", userID, err)
	}
	return h.Publish(userID, payload), nil
}

// SubscriberCount returns the number of live subscribers of userID.
func (h *Hub) SubscriberCount(userID int64) int {
	set, err := h.lookup(userID, false)
	if err != nil || set == nil {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.clients)
}

// Users lists the user ids that currently have a registry entry.
func (h *Hub) Users() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int64, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases every subscriber and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sets := h.users
	h.users = make(map[int64]*subscriberSet)
	h.mu.Unlock()

	released := 0
	for _, set := range sets {
		set.mu.Lock()
		for c := range set.clients {
			c.release()
			released++
			h.metrics.SubscriberRemoved()
		}
		set.clients = make(map[*Client]struct{})
		set.dead = true
		set.mu.Unlock()
	}
	h.log.WithField("released", released).Info("hub closed")
}
