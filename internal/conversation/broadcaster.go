// ABOUTME: In-memory registry of live real-time subscribers per conversation
// ABOUTME: Broadcast fans a payload out to every subscriber and evicts ones that fail

package conversation

import (
	"log/slog"
	"sync"

	"github.com/2389/helpdesk-gateway/internal/metrics"
)

// Subscriber is a live real-time connection that can receive pushed payloads.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
}

// Registry maps conversation ids to their subscribers. A subscriber belongs
// to at most one conversation at a time. All mutations happen under mu, so
// subscribe, unsubscribe and failure eviction never lose updates.
type Registry struct {
	mu       sync.RWMutex
	buckets  map[uint]map[string]Subscriber // conversationID -> subID -> subscriber
	location map[string]uint                // subID -> conversationID
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		buckets:  make(map[uint]map[string]Subscriber),
		location: make(map[string]uint),
		logger:   logger.With("component", "registry"),
	}
}

// Subscribe registers sub under conversationID. If sub was subscribed to a
// different conversation it is moved.
func (r *Registry) Subscribe(sub Subscriber, conversationID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := sub.ID()
	if prev, ok := r.location[id]; ok && prev != conversationID {
		r.removeLocked(id, prev)
	}

	bucket, ok := r.buckets[conversationID]
	if !ok {
		bucket = make(map[string]Subscriber)
		r.buckets[conversationID] = bucket
	}
	bucket[id] = sub
	r.location[id] = conversationID
	r.notifyLocked()

	r.logger.Debug("subscriber added", "conversation_id", conversationID, "sub_id", id)
}

// Unsubscribe removes sub from conversationID. Empty buckets are deleted.
func (r *Registry) Unsubscribe(sub Subscriber, conversationID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removeLocked(sub.ID(), conversationID) {
		r.notifyLocked()
		r.logger.Debug("subscriber removed", "conversation_id", conversationID, "sub_id", sub.ID())
	}
}

// removeLocked deletes one subscriber and prunes its bucket if empty.
// Must be called with mu held.
func (r *Registry) removeLocked(subID string, conversationID uint) bool {
	bucket, ok := r.buckets[conversationID]
	if !ok {
		return false
	}
	if _, ok := bucket[subID]; !ok {
		return false
	}
	delete(bucket, subID)
	if len(bucket) == 0 {
		delete(r.buckets, conversationID)
	}
	if r.location[subID] == conversationID {
		delete(r.location, subID)
	}
	return true
}

// Broadcast delivers payload to every subscriber of conversationID and
// returns how many deliveries succeeded. Sends happen outside the lock and
// are independent; a subscriber whose Send fails is removed afterwards.
func (r *Registry) Broadcast(conversationID uint, payload []byte) int {
	r.mu.RLock()
	bucket := r.buckets[conversationID]
	targets := make([]Subscriber, 0, len(bucket))
	for _, sub := range bucket {
		targets = append(targets, sub)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	var failed []Subscriber
	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(payload); err != nil {
			r.logger.Debug("dropping subscriber after failed send",
				"conversation_id", conversationID,
				"sub_id", sub.ID(),
				"error", err)
			failed = append(failed, sub)
			continue
		}
		delivered++
	}

	r.mu.Lock()
	for _, sub := range failed {
		// Only evict the exact handle that failed; the id may have been
		// re-registered by a fresh connection in the meantime.
		if cur, ok := r.buckets[conversationID][sub.ID()]; ok && cur == sub {
			r.removeLocked(sub.ID(), conversationID)
		}
	}
	if len(failed) > 0 {
		r.notifyLocked()
	}
	r.mu.Unlock()

	metrics.BroadcastDeliveries.WithLabelValues("delivered").Add(float64(delivered))
	metrics.BroadcastDeliveries.WithLabelValues("failed").Add(float64(len(failed)))

	return delivered
}

// Len returns the number of subscribers for conversationID.
func (r *Registry) Len(conversationID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets[conversationID])
}

func (r *Registry) notifyLocked() {
	metrics.Subscribers.Set(float64(len(r.location)))
	metrics.WatchedConversations.Set(float64(len(r.buckets)))
}
