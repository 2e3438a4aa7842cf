package cache

import (
	"sync"
	"time"

	"chatbridge/pkg/model"
)

// conversationBucket holds one conversation's messages in insertion
// order, so the oldest-first eviction predicate from spec §4.2 is a
// simple slice trim rather than a sort over the whole cache.
type conversationBucket struct {
	order []string
	byID  map[string]*model.CachedMessage
}

// MessageCache is the keyed, bounded store of CachedMessage values
// described in spec §3/§4.2. Reads return deep copies so callers never
// observe a torn write; all mutation is serialized behind one mutex,
// which is deliberate — cross-conversation atomicity for compound
// operations is the ConversationManager's job via its own striped lock,
// not this cache's.
type MessageCache struct {
	mu                 sync.RWMutex
	conversations      map[string]*conversationBucket
	totalCount         int
	maxTotal           int
	maxPerConversation int
	maxAge             time.Duration
}

// NewMessageCache constructs an empty MessageCache with the given bounds.
func NewMessageCache(maxTotal, maxPerConversation int, maxAge time.Duration) *MessageCache {
	return &MessageCache{
		conversations:      make(map[string]*conversationBucket),
		maxTotal:           maxTotal,
		maxPerConversation: maxPerConversation,
		maxAge:             maxAge,
	}
}

func (c *MessageCache) bucket(conversationID string) *conversationBucket {
	b, ok := c.conversations[conversationID]
	if !ok {
		b = &conversationBucket{byID: make(map[string]*model.CachedMessage)}
		c.conversations[conversationID] = b
	}
	return b
}

// Insert adds a new message, evicting the oldest messages in its
// conversation (and, if still over the global cap, the oldest messages
// overall) until both §3 bounds hold again. It returns the ids of any
// messages evicted as a side effect, so callers can garbage-collect
// attachments that only those messages referenced.
func (c *MessageCache) Insert(msg *model.CachedMessage) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.bucket(msg.ConversationID)
	if _, exists := b.byID[msg.MessageID]; exists {
		// Re-delivery of an id already present: the stored copy is replaced
		// in place, with no change to order, counts or eviction; P1
		// idempotence is decided by the caller's diffing logic.
		b.byID[msg.MessageID] = msg
		return nil
	}

	b.byID[msg.MessageID] = msg
	b.order = append(b.order, msg.MessageID)
	c.totalCount++

	var evicted []string

	if c.maxPerConversation > 0 {
		for len(b.order) > c.maxPerConversation {
			evicted = append(evicted, c.popOldest(msg.ConversationID, b))
		}
	}

	if c.maxTotal > 0 {
		for c.totalCount > c.maxTotal {
			id := c.evictGlobalOldest()
			if id == "" {
				break
			}
			evicted = append(evicted, id)
		}
	}

	return evicted
}

// popOldest removes and returns the oldest message id in a bucket.
// Caller holds c.mu.
func (c *MessageCache) popOldest(conversationID string, b *conversationBucket) string {
	if len(b.order) == 0 {
		return ""
	}
	id := b.order[0]
	b.order = b.order[1:]
	delete(b.byID, id)
	c.totalCount--
	if len(b.order) == 0 {
		delete(c.conversations, conversationID)
	}
	return id
}

// evictGlobalOldest scans every bucket's head for the oldest timestamp
// and removes it. Caller holds c.mu. O(conversations), acceptable since
// this only runs while still over the global cap after per-conversation
// trimming, which is rare in steady state.
func (c *MessageCache) evictGlobalOldest() string {
	var oldestConv string
	var oldestID string
	var oldestTs int64

	for convID, b := range c.conversations {
		if len(b.order) == 0 {
			continue
		}
		head := b.byID[b.order[0]]
		if oldestID == "" || head.TimestampMs < oldestTs {
			oldestConv = convID
			oldestID = b.order[0]
			oldestTs = head.TimestampMs
		}
	}

	if oldestID == "" {
		return ""
	}
	return c.popOldest(oldestConv, c.conversations[oldestConv])
}

// Get returns a deep copy of a cached message, if present.
func (c *MessageCache) Get(conversationID, messageID string) (*model.CachedMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.conversations[conversationID]
	if !ok {
		return nil, false
	}
	msg, ok := b.byID[messageID]
	if !ok {
		return nil, false
	}
	return msg.Clone(), true
}

// Edit replaces the text of a cached message. Returns false if unknown.
func (c *MessageCache) Edit(conversationID, messageID, newText string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.conversations[conversationID]
	if !ok {
		return false
	}
	msg, ok := b.byID[messageID]
	if !ok {
		return false
	}
	msg.Text = newText
	return true
}

// Delete removes a message from its conversation, never failing if the
// message is unknown (spec §4.4, delete_from_conversation).
func (c *MessageCache) Delete(conversationID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.conversations[conversationID]
	if !ok {
		return false
	}
	if _, ok := b.byID[messageID]; !ok {
		return false
	}
	delete(b.byID, messageID)
	for i, id := range b.order {
		if id == messageID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	c.totalCount--
	if len(b.order) == 0 {
		delete(c.conversations, conversationID)
	}
	return true
}

// AddReaction records a reaction, returning false if it was already
// present (idempotent per P1) or the message is unknown.
func (c *MessageCache) AddReaction(conversationID, messageID, emoji, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.conversations[conversationID]
	if !ok {
		return false
	}
	msg, ok := b.byID[messageID]
	if !ok {
		return false
	}
	return msg.AddReaction(emoji, userID)
}

// RemoveReaction clears a reaction, returning false if it was not
// present or the message is unknown.
func (c *MessageCache) RemoveReaction(conversationID, messageID, emoji, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.conversations[conversationID]
	if !ok {
		return false
	}
	msg, ok := b.byID[messageID]
	if !ok {
		return false
	}
	return msg.RemoveReaction(emoji, userID)
}

// SetPinned updates a message's pin flag, returning false if unknown or
// the flag was already set to the requested value.
func (c *MessageCache) SetPinned(conversationID, messageID string, pinned bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.conversations[conversationID]
	if !ok {
		return false
	}
	msg, ok := b.byID[messageID]
	if !ok || msg.IsPinned == pinned {
		return false
	}
	msg.IsPinned = pinned
	return true
}

// Snapshot returns a deep copy of every cached message in a conversation,
// oldest first — used by HistoryFetcher's cache-first lookup.
func (c *MessageCache) Snapshot(conversationID string) []*model.CachedMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.conversations[conversationID]
	if !ok {
		return nil
	}
	out := make([]*model.CachedMessage, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id].Clone())
	}
	return out
}

// Len reports the current global message count.
func (c *MessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalCount
}

// PerConversationLen reports the current message count for one
// conversation.
func (c *MessageCache) PerConversationLen(conversationID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.conversations[conversationID]
	if !ok {
		return 0
	}
	return len(b.order)
}

// Sweep evicts messages older than maxAge across every conversation.
// Capacity bounds are already enforced at Insert time, so Sweep only
// needs to handle the age predicate.
func (c *MessageCache) Sweep(now time.Time) int {
	if c.maxAge <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for convID, b := range c.conversations {
		var keep []string
		for _, id := range b.order {
			msg := b.byID[id]
			age := now.Sub(time.UnixMilli(msg.TimestampMs))
			if age > c.maxAge {
				delete(b.byID, id)
				c.totalCount--
				evicted++
				continue
			}
			keep = append(keep, id)
		}
		b.order = keep
		if len(b.order) == 0 {
			delete(c.conversations, convID)
		}
	}
	return evicted
}
