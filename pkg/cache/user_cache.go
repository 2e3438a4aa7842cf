// Package cache holds the three bounded in-memory stores described in
// spec §3/§4.2: UserCache, MessageCache and AttachmentCache. Each is a
// keyed map guarded by its own RWMutex with a background maintenance
// sweep that evicts oldest-first by age and by capacity.
package cache

import (
	"sort"
	"sync"
	"time"

	"chatbridge/pkg/model"
)

// UserCache holds every UserInfo the adapter has observed, evicted by
// LRU (last_seen) and TTL.
type UserCache struct {
	mu        sync.RWMutex
	users     map[string]*model.UserInfo
	maxTotal  int
	maxAge    time.Duration
}

// NewUserCache constructs an empty UserCache with the given bounds.
func NewUserCache(maxTotal int, maxAge time.Duration) *UserCache {
	return &UserCache{
		users:    make(map[string]*model.UserInfo),
		maxTotal: maxTotal,
		maxAge:   maxAge,
	}
}

// Upsert records a user sighting, creating the entry on first mention or
// refreshing last_seen and display name on subsequent ones.
func (c *UserCache) Upsert(userID, displayName string, now time.Time) *model.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u, ok := c.users[userID]; ok {
		u.Touch(displayName, now)
		return u
	}

	u := &model.UserInfo{
		UserID:      userID,
		DisplayName: displayName,
		LastSeen:    now,
	}
	c.users[userID] = u
	return u
}

// Get returns a copy of the cached UserInfo, if present.
func (c *UserCache) Get(userID string) (model.UserInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[userID]
	if !ok {
		return model.UserInfo{}, false
	}
	return *u, true
}

// Len reports the current number of cached users.
func (c *UserCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// Sweep evicts users past maxAge, then trims down to maxTotal by evicting
// the oldest (by last_seen) entries first.
func (c *UserCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	if c.maxAge > 0 {
		for id, u := range c.users {
			if now.Sub(u.LastSeen) > c.maxAge {
				delete(c.users, id)
				evicted++
			}
		}
	}

	if c.maxTotal > 0 && len(c.users) > c.maxTotal {
		type entry struct {
			id       string
			lastSeen time.Time
		}
		entries := make([]entry, 0, len(c.users))
		for id, u := range c.users {
			entries = append(entries, entry{id, u.LastSeen})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].lastSeen.Before(entries[j].lastSeen) })

		overflow := len(c.users) - c.maxTotal
		for i := 0; i < overflow; i++ {
			delete(c.users, entries[i].id)
			evicted++
		}
	}

	return evicted
}
