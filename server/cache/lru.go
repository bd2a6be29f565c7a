// Copyright (C) 2024 The ldap-authd authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package cache holds recent authentication decisions keyed by a salted
// credential fingerprint. Raw secrets never enter the cache.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/mkapra/ldap-authd/server/stats"
)

// Decision is a cached authentication verdict.
type Decision struct {
	// Granted reports whether the credentials were accepted, including a
	// satisfied group requirement when one was configured.
	Granted bool

	// Reason carries the denial reason for log output on cache hits.
	Reason string

	// Unavailable marks a decision that could not be made because the
	// directory was unreachable. Replaying it keeps an outage from
	// translating into one connect attempt per request.
	Unavailable bool
}

// DecisionCache provides the surface needed by the dispatcher without tying
// it to a specific cache impl.
type DecisionCache interface {
	// Set stores a decision under the fingerprint key with a time-to-live.
	Set(key string, decision Decision, ttl time.Duration)

	// Get retrieves the decision for the key. Expired entries are treated
	// as absent.
	Get(key string) (Decision, bool)

	// Delete removes the entry for the key if present.
	Delete(key string)

	// Len returns the number of entries currently stored.
	Len() int
}

// LRUCache is a small, goroutine-safe LRU cache with per-entry TTL.
type LRUCache struct {
	cap   int
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key        string
	decision   Decision
	expiration int64 // unix nano; 0 = no expiry
}

var _ DecisionCache = (*LRUCache)(nil)

// NewLRU creates a new LRUCache with the given capacity. Capacity <= 0
// disables caching.
func NewLRU(capacity int) *LRUCache {
	if capacity < 0 {
		capacity = 0
	}

	return &LRUCache{
		cap:   capacity,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (c *LRUCache) now() int64 { return time.Now().UnixNano() }

// Set inserts or updates a key with a decision and TTL. ttl<=0 means no
// expiry.
func (c *LRUCache) Set(key string, decision Decision, ttl time.Duration) {
	if c.cap == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}

	if ee, ok := c.items[key]; ok {
		ent := ee.Value.(*lruEntry)
		ent.decision = decision
		ent.expiration = exp

		c.ll.MoveToFront(ee)

		return
	}

	ee := &lruEntry{key: key, decision: decision, expiration: exp}
	ele := c.ll.PushFront(ee)
	c.items[key] = ele

	for c.cap > 0 && c.ll.Len() > c.cap {
		c.removeOldest()
	}

	stats.CacheEntries.Set(float64(c.ll.Len()))
}

// Get returns the decision for key if present and not expired.
func (c *LRUCache) Get(key string) (Decision, bool) {
	if c.cap == 0 {
		return Decision{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ele, ok := c.items[key]; ok {
		ent := ele.Value.(*lruEntry)
		if ent.expiration > 0 && c.now() > ent.expiration {
			c.removeElement(ele)

			return Decision{}, false
		}

		c.ll.MoveToFront(ele)

		return ent.decision, true
	}

	return Decision{}, false
}

// Delete removes a key if present.
func (c *LRUCache) Delete(key string) {
	if c.cap == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ele, ok := c.items[key]; ok {
		c.removeElement(ele)
	}
}

// Len returns the number of entries currently stored. This method is
// thread-safe.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ll.Len()
}

// removeOldest removes the least recently used item from the cache if one
// is present.
func (c *LRUCache) removeOldest() {
	if ele := c.ll.Back(); ele != nil {
		c.removeElement(ele)
	}
}

func (c *LRUCache) removeElement(e *list.Element) {
	ent := e.Value.(*lruEntry)
	delete(c.items, ent.key)
	c.ll.Remove(e)

	stats.CacheEntries.Set(float64(c.ll.Len()))
}
