// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/guntherweissenbaeck/fbfregion/utils/textutils"
)

// DefaultCacheTTL is how long a successful interactive resolution is reused.
const DefaultCacheTTL = 30 * time.Minute

// Cache remembers resolved places keyed by their case-folded, trimmed text.
// It is safe for concurrent use.
type Cache struct {
	items *ttlcache.Cache[string, *Resolution]

	mu      sync.Mutex
	running bool
}

// NewCache creates a cache whose entries expire ttl after being stored.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Cache{
		items: ttlcache.New[string, *Resolution](
			ttlcache.WithTTL[string, *Resolution](ttl),
			ttlcache.WithDisableTouchOnHit[string, *Resolution](),
		),
	}
}

// Get returns the cached resolution of query.
func (c *Cache) Get(query string) (*Resolution, bool) {
	item := c.items.Get(textutils.FoldKey(query))
	if item == nil {
		return nil, false
	}

	return item.Value(), true
}

// Put stores res for query. Only resolved outcomes are kept.
func (c *Cache) Put(query string, res *Resolution) {
	if res == nil || res.Outcome != OutcomeResolved {
		return
	}

	c.items.Set(textutils.FoldKey(query), res, ttlcache.DefaultTTL)
}

// Len returns the number of entries, expired ones included until evicted.
func (c *Cache) Len() int {
	return c.items.Len()
}

// Start evicts expired entries in the background until Stop is called.
func (c *Cache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}

	c.running = true

	go c.items.Start()
}

// Stop ends the eviction loop started by Start.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	c.running = false

	c.items.Stop()
}
