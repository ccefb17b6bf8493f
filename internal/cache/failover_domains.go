package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults matching the container's bounded failover-domain memory: entries
// for 100 removed workers, remembered for five minutes.
const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

// FailoverDomainCache remembers the failover domain of removed workers so a
// sticky session orphaned by a node removal can still be migrated within its
// domain. Entries expire; a missing entry simply means "no hint".
type FailoverDomainCache struct {
	lru *expirable.LRU[string, string]
}

// NewFailoverDomainCache creates a cache bounded to capacity entries, each
// living at most ttl. Non-positive arguments fall back to the defaults.
func NewFailoverDomainCache(capacity int, ttl time.Duration) *FailoverDomainCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FailoverDomainCache{
		lru: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

// Add records the failover domain for a removed jvmRoute
func (c *FailoverDomainCache) Add(jvmRoute, domain string) {
	c.lru.Add(jvmRoute, domain)
}

// Get returns the last-known domain for a jvmRoute
func (c *FailoverDomainCache) Get(jvmRoute string) (string, bool) {
	return c.lru.Get(jvmRoute)
}

// Remove drops the entry for a jvmRoute, typically because the worker
// returned
func (c *FailoverDomainCache) Remove(jvmRoute string) {
	c.lru.Remove(jvmRoute)
}

// Len returns the number of live entries
func (c *FailoverDomainCache) Len() int {
	return c.lru.Len()
}
