// Copyright 2026 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package persist

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// CacheKey identifies a persisted partition.
type CacheKey struct {
	Table     string
	Partition string
}

// Shard maps the key to a shard index between 0 and numShards-1.
func (k CacheKey) Shard(numShards int) int {
	d := xxhash.New()
	_, _ = d.WriteString(k.Table)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.Partition)
	return int(d.Sum64() % uint64(numShards))
}

// ContentCache remembers the hash of the last payload durably written for
// each partition, so that a flush can skip partitions whose content did not
// change.
//
// Entries are only added after a successful write or load and only removed
// after a successful delete; there is no capacity-driven eviction. The cache
// is split into shards to keep flushes of different tables from contending.
type ContentCache struct {
	shards []cacheShard
	hits   atomic.Int64
	misses atomic.Int64
}

type cacheShard struct {
	mu      sync.Mutex
	entries map[CacheKey]Hash
}

// NewContentCache creates an empty cache with the given number of shards.
func NewContentCache(numShards int) *ContentCache {
	if numShards <= 0 {
		numShards = 16
	}
	c := &ContentCache{shards: make([]cacheShard, numShards)}
	for i := range c.shards {
		c.shards[i].entries = make(map[CacheKey]Hash)
	}
	return c
}

func (c *ContentCache) shard(k CacheKey) *cacheShard {
	return &c.shards[k.Shard(len(c.shards))]
}

// Get returns the hash recorded for the partition.
func (c *ContentCache) Get(table, partition string) (Hash, bool) {
	k := CacheKey{table, partition}
	s := c.shard(k)
	s.mu.Lock()
	h, ok := s.entries[k]
	s.mu.Unlock()
	return h, ok
}

// Matches reports whether h equals the recorded entry, counting the outcome
// as a hit or a miss.
func (c *ContentCache) Matches(table, partition string, h Hash) bool {
	cur, ok := c.Get(table, partition)
	if ok && cur == h {
		c.hits.Add(1)
		return true
	}
	c.misses.Add(1)
	return false
}

// Put records the hash of a durably written payload.
func (c *ContentCache) Put(table, partition string, h Hash) {
	k := CacheKey{table, partition}
	s := c.shard(k)
	s.mu.Lock()
	s.entries[k] = h
	s.mu.Unlock()
}

// Delete forgets a partition after it was durably deleted.
func (c *ContentCache) Delete(table, partition string) {
	k := CacheKey{table, partition}
	s := c.shard(k)
	s.mu.Lock()
	delete(s.entries, k)
	s.mu.Unlock()
}

// Partitions returns the partitions recorded for a table, in no particular
// order.
func (c *ContentCache) Partitions(table string) []string {
	var res []string
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k := range s.entries {
			if k.Table == table {
				res = append(res, k.Partition)
			}
		}
		s.mu.Unlock()
	}
	return res
}

// DeleteTable forgets every partition of a table. It is O(n) in the size of
// the cache and meant for table deletion only.
func (c *ContentCache) DeleteTable(table string) int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k := range s.entries {
			if k.Table == table {
				delete(s.entries, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// CacheMetrics holds metrics for the cache.
type CacheMetrics struct {
	// Count is the number of partitions tracked.
	Count int64
	// Hits counts flush writes skipped because the content was unchanged.
	Hits int64
	// Misses counts flush writes that went to the backend.
	Misses int64
}

// Metrics retrieves metrics for the cache.
func (c *ContentCache) Metrics() CacheMetrics {
	var m CacheMetrics
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		m.Count += int64(len(s.entries))
		s.mu.Unlock()
	}
	m.Hits = c.hits.Load()
	m.Misses = c.misses.Load()
	return m
}
