// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"
)

const (
	shardCount = 256
	shardMask  = shardCount - 1
)

// hashKey is a map key that knows its own shard hash.
type hashKey interface {
	comparable
	hash() uint64
}

func (id NodeID) hash() uint64 {
	return xxhash.Sum64String(string(id))
}

func (k EdgeKey) hash() uint64 {
	h := xxhash.Sum64String(string(k.Source))
	h = mixHash(h, xxhash.Sum64String(string(k.Target)))
	return mixHash(h, uint64(k.Kind))
}

// pathKey keys the provenance table.
type pathKey string

func (p pathKey) hash() uint64 {
	return xxhash.Sum64String(string(p))
}

// nameKey keys the qualified-name and short-name indexes.
type nameKey string

func (n nameKey) hash() uint64 {
	return xxhash.Sum64String(string(n))
}

type direction uint8

const (
	dirOut direction = iota
	dirIn
)

// adjKey keys the adjacency index: (node, edge kind, direction).
type adjKey struct {
	node NodeID
	kind EdgeKind
	dir  direction
}

func (k adjKey) hash() uint64 {
	h := xxhash.Sum64String(string(k.node))
	return mixHash(h, uint64(k.kind)<<1|uint64(k.dir))
}

func mixHash(a, b uint64) uint64 {
	return a ^ (b + 0x9e3779b97f4a7c15 + (a << 6) + (a >> 2))
}

// shard is one bucket of a cowMap. gen is the transaction generation
// that created it; only that generation may write to it in place.
type shard[K hashKey, V any] struct {
	gen uint64
	m   map[K]V
}

// cowMap is a sharded copy-on-write map.
//
// Copying a cowMap by value copies only the shard pointer array. A
// writer with a fresh generation clones a shard the first time it
// touches it, so every earlier copy keeps seeing the old shard.
type cowMap[K hashKey, V any] struct {
	shards [shardCount]*shard[K, V]
	size   int
}

func (c *cowMap[K, V]) get(k K) (V, bool) {
	s := c.shards[k.hash()&shardMask]
	if s == nil {
		var zero V
		return zero, false
	}
	v, ok := s.m[k]
	return v, ok
}

func (c *cowMap[K, V]) writable(k K, gen uint64) *shard[K, V] {
	i := k.hash() & shardMask
	s := c.shards[i]
	switch {
	case s == nil:
		s = &shard[K, V]{gen: gen, m: make(map[K]V)}
		c.shards[i] = s
	case s.gen != gen:
		s = &shard[K, V]{gen: gen, m: maps.Clone(s.m)}
		c.shards[i] = s
	}
	return s
}

func (c *cowMap[K, V]) set(gen uint64, k K, v V) {
	s := c.writable(k, gen)
	if _, ok := s.m[k]; !ok {
		c.size++
	}
	s.m[k] = v
}

func (c *cowMap[K, V]) del(gen uint64, k K) bool {
	if _, ok := c.get(k); !ok {
		return false
	}
	s := c.writable(k, gen)
	delete(s.m, k)
	c.size--
	return true
}

func (c *cowMap[K, V]) len() int {
	return c.size
}

// each visits every entry in unspecified order until fn returns false.
func (c *cowMap[K, V]) each(fn func(K, V) bool) {
	for _, s := range c.shards {
		if s == nil {
			continue
		}
		for k, v := range s.m {
			if !fn(k, v) {
				return
			}
		}
	}
}

// idSet is a sorted set of node IDs stored as a cowMap value. Like a
// shard, it is mutated in place only by the generation that created it.
type idSet struct {
	gen uint64
	ids []NodeID
}

func indexAdd[K hashKey](m *cowMap[K, *idSet], gen uint64, k K, id NodeID) {
	cur, _ := m.get(k)
	set := cur
	if cur == nil || cur.gen != gen {
		set = &idSet{gen: gen}
		if cur != nil {
			set.ids = slices.Clone(cur.ids)
		}
		m.set(gen, k, set)
	}
	i, found := slices.BinarySearch(set.ids, id)
	if !found {
		set.ids = slices.Insert(set.ids, i, id)
	}
}

func indexRemove[K hashKey](m *cowMap[K, *idSet], gen uint64, k K, id NodeID) {
	cur, _ := m.get(k)
	if cur == nil {
		return
	}
	i, found := slices.BinarySearch(cur.ids, id)
	if !found {
		return
	}
	if len(cur.ids) == 1 {
		m.del(gen, k)
		return
	}
	set := cur
	if cur.gen != gen {
		set = &idSet{gen: gen, ids: slices.Clone(cur.ids)}
		m.set(gen, k, set)
	}
	set.ids = slices.Delete(set.ids, i, i+1)
}

func indexGet[K hashKey](m *cowMap[K, *idSet], k K) []NodeID {
	set, _ := m.get(k)
	if set == nil {
		return nil
	}
	return set.ids
}
