// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

package common

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ground-x/compute-coordinator/log"
)

// CacheType selects the eviction policy a CacheConfiger builds.
type CacheType int

const (
	LRUCacheType CacheType = iota
	ARCCacheType
)

var logger = log.NewModuleLogger("common/cache")

// Cache is the generic capability every coordinator component uses as a
// fast front for a slower durable lookup (idempotency keys, canonical
// receipt bytes, miner capability snapshots).
type Cache interface {
	Add(key, value interface{}) (evicted bool)
	Get(key interface{}) (value interface{}, ok bool)
	Contains(key interface{}) bool
	Remove(key interface{})
	Purge()
	Len() int
}

type lruCache struct {
	lru *lru.Cache
}

func (c *lruCache) Add(key, value interface{}) (evicted bool) { return c.lru.Add(key, value) }
func (c *lruCache) Get(key interface{}) (interface{}, bool)    { return c.lru.Get(key) }
func (c *lruCache) Contains(key interface{}) bool              { return c.lru.Contains(key) }
func (c *lruCache) Remove(key interface{})                     { c.lru.Remove(key) }
func (c *lruCache) Purge()                                     { c.lru.Purge() }
func (c *lruCache) Len() int                                   { return c.lru.Len() }

type arcCache struct {
	arc *lru.ARCCache
}

func (c *arcCache) Add(key, value interface{}) (evicted bool) { c.arc.Add(key, value); return true }
func (c *arcCache) Get(key interface{}) (interface{}, bool)    { return c.arc.Get(key) }
func (c *arcCache) Contains(key interface{}) bool              { return c.arc.Contains(key) }
func (c *arcCache) Remove(key interface{})                     { c.arc.Remove(key) }
func (c *arcCache) Purge()                                     { c.arc.Purge() }
func (c *arcCache) Len() int                                   { return c.arc.Len() }

// CacheConfiger is a config struct that knows how to construct the cache
// it describes.
type CacheConfiger interface {
	newCache() (Cache, error)
}

// NewCache builds a Cache from its config.
func NewCache(config CacheConfiger) (Cache, error) {
	if config == nil {
		return nil, errors.New("cache config is nil")
	}
	return config.newCache()
}

// LRUConfig configures a fixed-size LRU cache.
type LRUConfig struct {
	CacheSize int
}

func (c LRUConfig) newCache() (Cache, error) {
	if c.CacheSize < 1 {
		logger.Error("non-positive cache size", "size", c.CacheSize)
		return nil, errors.New("cache size must be positive")
	}
	l, err := lru.New(c.CacheSize)
	if err != nil {
		return nil, err
	}
	return &lruCache{lru: l}, nil
}

// ARCConfig configures an adaptive replacement cache, useful where access
// patterns mix one-shot scans (admin job listing) with hot repeat lookups
// (idempotency replay).
type ARCConfig struct {
	CacheSize int
}

func (c ARCConfig) newCache() (Cache, error) {
	arc, err := lru.NewARC(c.CacheSize)
	if err != nil {
		return nil, err
	}
	return &arcCache{arc: arc}, nil
}
