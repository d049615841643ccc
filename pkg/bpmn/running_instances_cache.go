// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package bpmn

import (
	"slices"
	"sync"
)

// RunningInstancesCache keeps the process instances of one host addressable
// by their key, so the completion bridge can be reached from outside.
type RunningInstancesCache struct {
	processInstances map[int64]*BusinessProcess
	mu               *sync.RWMutex
}

func NewRunningInstancesCache() *RunningInstancesCache {
	return &RunningInstancesCache{
		processInstances: map[int64]*BusinessProcess{},
		mu:               &sync.RWMutex{},
	}
}

// Add registers the instance under its key, replacing a previous one.
func (c *RunningInstancesCache) Add(bp *BusinessProcess) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processInstances[bp.Key()] = bp
}

func (c *RunningInstancesCache) Get(key int64) (*BusinessProcess, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bp, ok := c.processInstances[key]
	return bp, ok
}

func (c *RunningInstancesCache) Remove(key int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.processInstances, key)
}

// Keys returns the registered keys in ascending order.
func (c *RunningInstancesCache) Keys() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]int64, 0, len(c.processInstances))
	for key := range c.processInstances {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// EvictCompleted drops completed instances and returns their keys.
func (c *RunningInstancesCache) EvictCompleted() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted []int64
	for key, bp := range c.processInstances {
		if bp.Completed() {
			delete(c.processInstances, key)
			evicted = append(evicted, key)
		}
	}
	slices.Sort(evicted)
	return evicted
}
