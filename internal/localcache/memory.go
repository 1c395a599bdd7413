// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package localcache

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process Cache.
type Memory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]any)}
}

func (m *Memory) Get(_ context.Context, keys []string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(keys) == 0 {
		return maps.Clone(m.data), nil
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, items map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	maps.Copy(m.data, items)
	return nil
}

func (m *Memory) Remove(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type queued struct {
	value any
	seq   int64
	ts    time.Time
}

// MemoryQueue is an in-process BackupQueue.
type MemoryQueue struct {
	mu      sync.Mutex
	seq     int64
	entries map[string]queued
	now     func() time.Time
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{entries: make(map[string]queued), now: time.Now}
}

func (q *MemoryQueue) Put(_ context.Context, items map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	ts := q.now().UTC()
	for _, k := range slices.Sorted(maps.Keys(items)) {
		q.seq++
		q.entries[k] = queued{value: items[k], seq: q.seq, ts: ts}
	}
	return nil
}

func (q *MemoryQueue) Pending(_ context.Context) (Backup, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := slices.SortedFunc(maps.Keys(q.entries), func(a, b string) int {
		return cmp.Compare(q.entries[a].seq, q.entries[b].seq)
	})
	b := Backup{Items: make(map[string]any, len(keys)), Keys: keys}
	for _, k := range keys {
		e := q.entries[k]
		b.Items[k] = e.value
		b.Seq = max(b.Seq, e.seq)
		if e.ts.After(b.Timestamp) {
			b.Timestamp = e.ts
		}
	}
	return b, nil
}

func (q *MemoryQueue) Ack(_ context.Context, b Backup) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, e := range q.entries {
		if e.seq <= b.Seq {
			delete(q.entries, k)
		}
	}
	return nil
}
