// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package localcache holds client-side state that must outlive a dropped
// connection: a key/value cache used as a read fallback for settings, and
// a backup queue of settings written while offline.
//
// The two are addressed separately so queued writes never share a
// namespace with ordinary settings.
package localcache

import (
	"context"
	"time"
)

// Cache is a generic key/value store.
type Cache interface {
	// Get returns the stored values for keys, or every entry when keys is
	// empty. Missing keys are omitted.
	Get(ctx context.Context, keys []string) (map[string]any, error)
	Set(ctx context.Context, items map[string]any) error
	Remove(ctx context.Context, keys []string) error
}

// BackupQueue buffers settings writes until they reach durable storage.
// Each Put of a key supersedes the earlier value of that key.
type BackupQueue interface {
	Put(ctx context.Context, items map[string]any) error

	// Pending returns a snapshot of everything queued. An empty queue
	// yields a Backup with Seq zero.
	Pending(ctx context.Context) (Backup, error)

	// Ack removes the entries covered by b. Entries rewritten after b was
	// taken are kept.
	Ack(ctx context.Context, b Backup) error
}

// Backup is a snapshot of the queue.
type Backup struct {
	Items map[string]any
	// Keys lists the queued key names in write order.
	Keys []string
	// Timestamp is the time of the most recent queued write.
	Timestamp time.Time
	// Seq is the high-water sequence number of the snapshot.
	Seq int64
}

// Empty reports whether the snapshot holds nothing.
func (b Backup) Empty() bool {
	return len(b.Keys) == 0
}
