// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package localcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Cache       = (*Memory)(nil)
	_ Cache       = (*SQLite)(nil)
	_ BackupQueue = (*MemoryQueue)(nil)
	_ BackupQueue = (*SQLite)(nil)
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func caches(t *testing.T) map[string]Cache {
	return map[string]Cache{
		"memory": NewMemory(),
		"sqlite": openSQLite(t),
	}
}

func queues(t *testing.T) map[string]BackupQueue {
	return map[string]BackupQueue{
		"memory": NewMemoryQueue(),
		"sqlite": openSQLite(t),
	}
}

func TestCache(t *testing.T) {
	for name, c := range caches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, map[string]any{"theme": "dark", "count": float64(3)}))
			require.NoError(t, c.Set(ctx, map[string]any{"theme": "light"}))

			got, err := c.Get(ctx, []string{"theme", "missing"})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"theme": "light"}, got)

			all, err := c.Get(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"theme": "light", "count": float64(3)}, all)

			require.NoError(t, c.Remove(ctx, []string{"theme"}))
			all, err = c.Get(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"count": float64(3)}, all)
		})
	}
}

func TestQueueEmpty(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			b, err := q.Pending(context.Background())
			require.NoError(t, err)
			assert.True(t, b.Empty())
			assert.Zero(t, b.Seq)
			require.NoError(t, q.Ack(context.Background(), b))
		})
	}
}

func TestQueueKeepsLatestValues(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Put(ctx, map[string]any{"a": "1"}))
			require.NoError(t, q.Put(ctx, map[string]any{"b": "2"}))
			require.NoError(t, q.Put(ctx, map[string]any{"a": "3"}))

			b, err := q.Pending(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": "3", "b": "2"}, b.Items)
			assert.Equal(t, []string{"b", "a"}, b.Keys, "write order")
			assert.False(t, b.Timestamp.IsZero())

			require.NoError(t, q.Ack(ctx, b))
			b, err = q.Pending(ctx)
			require.NoError(t, err)
			assert.True(t, b.Empty())
		})
	}
}

func TestQueueAckKeepsLaterWrites(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Put(ctx, map[string]any{"a": "old", "b": "kept"}))
			snapshot, err := q.Pending(ctx)
			require.NoError(t, err)

			// rewritten and new keys arrive while the snapshot is in flight
			require.NoError(t, q.Put(ctx, map[string]any{"a": "new"}))
			require.NoError(t, q.Put(ctx, map[string]any{"c": "fresh"}))

			require.NoError(t, q.Ack(ctx, snapshot))

			b, err := q.Pending(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": "new", "c": "fresh"}, b.Items)
		})
	}
}

func TestQueueUnackedSurvives(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, map[string]any{"k": map[string]any{"nested": true}}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	b, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": map[string]any{"nested": true}}, b.Items)
}

func TestQueueOrdersKeysWithinOneWrite(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, q.Put(ctx, map[string]any{"zeta": 1, "alpha": 2, "mid": 3}))
			require.NoError(t, q.Put(ctx, map[string]any{"beta": 4}))

			b, err := q.Pending(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"alpha", "mid", "zeta", "beta"}, b.Keys)
		})
	}
}

func TestQueueDropsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	require.NoError(t, s.Put(ctx, map[string]any{"theme": "dark"}))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backup_queue (key, value, ts) VALUES ('broken', '{not json', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	b, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, b.Items)
	assert.Equal(t, []string{"theme"}, b.Keys)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM backup_queue`).Scan(&n))
	assert.Equal(t, 1, n)
}
