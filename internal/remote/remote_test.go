// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/marcalink/internal/dispatch"
	"github.com/pdiddy/marcalink/internal/fsstore"
	"github.com/pdiddy/marcalink/internal/localcache"
	"github.com/pdiddy/marcalink/internal/protocol"
	"github.com/pdiddy/marcalink/internal/server"
	"github.com/pdiddy/marcalink/pkg/types"
)

var now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

// --- test helpers ---

// gateDialer refuses to connect while offline and can drop the live
// connection on demand.
type gateDialer struct {
	inner   WebSocketDialer
	offline atomic.Bool

	mu   sync.Mutex
	conn Conn
}

func (g *gateDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if g.offline.Load() {
		return nil, errors.New("network unreachable")
	}
	c, err := g.inner.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.conn = c
	g.mu.Unlock()
	return c, nil
}

func (g *gateDialer) drop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		_ = g.conn.Close()
	}
}

// setRecorder observes storage_set calls reaching the server.
type setRecorder struct {
	mu     sync.Mutex
	calls  []map[string]any
	fail   atomic.Bool
	reject atomic.Bool
}

func (r *setRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *setRecorder) last() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type harness struct {
	dialer *gateDialer
	client *Client
	store  *Store
	queue  *localcache.MemoryQueue
	cache  *localcache.Memory
	sets   *setRecorder
	fs     *fsstore.Store
	d      *dispatch.Dispatcher
}

func newHarness(t *testing.T, offline bool) *harness {
	t.Helper()
	fs, err := fsstore.New(t.TempDir(), nil)
	require.NoError(t, err)

	h := &harness{
		dialer: &gateDialer{},
		queue:  localcache.NewMemoryQueue(),
		cache:  localcache.NewMemory(),
		sets:   &setRecorder{},
		fs:     fs,
	}
	h.dialer.offline.Store(offline)

	h.d = dispatch.New()
	dispatch.Register(h.d, fs)
	h.d.Handle(protocol.ActStorageSet, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var p protocol.Items
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		h.sets.mu.Lock()
		h.sets.calls = append(h.sets.calls, p.Items)
		h.sets.mu.Unlock()
		if h.sets.fail.Load() {
			return nil, types.NewError(types.KindBackend, protocol.ActStorageSet, "disk full")
		}
		if h.sets.reject.Load() {
			return nil, types.NewError(types.KindValidation, protocol.ActStorageSet, "bad settings")
		}
		if err := fs.Set(ctx, p.Items); err != nil {
			return nil, err
		}
		return protocol.Message{Message: "Data saved."}, nil
	})

	srv, err := server.New(server.Config{Dispatcher: h.d})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())

	cfg := types.ClientConfig{
		URL:            "ws" + strings.TrimPrefix(ts.URL, "http") + types.DefaultServerPath,
		OpenTimeout:    300 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
		ReconnectMin:   10 * time.Millisecond,
		ReconnectMax:   40 * time.Millisecond,
	}
	h.client = NewClient(cfg, WithDialer(h.dialer))
	h.store = NewStore(h.client, h.cache, h.queue)
	h.client.Start()

	t.Cleanup(func() {
		_ = h.client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		ts.Close()
	})
	return h
}

func (h *harness) waitOpen(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.client.State() == Open }, 3*time.Second, 5*time.Millisecond)
}

func pending(t *testing.T, q localcache.BackupQueue) localcache.Backup {
	t.Helper()
	b, err := q.Pending(context.Background())
	require.NoError(t, err)
	return b
}

// --- tests ---

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestProjectOperationsRoundTrip(t *testing.T) {
	h := newHarness(t, false)
	h.waitOpen(t)
	ctx := context.Background()

	p := types.NewProject("tcc", "Meu TCC", now)
	p.Researchers = []string{"Ana"}
	require.NoError(t, h.store.SaveProject(ctx, p))
	require.NoError(t, h.store.UpdateProject(ctx, "tcc", map[string]any{"objective": "Mapear"}))

	got, err := h.store.LoadProject(ctx, "tcc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Meu TCC", got.Name)
	assert.Equal(t, "Mapear", got.Objective)

	missing, err := h.store.LoadProject(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	active, err := h.store.ActiveProject(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = h.store.OpenProject(ctx, "tcc")
	require.NoError(t, err)
	active, err = h.store.ActiveProject(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "tcc", active.ID)

	list, err := h.store.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsCurrent)

	require.NoError(t, h.store.ArchiveProject(ctx, "tcc"))
	list, err = h.store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = h.store.DeleteProject(ctx, "../etc")
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, protocol.MsgInvalidID, types.MessageOf(err))
}

func TestPaperOperationsRoundTrip(t *testing.T) {
	h := newHarness(t, false)
	h.waitOpen(t)
	ctx := context.Background()

	_, err := h.store.OpenProject(ctx, "tcc")
	require.NoError(t, err)

	paper := types.NewPaper("https://example.org/a.pdf", "I1", now)
	paper.Mark("Backward", now)
	require.NoError(t, h.store.SavePaper(ctx, paper))

	got, err := h.store.LoadPaper(ctx, paper.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.OriginBackward, got.Origin)
	require.Len(t, got.History, 1)

	list, err := h.store.ListPapers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, paper.ID, list[0].ID)

	require.NoError(t, h.store.DeletePaper(ctx, paper.ID))
	got, err = h.store.LoadPaper(ctx, paper.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNilEntitiesAreValidationErrors(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	assert.ErrorIs(t, h.store.SaveProject(ctx, nil), types.ErrValidation)
	assert.ErrorIs(t, h.store.SavePaper(ctx, nil), types.ErrValidation)
	assert.ErrorIs(t, h.store.SavePaper(ctx, &types.Paper{}), types.ErrValidation)
}

func TestOfflineEntityOperations(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.store.LoadProject(ctx, "tcc")
	assert.ErrorIs(t, err, types.ErrNotConnected)

	_, err = h.store.ListPapers(ctx)
	assert.ErrorIs(t, err, types.ErrNotConnected)

	got, err := h.store.Get(ctx, []string{"theme"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, h.store.Active())
}

func TestOfflineSetBuffersThenResyncsOnce(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	require.NoError(t, h.store.Set(ctx, map[string]any{"theme": "dark"}))
	require.NoError(t, h.store.Set(ctx, map[string]any{"lang": "pt"}))
	require.NoError(t, h.store.Set(ctx, map[string]any{"theme": "light"}))
	assert.Zero(t, h.sets.count())

	b := pending(t, h.queue)
	assert.Equal(t, map[string]any{"theme": "light", "lang": "pt"}, b.Items)

	cached, err := h.cache.Get(ctx, []string{"theme"})
	require.NoError(t, err)
	assert.Equal(t, "light", cached["theme"])

	h.dialer.offline.Store(false)
	require.Eventually(t, func() bool { return pending(t, h.queue).Empty() }, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.sets.count())
	assert.Equal(t, map[string]any{"theme": "light", "lang": "pt"}, h.sets.last())

	stored, err := h.fs.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "light", stored["theme"])
}

func TestFailedResyncKeepsBackup(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.sets.fail.Store(true)

	require.NoError(t, h.store.Set(ctx, map[string]any{"theme": "dark"}))

	h.dialer.offline.Store(false)
	require.Eventually(t, func() bool { return h.sets.count() == 1 }, 3*time.Second, 5*time.Millisecond)
	// the resync goroutine acks only after a successful reply
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, map[string]any{"theme": "dark"}, pending(t, h.queue).Items)

	// the next open replays the same backup
	h.sets.fail.Store(false)
	h.dialer.drop()
	require.Eventually(t, func() bool { return pending(t, h.queue).Empty() }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.sets.count())
}

func TestSetRejectsRegistryKey(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	err := h.store.Set(ctx, map[string]any{"projects": []any{}})
	assert.ErrorIs(t, err, types.ErrValidation)
	require.NoError(t, h.store.Set(ctx, map[string]any{"theme": "dark"}))
	assert.Equal(t, map[string]any{"theme": "dark"}, pending(t, h.queue).Items)

	h.dialer.offline.Store(false)
	require.Eventually(t, func() bool { return pending(t, h.queue).Empty() }, 3*time.Second, 5*time.Millisecond)
	stored, err := h.fs.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "dark", stored["theme"])

	h.waitOpen(t)
	err = h.store.Set(ctx, map[string]any{"projects": []any{}, "lang": "pt"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestResyncStripsQueuedRegistryKey(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	// written to the queue directly, as an older client would have
	require.NoError(t, h.queue.Put(ctx, map[string]any{"projects": []any{}, "lang": "pt"}))

	h.dialer.offline.Store(false)
	require.Eventually(t, func() bool { return pending(t, h.queue).Empty() }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"lang": "pt"}, h.sets.last())

	stored, err := h.fs.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "pt", stored["lang"])
}

func TestResyncDropsRejectedBackup(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.sets.reject.Store(true)

	require.NoError(t, h.store.Set(ctx, map[string]any{"theme": "dark"}))

	h.dialer.offline.Store(false)
	require.Eventually(t, func() bool { return pending(t, h.queue).Empty() }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.sets.count())

	// later writes are not held back by the dropped one
	h.sets.reject.Store(false)
	require.NoError(t, h.store.Set(ctx, map[string]any{"lang": "pt"}))
	stored, err := h.fs.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "pt"}, stored)
}

func TestBackupWhileOpenIsReplayed(t *testing.T) {
	h := newHarness(t, false)
	h.waitOpen(t)
	ctx := context.Background()

	// a write that lost the race with an open lands in the queue after
	// that open's replay has run
	require.NoError(t, h.store.backupAndCatchUp(ctx, map[string]any{"theme": "dark"}))

	require.Eventually(t, func() bool { return pending(t, h.queue).Empty() }, 3*time.Second, 5*time.Millisecond)
	stored, err := h.fs.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "dark", stored["theme"])
}

func TestOnlineSetGoesStraightThrough(t *testing.T) {
	h := newHarness(t, false)
	h.waitOpen(t)
	ctx := context.Background()

	require.NoError(t, h.store.Set(ctx, map[string]any{"theme": "dark"}))
	assert.True(t, pending(t, h.queue).Empty())

	got, err := h.store.Get(ctx, []string{"theme"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, got)
}

func TestPendingRequestFailsWhenConnectionDrops(t *testing.T) {
	h := newHarness(t, false)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.d.Handle("slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return protocol.Message{Message: "late"}, nil
	})
	h.waitOpen(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Request(context.Background(), "slow", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	h.dialer.drop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, types.ErrNotConnected)
	case <-time.After(3 * time.Second):
		t.Fatal("request did not fail after the connection dropped")
	}
}

func TestWaitOpenReleasesEveryWaiter(t *testing.T) {
	fs, err := fsstore.New(t.TempDir(), nil)
	require.NoError(t, err)
	d := dispatch.New()
	dispatch.Register(d, fs)
	srv, err := server.New(server.Config{Dispatcher: d})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	dialer := &gateDialer{}
	dialer.offline.Store(true)
	client := NewClient(types.ClientConfig{
		URL:          "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		OpenTimeout:  3 * time.Second,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	}, WithDialer(dialer))
	client.Start()
	defer client.Close()

	const waiters = 5
	results := make(chan bool, waiters)
	for range waiters {
		go func() { results <- client.WaitOpen(context.Background()) }()
	}
	time.Sleep(30 * time.Millisecond)
	dialer.offline.Store(false)

	for range waiters {
		select {
		case ok := <-results:
			assert.True(t, ok)
		case <-time.After(4 * time.Second):
			t.Fatal("waiter was not released")
		}
	}
}

func TestWaitOpenTimesOut(t *testing.T) {
	h := newHarness(t, true)
	start := time.Now()
	assert.False(t, h.client.WaitOpen(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}
