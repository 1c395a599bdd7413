// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/pdiddy/marcalink/internal/codec"
	"github.com/pdiddy/marcalink/internal/localcache"
	"github.com/pdiddy/marcalink/internal/logging"
	"github.com/pdiddy/marcalink/internal/metrics"
	"github.com/pdiddy/marcalink/internal/protocol"
	"github.com/pdiddy/marcalink/pkg/types"
)

// Store maps storage operations onto server actions.
type Store struct {
	client  *Client
	cache   localcache.Cache
	queue   localcache.BackupQueue
	logger  *log.Logger
	metrics *metrics.Metrics

	resyncMu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records queue size and resync outcomes.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore wraps client. Settings written offline go to cache and queue;
// the queue is replayed each time the connection opens. Call it before
// client.Start so the first open triggers a replay.
func NewStore(client *Client, cache localcache.Cache, queue localcache.BackupQueue, opts ...StoreOption) *Store {
	s := &Store{
		client: client,
		cache:  cache,
		queue:  queue,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	client.OnOpen(s.resyncLogged)
	return s
}

func (s *Store) resyncLogged(ctx context.Context) {
	if err := s.Resync(ctx); err != nil {
		s.logger.Warn("backup resync failed, will retry on next connect", "err", err)
	}
}

// Active reports whether the connection is open.
func (s *Store) Active() bool {
	return s.client.State() == Open
}

// WaitOpen blocks until the connection opens or the open timeout passes.
func (s *Store) WaitOpen(ctx context.Context) bool {
	return s.client.WaitOpen(ctx)
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// --- settings ---

// Get fetches settings from the server. Any failure yields an empty map,
// since reads have no safe offline substitute at this layer.
func (s *Store) Get(ctx context.Context, keys []string) (map[string]any, error) {
	raw, err := s.client.Request(ctx, protocol.ActStorageGet, protocol.Keys{Keys: keys})
	if err != nil {
		s.logger.Debug("storage_get failed, returning empty", "err", err)
		return map[string]any{}, nil
	}
	var reply struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil || reply.Data == nil {
		return map[string]any{}, nil
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, reply.Data); err != nil {
			s.logger.Warn("refreshing local cache failed", "err", err)
		}
	}
	return reply.Data, nil
}

// Set writes settings to the server. When the connection is not open, or
// drops during the write, the items are kept locally and replayed later;
// the call still succeeds. The registry key is rejected on both paths.
func (s *Store) Set(ctx context.Context, items map[string]any) error {
	if len(items) == 0 {
		return nil
	}
	if err := types.CheckSettings(protocol.ActStorageSet, items); err != nil {
		return err
	}
	if s.client.State() != Open {
		return s.backupAndCatchUp(ctx, items)
	}
	_, err := s.client.Request(ctx, protocol.ActStorageSet, protocol.Items{Items: items})
	if errors.Is(err, types.ErrNotConnected) {
		return s.backupAndCatchUp(ctx, items)
	}
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, items); err != nil {
			s.logger.Warn("refreshing local cache failed", "err", err)
		}
	}
	return nil
}

// backupAndCatchUp queues items. If the connection opened meanwhile, the
// replay run by that open may already have read the queue, so another
// one is started.
func (s *Store) backupAndCatchUp(ctx context.Context, items map[string]any) error {
	if err := s.backup(ctx, items); err != nil {
		return err
	}
	if s.client.State() == Open {
		s.client.spawn(s.resyncLogged)
	}
	return nil
}

func (s *Store) backup(ctx context.Context, items map[string]any) error {
	const op = "storage_set"
	if s.cache != nil {
		if err := s.cache.Set(ctx, items); err != nil {
			return types.WrapError(types.KindBackend, op, err)
		}
	}
	if err := s.queue.Put(ctx, items); err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}
	s.logger.Info("settings saved as backup (offline)", "keys", len(items))
	s.reportQueue(ctx)
	return nil
}

// Resync replays the backup queue as a single storage_set. Entries are
// removed only after the server acknowledges them; a failure leaves the
// queue as it was. A backup the server rejects as invalid would be
// rejected on every replay, so it is dropped.
func (s *Store) Resync(ctx context.Context) error {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	b, err := s.queue.Pending(ctx)
	if err != nil {
		s.metrics.Resync("failed")
		return types.WrapError(types.KindBackend, "resync", err)
	}
	if b.Empty() {
		return nil
	}
	items := b.Items
	if _, ok := items[types.RegistryKey]; ok {
		items = maps.Clone(items)
		delete(items, types.RegistryKey)
		s.logger.Warn("dropping reserved key from backup", "key", types.RegistryKey)
	}
	result := "ok"
	if len(items) > 0 {
		_, err := s.client.Request(ctx, protocol.ActStorageSet, protocol.Items{Items: items})
		switch {
		case err != nil && types.KindOf(err) == types.KindValidation:
			s.logger.Warn("server rejected backup, dropping it", "keys", b.Keys, "err", err)
			result = "rejected"
		case err != nil:
			s.metrics.Resync("failed")
			return err
		}
	}
	if err := s.queue.Ack(ctx, b); err != nil {
		s.metrics.Resync("failed")
		return types.WrapError(types.KindBackend, "resync", err)
	}
	s.metrics.Resync(result)
	if result == "ok" {
		s.logger.Info("backup resynced", "keys", len(b.Keys), "queued_at", b.Timestamp)
	}
	s.reportQueue(ctx)
	return nil
}

func (s *Store) reportQueue(ctx context.Context) {
	if b, err := s.queue.Pending(ctx); err == nil {
		s.metrics.BackupQueueSize(len(b.Keys))
	}
}

// --- projects ---

// SaveProject sends p to the server, which merges it over the stored copy.
func (s *Store) SaveProject(ctx context.Context, p *types.Project) error {
	const op = protocol.ActSaveProject
	if p == nil {
		return types.NewError(types.KindValidation, op, "Project JSON must include an id.")
	}
	id, err := protocol.ValidateProjectID(op, p.ID)
	if err != nil {
		return err
	}
	doc, err := codec.ProjectToDocument(p)
	if err != nil {
		return err
	}
	_, err = s.client.Request(ctx, op, protocol.SaveProject{ProjectID: id, Data: doc})
	return err
}

// UpdateProject sends a partial document for id.
func (s *Store) UpdateProject(ctx context.Context, id string, fields map[string]any) error {
	const op = protocol.ActSaveProject
	id, err := protocol.ValidateProjectID(op, id)
	if err != nil {
		return err
	}
	doc := maps.Clone(fields)
	if doc == nil {
		doc = types.Document{}
	}
	if other, ok := doc["id"].(string); ok && other != id {
		return types.NewError(types.KindValidation, "update_project", "project id is immutable")
	}
	delete(doc, "isCurrent")
	_, err = s.client.Request(ctx, op, protocol.SaveProject{ProjectID: id, Data: doc})
	return err
}

// LoadProject returns the stored project or nil. Undecodable replies
// also yield nil.
func (s *Store) LoadProject(ctx context.Context, id string) (*types.Project, error) {
	raw, err := s.client.Request(ctx, protocol.ActLoadProject, protocol.ProjectRef{ProjectID: id})
	if err != nil {
		return nil, err
	}
	return s.projectFromData(id, raw), nil
}

// OpenProject makes id the server's active project.
func (s *Store) OpenProject(ctx context.Context, id string) (*types.Project, error) {
	raw, err := s.client.Request(ctx, protocol.ActOpenProject, protocol.ProjectRef{ProjectID: id})
	if err != nil {
		return nil, err
	}
	return s.projectFromData(id, raw), nil
}

// ActiveProject returns the server's active project, or nil.
func (s *Store) ActiveProject(ctx context.Context) (*types.Project, error) {
	raw, err := s.client.Request(ctx, protocol.ActGetActiveProject, nil)
	if err != nil {
		return nil, err
	}
	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, nil
	}
	p, err := codec.ProjectFromDocument("", doc)
	if err != nil || p == nil {
		return nil, nil
	}
	p.IsCurrent = true
	return p, nil
}

func (s *Store) projectFromData(id string, raw json.RawMessage) *types.Project {
	var reply struct {
		Data types.Document `json:"data"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil || reply.Data == nil {
		return nil
	}
	p, err := codec.ProjectFromDocument(id, reply.Data)
	if err != nil {
		s.logger.Debug("discarding undecodable project", "project", id, "err", err)
		return nil
	}
	return p
}

// DeleteProject archives and then removes id on the server.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	_, err := s.client.Request(ctx, protocol.ActDeleteProject, protocol.ProjectRef{ProjectID: id})
	return err
}

// ArchiveProject removes id from the server registry.
func (s *Store) ArchiveProject(ctx context.Context, id string) error {
	_, err := s.client.Request(ctx, protocol.ActArchiveProject, protocol.ProjectRef{ProjectID: id})
	return err
}

// ListProjects returns the server registry.
func (s *Store) ListProjects(ctx context.Context) ([]types.ProjectSummary, error) {
	raw, err := s.client.Request(ctx, protocol.ActListProjects, nil)
	if err != nil {
		return nil, err
	}
	var list []types.ProjectSummary
	if err := json.Unmarshal(raw, &list); err != nil || list == nil {
		return []types.ProjectSummary{}, nil
	}
	return list, nil
}

// --- papers ---

// SavePaper sends p to the server for the active project, or for
// p.ProjectID when none is open.
func (s *Store) SavePaper(ctx context.Context, p *types.Paper) error {
	const op = protocol.ActSavePaper
	if p == nil {
		return types.NewError(types.KindValidation, op, "Paper JSON must include an id.")
	}
	id, err := protocol.ValidatePaperID(op, p.ID)
	if err != nil {
		return err
	}
	doc, err := codec.PaperToDocument(p)
	if err != nil {
		return err
	}
	_, err = s.client.Request(ctx, op, protocol.SavePaper{PaperID: id, ProjectID: p.ProjectID, Data: doc})
	return err
}

// LoadPaper returns a paper of the active project, or nil.
func (s *Store) LoadPaper(ctx context.Context, id string) (*types.Paper, error) {
	raw, err := s.client.Request(ctx, protocol.ActLoadPaper, protocol.PaperRef{PaperID: id})
	if err != nil {
		return nil, err
	}
	var reply struct {
		Data types.Document `json:"data"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil || reply.Data == nil {
		return nil, nil
	}
	p, err := codec.PaperFromDocument(reply.Data)
	if err != nil {
		return nil, nil
	}
	return p, nil
}

// DeletePaper removes a paper of the active project.
func (s *Store) DeletePaper(ctx context.Context, id string) error {
	_, err := s.client.Request(ctx, protocol.ActDeletePaper, protocol.PaperRef{PaperID: id})
	return err
}

// ListPapers returns the papers of the active project.
func (s *Store) ListPapers(ctx context.Context) ([]*types.Paper, error) {
	raw, err := s.client.Request(ctx, protocol.ActListPapers, nil)
	if err != nil {
		return nil, err
	}
	var docs []types.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return []*types.Paper{}, nil
	}
	return codec.PapersFromDocuments(docs), nil
}
