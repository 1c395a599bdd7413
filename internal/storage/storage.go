// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package storage is the single entry point application code uses to
// persist projects, papers and settings.
//
// A Service is built once with New, bound to exactly one backend by Init,
// and released by Shutdown. The backend is chosen from configuration (or
// injected) and never changes for the life of the Service. Every
// operation returns a types.Result; ordinary failures are reported in the
// result rather than as Go errors.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pdiddy/marcalink/internal/fsstore"
	"github.com/pdiddy/marcalink/internal/localcache"
	"github.com/pdiddy/marcalink/internal/logging"
	"github.com/pdiddy/marcalink/internal/metrics"
	"github.com/pdiddy/marcalink/internal/remote"
	"github.com/pdiddy/marcalink/pkg/types"
)

// Backend is a storage backend bound to a Service.
type Backend interface {
	Active() bool
	Close() error

	Get(ctx context.Context, keys []string) (map[string]any, error)
	Set(ctx context.Context, items map[string]any) error

	SaveProject(ctx context.Context, p *types.Project) error
	UpdateProject(ctx context.Context, id string, fields map[string]any) error
	LoadProject(ctx context.Context, id string) (*types.Project, error)
	DeleteProject(ctx context.Context, id string) error
	ArchiveProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context) ([]types.ProjectSummary, error)
	OpenProject(ctx context.Context, id string) (*types.Project, error)
	ActiveProject(ctx context.Context) (*types.Project, error)

	SavePaper(ctx context.Context, p *types.Paper) error
	LoadPaper(ctx context.Context, id string) (*types.Paper, error)
	DeletePaper(ctx context.Context, id string) error
	ListPapers(ctx context.Context) ([]*types.Paper, error)
}

var (
	_ Backend = (*fsstore.Store)(nil)
	_ Backend = (*remote.Store)(nil)
)

var errNotInitialized = errors.New("storage not initialized")

// Service is the storage facade.
type Service struct {
	cfg      types.Config
	logger   *log.Logger
	registry prometheus.Registerer
	metrics  *metrics.Metrics

	injected Backend
	local    localcache.Cache

	mu      sync.RWMutex
	backend Backend
	cache   localcache.Cache
	closers []io.Closer
}

// Option configures a Service.
type Option func(*Service)

// WithBackend binds b at Init instead of building one from configuration.
func WithBackend(b Backend) Option {
	return func(s *Service) { s.injected = b }
}

// WithCache sets the local cache consulted by Get when the backend is
// inactive. In remote mode it also receives offline writes.
func WithCache(c localcache.Cache) Option {
	return func(s *Service) { s.local = c }
}

// WithLogger sets the logger passed to every component.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics registers collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Service) { s.registry = reg }
}

// New returns an uninitialized Service.
func New(cfg types.Config, opts ...Option) *Service {
	s := &Service{cfg: cfg, logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry != nil {
		s.metrics = metrics.New(s.registry)
	}
	return s
}

// Init binds the backend. Calling it again before Shutdown has no effect.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		return nil
	}
	s.cache = s.local
	if s.injected != nil {
		s.backend = s.injected
		s.closers = append(s.closers, s.injected)
		s.logger.Info("storage bound", "backend", "injected")
		return nil
	}

	switch s.cfg.Storage.Mode {
	case types.ModeFilesystem, "":
		fs, err := fsstore.New(s.cfg.Storage.BaseDir, s.logger)
		if err != nil {
			return err
		}
		s.backend = fs
		s.closers = append(s.closers, fs)
		s.logger.Info("storage bound", "backend", types.ModeFilesystem, "base_dir", s.cfg.Storage.BaseDir)
	case types.ModeRemote:
		if err := s.initRemote(); err != nil {
			return err
		}
	default:
		return types.NewError(types.KindValidation, "init", fmt.Sprintf("unknown storage mode %q", s.cfg.Storage.Mode))
	}
	return nil
}

func (s *Service) initRemote() error {
	cc := s.cfg.Client.WithDefaults()
	var (
		cache localcache.Cache
		queue localcache.BackupQueue
	)
	if cc.CacheFile != "" {
		db, err := localcache.OpenSQLite(cc.CacheFile)
		if err != nil {
			return types.WrapError(types.KindBackend, "init", err)
		}
		cache, queue = db, db
		s.closers = append(s.closers, db)
	} else {
		cache, queue = localcache.NewMemory(), localcache.NewMemoryQueue()
	}
	if s.cache != nil {
		cache = s.cache
	}
	s.cache = cache

	client := remote.NewClient(cc,
		remote.WithClientLogger(s.logger),
		remote.WithClientMetrics(s.metrics))
	store := remote.NewStore(client, cache, queue,
		remote.WithLogger(s.logger),
		remote.WithMetrics(s.metrics))
	client.Start()

	// Close the store before the cache it writes to.
	s.closers = append([]io.Closer{store}, s.closers...)
	s.backend = store
	s.logger.Info("storage bound", "backend", types.ModeRemote, "url", cc.URL)
	return nil
}

// Shutdown releases the backend and any local cache.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	s.backend = nil
	return errors.Join(errs...)
}

func (s *Service) bound() (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil, types.WrapError(types.KindBackend, "", errNotInitialized)
	}
	return s.backend, nil
}

// Connected reports whether the backend can serve requests now. It is
// false while a remote backend is offline.
func (s *Service) Connected() bool {
	b, err := s.bound()
	return err == nil && b.Active()
}

// WaitReady blocks until a backend that connects lazily is usable, or
// its open timeout passes. It reports Connected.
func (s *Service) WaitReady(ctx context.Context) bool {
	b, err := s.bound()
	if err != nil {
		return false
	}
	if w, ok := b.(interface{ WaitOpen(context.Context) bool }); ok {
		w.WaitOpen(ctx)
	}
	return b.Active()
}

// --- settings ---

// Get returns the requested settings. When the backend is inactive the
// local cache answers instead.
func (s *Service) Get(ctx context.Context, keys []string) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	if !b.Active() && s.cache != nil {
		return types.ResultOf(s.cache.Get(ctx, keys))
	}
	return types.ResultOf(b.Get(ctx, keys))
}

// Set stores settings.
func (s *Service) Set(ctx context.Context, items map[string]any) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	if err := b.Set(ctx, items); err != nil {
		return types.Fail(err)
	}
	if !b.Active() {
		return types.OKMessage("Data saved as backup (offline).")
	}
	return types.OKMessage("Data saved.")
}

// --- projects ---

// SaveProject saves p with merge semantics. p must carry an id.
func (s *Service) SaveProject(ctx context.Context, p *types.Project) types.Result {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return types.Fail(types.NewError(types.KindValidation, "save_project", "Project JSON must include an id."))
	}
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	if err := b.SaveProject(ctx, p); err != nil {
		return types.Fail(err)
	}
	return types.OKMessage("Project saved.")
}

// UpdateProject merges fields into project id.
func (s *Service) UpdateProject(ctx context.Context, id string, fields map[string]any) types.Result {
	if strings.TrimSpace(id) == "" {
		return types.Fail(types.NewError(types.KindValidation, "update_project", "Project JSON must include an id."))
	}
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	if err := b.UpdateProject(ctx, id, fields); err != nil {
		return types.Fail(err)
	}
	return types.OKMessage("Project saved.")
}

// LoadProject returns the project, or ok with nil data when absent.
func (s *Service) LoadProject(ctx context.Context, id string) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	p, err := b.LoadProject(ctx, id)
	if err != nil {
		return types.Fail(err)
	}
	if p == nil {
		return types.OK(nil)
	}
	return types.OK(p)
}

// DeleteProject archives then removes project id.
func (s *Service) DeleteProject(ctx context.Context, id string) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	if err := b.DeleteProject(ctx, id); err != nil {
		return types.Fail(err)
	}
	return types.OKMessage("Project deleted.")
}

// ArchiveProject hides project id from the registry and keeps its files.
func (s *Service) ArchiveProject(ctx context.Context, id string) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	if err := b.ArchiveProject(ctx, id); err != nil {
		return types.Fail(err)
	}
	return types.OKMessage("Project archived.")
}

// ListProjects returns the registry.
func (s *Service) ListProjects(ctx context.Context) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	return types.ResultOf(b.ListProjects(ctx))
}

// OpenProject makes id the active project.
func (s *Service) OpenProject(ctx context.Context, id string) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	p, err := b.OpenProject(ctx, id)
	if err != nil {
		return types.Fail(err)
	}
	return types.OK(p)
}

// GetActiveProject returns the active project, or ok with nil data.
func (s *Service) GetActiveProject(ctx context.Context) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	p, err := b.ActiveProject(ctx)
	if err != nil {
		return types.Fail(err)
	}
	if p == nil {
		return types.OK(nil)
	}
	return types.OK(p)
}

// --- papers ---

// SavePaper saves p under the active project. p must carry an id.
func (s *Service) SavePaper(ctx context.Context, p *types.Paper) types.Result {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return types.Fail(types.NewError(types.KindValidation, "save_paper", "Paper JSON must include an id."))
	}
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	if err := b.SavePaper(ctx, p); err != nil {
		return types.Fail(err)
	}
	return types.OKMessage("Paper saved.")
}

// LoadPaper returns a paper, or ok with nil data when absent.
func (s *Service) LoadPaper(ctx context.Context, id string) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	p, err := b.LoadPaper(ctx, id)
	if err != nil {
		return types.Fail(err)
	}
	if p == nil {
		return types.OK(nil)
	}
	return types.OK(p)
}

// DeletePaper removes a paper of the active project.
func (s *Service) DeletePaper(ctx context.Context, id string) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	if err := b.DeletePaper(ctx, id); err != nil {
		return types.Fail(err)
	}
	return types.OKMessage("Paper deleted.")
}

// ListPapers returns the papers of the active project.
func (s *Service) ListPapers(ctx context.Context) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	return types.ResultOf(b.ListPapers(ctx))
}

// --- export and settings helpers ---

// exporter is implemented by backends that can serialize a project with
// its papers.
type exporter interface {
	ExportProject(ctx context.Context, id, format string, w io.Writer) error
}

// ExportProject writes project id and its papers to w in format.
func (s *Service) ExportProject(ctx context.Context, id, format string, w io.Writer) types.Result {
	b, err := s.bound()
	if err != nil {
		return types.Fail(err)
	}
	ex, ok := b.(exporter)
	if !ok {
		return types.Fail(types.NewError(types.KindValidation, "export_project", "export is only available with filesystem storage"))
	}
	if err := ex.ExportProject(ctx, id, format, w); err != nil {
		return types.Fail(err)
	}
	return types.OKMessage("Project exported.")
}

// SeedCategories adds any missing default highlight categories to the
// categories setting. Existing colors are kept.
func (s *Service) SeedCategories(ctx context.Context) types.Result {
	r := s.Get(ctx, []string{types.CategoriesKey})
	if !r.IsOK() {
		return r
	}
	current, _ := r.Data.(map[string]any)
	merged, changed := types.SeedCategories(current[types.CategoriesKey])
	if !changed {
		return types.Result{Status: types.StatusOK, Data: merged, Message: "Categories already seeded."}
	}
	if set := s.Set(ctx, map[string]any{types.CategoriesKey: merged}); !set.IsOK() {
		return set
	}
	return types.Result{Status: types.StatusOK, Data: merged, Message: "Categories seeded."}
}
