// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fsstore is the durable storage backend. It keeps one JSON
// document per record under a base directory:
//
//	<baseDir>/config.json                       registry and settings
//	<baseDir>/<projectID>/project.json          project document
//	<baseDir>/<projectID>/papers/<paperID>.json one document per paper
//
// It also tracks the in-memory active project, which is never persisted.
package fsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/pdiddy/marcalink/internal/codec"
	"github.com/pdiddy/marcalink/pkg/types"
)

const (
	configFile  = "config.json"
	projectFile = "project.json"
	papersDir   = "papers"
	registryKey = types.RegistryKey
	docExt      = ".json"
)

// Store is the filesystem backend. The read-merge-write of SaveProjectDoc
// is not serialized: concurrent saves to one project are last-write-wins.
// Only the active project pointer is guarded.
type Store struct {
	baseDir string
	logger  *log.Logger

	mu        sync.RWMutex
	activeID  string
	activeDoc types.Document
}

// New opens a store rooted at baseDir, creating the directory if needed.
func New(baseDir string, logger *log.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, types.NewError(types.KindValidation, "open_store", "base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, types.WrapError(types.KindBackend, "open_store", fmt.Errorf("creating base directory: %w", err))
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

// BaseDir returns the data directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Active reports whether the store can serve requests. A filesystem store
// is always active.
func (s *Store) Active() bool {
	return true
}

// Close releases nothing; it exists to satisfy the backend contract.
func (s *Store) Close() error {
	return nil
}

// checkID trims and validates a project or paper identifier.
func checkID(op, kind, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", types.NewError(types.KindValidation, op, fmt.Sprintf("%s id is required", kind))
	}
	if !types.ValidID(id) {
		return "", types.NewError(types.KindValidation, op,
			fmt.Sprintf("invalid %s id %q: use only letters, numbers, dots, underscores, and hyphens", kind, id))
	}
	return id, nil
}

// readDoc reads the document at rel. A missing file yields (nil, nil).
// Hand-edited files may contain comments and trailing commas.
func (s *Store) readDoc(rel string) (types.Document, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", rel, err)
	}
	doc, err := codec.DecodeDocument(std)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", rel, err)
	}
	return doc, nil
}

// writeDoc writes doc to rel atomically, creating parent directories.
func (s *Store) writeDoc(rel string, doc types.Document) error {
	full := filepath.Join(s.baseDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", rel, err)
	}
	if err := atomic.WriteFile(full, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}

func projectRel(id string) string {
	return filepath.Join(id, projectFile)
}

func paperRel(projectID, paperID string) string {
	return filepath.Join(projectID, papersDir, paperID+docExt)
}

// --- registry ---

type registry struct {
	doc      types.Document
	projects []types.ProjectSummary
}

func (s *Store) readRegistry() (*registry, error) {
	doc, err := s.readDoc(configFile)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = types.Document{}
	}
	reg := &registry{doc: doc}
	if raw, ok := doc[registryKey]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encoding registry: %w", err)
		}
		if err := json.Unmarshal(data, &reg.projects); err != nil {
			s.logger.Warn("registry project list is malformed, starting empty", "err", err)
			reg.projects = nil
		}
	}
	return reg, nil
}

func (s *Store) writeRegistry(reg *registry) error {
	rows := make([]types.Document, 0, len(reg.projects))
	for _, p := range reg.projects {
		researchers := p.Researchers
		if researchers == nil {
			researchers = []string{}
		}
		rows = append(rows, types.Document{"id": p.ID, "name": p.Name, "researchers": researchers})
	}
	reg.doc[registryKey] = rows
	return s.writeDoc(configFile, reg.doc)
}

func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out, true
	}
	return nil, false
}

// --- projects ---

// SaveProjectDoc merges doc over the stored project document and updates
// the registry. Fields missing from doc keep their stored values.
func (s *Store) SaveProjectDoc(ctx context.Context, doc types.Document) error {
	const op = "save_project"
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return types.NewError(types.KindValidation, op, "Project JSON must include an id.")
	}
	rawID, _ := doc["id"].(string)
	id, err := checkID(op, "project", rawID)
	if err != nil {
		return err
	}

	existing, err := s.readDoc(projectRel(id))
	if err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}
	merged := codec.Merge(existing, doc)
	merged["id"] = id
	if err := s.writeDoc(projectRel(id), merged); err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}

	reg, err := s.readRegistry()
	if err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}
	name, _ := merged["name"].(string)
	researchers, hasResearchers := stringList(merged["researchers"])
	idx := slices.IndexFunc(reg.projects, func(p types.ProjectSummary) bool { return p.ID == id })
	if idx == -1 {
		reg.projects = append(reg.projects, types.ProjectSummary{ID: id, Name: name, Researchers: researchers})
	} else {
		if name != "" {
			reg.projects[idx].Name = name
		}
		if hasResearchers {
			reg.projects[idx].Researchers = researchers
		}
	}
	if err := s.writeRegistry(reg); err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}

	s.mu.Lock()
	if s.activeID == id {
		s.activeDoc = merged
	}
	s.mu.Unlock()

	s.logger.Debug("project saved", "project", id)
	return nil
}

// LoadProjectDoc returns the stored project document, or nil if absent.
func (s *Store) LoadProjectDoc(ctx context.Context, id string) (types.Document, error) {
	const op = "load_project"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := checkID(op, "project", id)
	if err != nil {
		return nil, err
	}
	doc, err := s.readDoc(projectRel(id))
	if err != nil {
		return nil, types.WrapError(types.KindBackend, op, err)
	}
	return doc, nil
}

// OpenProjectDoc makes id the active project and caches its document. A
// project with no document yet opens with an empty document.
func (s *Store) OpenProjectDoc(ctx context.Context, id string) (types.Document, error) {
	const op = "open_project"
	doc, err := s.LoadProjectDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if doc == nil {
		doc = types.Document{}
	}
	s.mu.Lock()
	s.activeID = id
	s.activeDoc = doc
	s.mu.Unlock()
	s.logger.Info("project opened", "op", op, "project", id)
	return doc, nil
}

// ActiveProjectDoc returns the cached document of the open project, or nil
// when none is open. It does not touch disk.
func (s *Store) ActiveProjectDoc(ctx context.Context) (types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeDoc, nil
}

// ActiveProjectID returns the open project id, or "".
func (s *Store) ActiveProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// ArchiveProject removes id from the registry and leaves its files on disk.
func (s *Store) ArchiveProject(ctx context.Context, id string) error {
	const op = "archive_project"
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := checkID(op, "project", id)
	if err != nil {
		return err
	}
	reg, err := s.readRegistry()
	if err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}
	reg.projects = slices.DeleteFunc(reg.projects, func(p types.ProjectSummary) bool { return p.ID == id })
	if err := s.writeRegistry(reg); err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}
	s.logger.Info("project archived", "project", id)
	return nil
}

// DeleteProject archives id and, only once that succeeded, removes its
// directory tree. A project without a directory is reported not found.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	const op = "delete_project"
	if err := s.ArchiveProject(ctx, id); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	full := filepath.Join(s.baseDir, id)
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return types.NewError(types.KindNotFound, op, "Project not found.")
	}
	if err := os.RemoveAll(full); err != nil {
		return types.WrapError(types.KindBackend, op, fmt.Errorf("removing project directory: %w", err))
	}

	s.mu.Lock()
	if s.activeID == id {
		s.activeID = ""
		s.activeDoc = nil
	}
	s.mu.Unlock()

	s.logger.Info("project deleted", "project", id)
	return nil
}

// ListProjects returns the registry rows with IsCurrent recomputed from the
// active project pointer. Duplicate ids keep their first row.
func (s *Store) ListProjects(ctx context.Context) ([]types.ProjectSummary, error) {
	const op = "list_projects"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reg, err := s.readRegistry()
	if err != nil {
		return nil, types.WrapError(types.KindBackend, op, err)
	}
	active := s.ActiveProjectID()
	seen := make(map[string]bool, len(reg.projects))
	out := make([]types.ProjectSummary, 0, len(reg.projects))
	for _, p := range reg.projects {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if p.Researchers == nil {
			p.Researchers = []string{}
		}
		p.IsCurrent = active != "" && p.ID == active
		out = append(out, p)
	}
	return out, nil
}

// --- papers ---

// paperProject resolves the project a paper operation applies to: the
// active project, else the inline fallback.
func (s *Store) paperProject(op, fallback string) (string, error) {
	if id := s.ActiveProjectID(); id != "" {
		return id, nil
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return checkID(op, "project", fallback)
	}
	return "", types.NewError(types.KindValidation, op, "No project is currently open.")
}

// SavePaperDoc writes doc as a paper of the active project, or of the
// project named by its projectID field when none is open.
func (s *Store) SavePaperDoc(ctx context.Context, doc types.Document) error {
	const op = "save_paper"
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return types.NewError(types.KindValidation, op, "Paper JSON must include an id.")
	}
	rawID, _ := doc["id"].(string)
	paperID, err := checkID(op, "paper", rawID)
	if err != nil {
		return err
	}
	inline, _ := doc["projectID"].(string)
	projectID, err := s.paperProject(op, inline)
	if err != nil {
		return err
	}
	if err := s.writeDoc(paperRel(projectID, paperID), doc); err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}
	s.logger.Debug("paper saved", "project", projectID, "paper", paperID)
	return nil
}

// LoadPaperDoc returns a paper document of the active project, or nil if absent.
func (s *Store) LoadPaperDoc(ctx context.Context, id string) (types.Document, error) {
	const op = "load_paper"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	paperID, err := checkID(op, "paper", id)
	if err != nil {
		return nil, err
	}
	projectID, err := s.paperProject(op, "")
	if err != nil {
		return nil, err
	}
	doc, err := s.readDoc(paperRel(projectID, paperID))
	if err != nil {
		return nil, types.WrapError(types.KindBackend, op, err)
	}
	return doc, nil
}

// DeletePaper removes a paper document of the active project.
func (s *Store) DeletePaper(ctx context.Context, id string) error {
	const op = "delete_paper"
	if err := ctx.Err(); err != nil {
		return err
	}
	paperID, err := checkID(op, "paper", id)
	if err != nil {
		return err
	}
	projectID, err := s.paperProject(op, "")
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, paperRel(projectID, paperID))); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.NewError(types.KindNotFound, op, "Paper not found.")
		}
		return types.WrapError(types.KindBackend, op, err)
	}
	s.logger.Debug("paper deleted", "project", projectID, "paper", paperID)
	return nil
}

// ListPaperDocs returns every paper document of the active project with
// its id taken from the file name. Unreadable files are skipped.
func (s *Store) ListPaperDocs(ctx context.Context) ([]types.Document, error) {
	const op = "list_papers"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	projectID, err := s.paperProject(op, "")
	if err != nil {
		return nil, err
	}
	return s.paperDocsOf(op, projectID)
}

func (s *Store) paperDocsOf(op, projectID string) ([]types.Document, error) {
	dir := filepath.Join(projectID, papersDir)
	entries, err := os.ReadDir(filepath.Join(s.baseDir, dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []types.Document{}, nil
		}
		return nil, types.WrapError(types.KindBackend, op, err)
	}

	docs := make([]types.Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), docExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), docExt)
		doc, err := s.readDoc(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable paper", "project", projectID, "paper", id, "err", err)
			continue
		}
		if doc == nil {
			doc = types.Document{}
		}
		doc["id"] = id
		docs = append(docs, doc)
	}
	return docs, nil
}

// --- settings ---

// Get returns the requested settings. With no keys it returns the whole
// settings bag. Missing keys are omitted.
func (s *Store) Get(ctx context.Context, keys []string) (map[string]any, error) {
	const op = "storage_get"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reg, err := s.readRegistry()
	if err != nil {
		return nil, types.WrapError(types.KindBackend, op, err)
	}
	out := make(map[string]any)
	if len(keys) == 0 {
		for k, v := range reg.doc {
			if k != registryKey {
				out[k] = v
			}
		}
		return out, nil
	}
	for _, k := range keys {
		if k == registryKey {
			continue
		}
		if v, ok := reg.doc[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set merges items into the settings bag. The registry key is reserved.
func (s *Store) Set(ctx context.Context, items map[string]any) error {
	const op = "storage_set"
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	if err := types.CheckSettings(op, items); err != nil {
		return err
	}
	reg, err := s.readRegistry()
	if err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}
	for k, v := range items {
		reg.doc[k] = v
	}
	// Rewrite the registry rows in their canonical shape along with the bag.
	if err := s.writeRegistry(reg); err != nil {
		return types.WrapError(types.KindBackend, op, err)
	}
	return nil
}
