// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fsstore

import (
	"context"
	"maps"
	"strings"

	"github.com/pdiddy/marcalink/internal/codec"
	"github.com/pdiddy/marcalink/pkg/types"
)

// SaveProject encodes p and saves it with merge semantics.
func (s *Store) SaveProject(ctx context.Context, p *types.Project) error {
	doc, err := codec.ProjectToDocument(p)
	if err != nil {
		return err
	}
	return s.SaveProjectDoc(ctx, doc)
}

// UpdateProject merges fields into the stored project id. The id itself
// cannot be changed.
func (s *Store) UpdateProject(ctx context.Context, id string, fields map[string]any) error {
	const op = "update_project"
	id, err := checkID(op, "project", id)
	if err != nil {
		return err
	}
	if other, ok := fields["id"].(string); ok && strings.TrimSpace(other) != id {
		return types.NewError(types.KindValidation, op, "project id is immutable")
	}
	doc := maps.Clone(fields)
	if doc == nil {
		doc = types.Document{}
	}
	delete(doc, "isCurrent")
	doc["id"] = id
	return s.SaveProjectDoc(ctx, doc)
}

// LoadProject returns the stored project, or nil if absent.
func (s *Store) LoadProject(ctx context.Context, id string) (*types.Project, error) {
	doc, err := s.LoadProjectDoc(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return decodeProject("load_project", strings.TrimSpace(id), doc)
}

// OpenProject sets the active project and returns it.
func (s *Store) OpenProject(ctx context.Context, id string) (*types.Project, error) {
	doc, err := s.OpenProjectDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeProject("open_project", strings.TrimSpace(id), doc)
}

// ActiveProject returns the open project, or nil.
func (s *Store) ActiveProject(ctx context.Context) (*types.Project, error) {
	doc, err := s.ActiveProjectDoc(ctx)
	if err != nil || doc == nil {
		return nil, err
	}
	p, err := decodeProject("get_active_project", s.ActiveProjectID(), doc)
	if p != nil {
		p.IsCurrent = true
	}
	return p, err
}

// SavePaper encodes p and writes it under the active project.
func (s *Store) SavePaper(ctx context.Context, p *types.Paper) error {
	doc, err := codec.PaperToDocument(p)
	if err != nil {
		return err
	}
	return s.SavePaperDoc(ctx, doc)
}

// LoadPaper returns a paper of the active project, or nil if absent.
func (s *Store) LoadPaper(ctx context.Context, id string) (*types.Paper, error) {
	doc, err := s.LoadPaperDoc(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	p, err := codec.PaperFromDocument(doc)
	if err != nil {
		return nil, types.WrapError(types.KindBackend, "load_paper", err)
	}
	return p, nil
}

// ListPapers returns the papers of the active project.
func (s *Store) ListPapers(ctx context.Context) ([]*types.Paper, error) {
	docs, err := s.ListPaperDocs(ctx)
	if err != nil {
		return nil, err
	}
	return codec.PapersFromDocuments(docs), nil
}

func decodeProject(op, id string, doc types.Document) (*types.Project, error) {
	p, err := codec.ProjectFromDocument(id, doc)
	if err != nil {
		return nil, types.WrapError(types.KindBackend, op, err)
	}
	return p, nil
}
