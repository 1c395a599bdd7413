// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dispatch

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/pdiddy/marcalink/internal/protocol"
	"github.com/pdiddy/marcalink/pkg/types"
)

// Store is the document-level backend the handlers act on.
type Store interface {
	OpenProjectDoc(ctx context.Context, id string) (types.Document, error)
	ActiveProjectDoc(ctx context.Context) (types.Document, error)
	SaveProjectDoc(ctx context.Context, doc types.Document) error
	LoadProjectDoc(ctx context.Context, id string) (types.Document, error)
	ListProjects(ctx context.Context) ([]types.ProjectSummary, error)
	DeleteProject(ctx context.Context, id string) error
	ArchiveProject(ctx context.Context, id string) error
	SavePaperDoc(ctx context.Context, doc types.Document) error
	LoadPaperDoc(ctx context.Context, id string) (types.Document, error)
	DeletePaper(ctx context.Context, id string) error
	ListPaperDocs(ctx context.Context) ([]types.Document, error)
	Get(ctx context.Context, keys []string) (map[string]any, error)
	Set(ctx context.Context, items map[string]any) error
}

var jsonNull = json.RawMessage("null")

// Register installs a handler for every action in the catalog.
func Register(d *Dispatcher, s Store) {
	d.Handle(protocol.ActOpenProject, func(ctx context.Context, payload json.RawMessage) (any, error) {
		id, err := projectID(protocol.ActOpenProject, payload)
		if err != nil {
			return nil, err
		}
		doc, err := s.OpenProjectDoc(ctx, id)
		if err != nil {
			return nil, err
		}
		return protocol.Data{Data: doc}, nil
	})

	d.Handle(protocol.ActGetActiveProject, func(ctx context.Context, _ json.RawMessage) (any, error) {
		doc, err := s.ActiveProjectDoc(ctx)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return jsonNull, nil
		}
		return doc, nil
	})

	d.Handle(protocol.ActSaveProject, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var p protocol.SaveProject
		if err := decode(protocol.ActSaveProject, payload, &p); err != nil {
			return nil, err
		}
		id, err := protocol.ValidateProjectID(protocol.ActSaveProject, p.ProjectID)
		if err != nil {
			return nil, err
		}
		doc := maps.Clone(p.Data)
		if doc == nil {
			doc = types.Document{}
		}
		doc["id"] = id
		if err := s.SaveProjectDoc(ctx, doc); err != nil {
			return nil, err
		}
		return protocol.Message{Message: "Project saved."}, nil
	})

	d.Handle(protocol.ActLoadProject, func(ctx context.Context, payload json.RawMessage) (any, error) {
		id, err := projectID(protocol.ActLoadProject, payload)
		if err != nil {
			return nil, err
		}
		doc, err := s.LoadProjectDoc(ctx, id)
		if err != nil {
			return nil, err
		}
		return protocol.Data{Data: doc}, nil
	})

	d.Handle(protocol.ActListProjects, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.ListProjects(ctx)
	})

	d.Handle(protocol.ActDeleteProject, func(ctx context.Context, payload json.RawMessage) (any, error) {
		id, err := projectID(protocol.ActDeleteProject, payload)
		if err != nil {
			return nil, err
		}
		if err := s.DeleteProject(ctx, id); err != nil {
			return nil, err
		}
		return protocol.Message{Message: "Project deleted."}, nil
	})

	d.Handle(protocol.ActArchiveProject, func(ctx context.Context, payload json.RawMessage) (any, error) {
		id, err := projectID(protocol.ActArchiveProject, payload)
		if err != nil {
			return nil, err
		}
		if err := s.ArchiveProject(ctx, id); err != nil {
			return nil, err
		}
		return protocol.Message{Message: "Project archived."}, nil
	})

	d.Handle(protocol.ActSavePaper, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var p protocol.SavePaper
		if err := decode(protocol.ActSavePaper, payload, &p); err != nil {
			return nil, err
		}
		id, err := protocol.ValidatePaperID(protocol.ActSavePaper, p.PaperID)
		if err != nil {
			return nil, err
		}
		doc := maps.Clone(p.Data)
		if doc == nil {
			doc = types.Document{}
		}
		doc["id"] = id
		if _, ok := doc["projectID"]; !ok && p.ProjectID != "" {
			doc["projectID"] = p.ProjectID
		}
		if err := s.SavePaperDoc(ctx, doc); err != nil {
			return nil, err
		}
		return protocol.Message{Message: "Paper saved."}, nil
	})

	d.Handle(protocol.ActLoadPaper, func(ctx context.Context, payload json.RawMessage) (any, error) {
		id, err := paperID(protocol.ActLoadPaper, payload)
		if err != nil {
			return nil, err
		}
		doc, err := s.LoadPaperDoc(ctx, id)
		if err != nil {
			return nil, err
		}
		return protocol.Data{Data: doc}, nil
	})

	d.Handle(protocol.ActDeletePaper, func(ctx context.Context, payload json.RawMessage) (any, error) {
		id, err := paperID(protocol.ActDeletePaper, payload)
		if err != nil {
			return nil, err
		}
		if err := s.DeletePaper(ctx, id); err != nil {
			return nil, err
		}
		return protocol.Message{Message: "Paper deleted."}, nil
	})

	d.Handle(protocol.ActListPapers, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.ListPaperDocs(ctx)
	})

	d.Handle(protocol.ActStorageGet, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var p protocol.Keys
		if err := decode(protocol.ActStorageGet, payload, &p); err != nil {
			return nil, err
		}
		data, err := s.Get(ctx, p.Keys)
		if err != nil {
			return nil, err
		}
		return protocol.Data{Data: data}, nil
	})

	d.Handle(protocol.ActStorageSet, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var p protocol.Items
		if err := decode(protocol.ActStorageSet, payload, &p); err != nil {
			return nil, err
		}
		if err := s.Set(ctx, p.Items); err != nil {
			return nil, err
		}
		return protocol.Message{Message: "Data saved."}, nil
	})
}

func projectID(act string, payload json.RawMessage) (string, error) {
	var ref protocol.ProjectRef
	if err := decode(act, payload, &ref); err != nil {
		return "", err
	}
	return protocol.ValidateProjectID(act, ref.ProjectID)
}

func paperID(act string, payload json.RawMessage) (string, error) {
	var ref protocol.PaperRef
	if err := decode(act, payload, &ref); err != nil {
		return "", err
	}
	return protocol.ValidatePaperID(act, ref.PaperID)
}
