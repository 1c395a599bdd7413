// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package codec converts between typed records and their JSON document
// form. It performs no I/O.
//
// Decoding is lenient in the ways stored documents drift: collections that
// are not arrays become empty, blank timestamps are dropped, and numeric
// strings are accepted for the publication year.
package codec

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/pdiddy/marcalink/pkg/types"
)

var (
	projectArrays = []string{"researchers", "categorias", "criterios", "fases", "papers"}
	paperArrays   = []string{"authors", "tags", "history"}
	timestampKeys = []string{"createdAt", "updatedAt"}
)

// Merge returns a shallow copy of existing with every field of incoming
// laid over it. Fields absent from incoming survive.
func Merge(existing, incoming types.Document) types.Document {
	merged := make(types.Document, len(existing)+len(incoming))
	maps.Copy(merged, existing)
	maps.Copy(merged, incoming)
	return merged
}

// DecodeDocument parses a JSON object. A JSON null yields a nil document.
func DecodeDocument(raw []byte) (types.Document, error) {
	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// toDocument round-trips v through JSON into a Document.
func toDocument(v any) (types.Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return DecodeDocument(data)
}

func fromDocument(doc types.Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encoding document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// ProjectToDocument encodes p. The transient isCurrent flag is not stored.
func ProjectToDocument(p *types.Project) (types.Document, error) {
	if p == nil {
		return nil, types.NewError(types.KindValidation, "encode_project", "project is nil")
	}
	doc, err := toDocument(p)
	if err != nil {
		return nil, err
	}
	delete(doc, "isCurrent")
	return doc, nil
}

// ProjectFromDocument decodes doc into a Project. When id is non-empty it
// overrides any id stored inside the document, since the storage location
// is authoritative.
func ProjectFromDocument(id string, doc types.Document) (*types.Project, error) {
	if doc == nil {
		return nil, nil
	}
	clean := maps.Clone(doc)
	normalizeArrays(clean, projectArrays...)
	dropBlankTimestamps(clean)
	if papers, ok := clean["papers"].([]any); ok {
		copied := make([]any, len(papers))
		for i, raw := range papers {
			if pd, ok := raw.(map[string]any); ok {
				raw = normalizePaper(maps.Clone(pd))
			}
			copied[i] = raw
		}
		clean["papers"] = copied
	}

	var p types.Project
	if err := fromDocument(clean, &p); err != nil {
		return nil, err
	}
	if id = strings.TrimSpace(id); id != "" {
		p.ID = id
	}
	fillProjectDefaults(&p)
	return &p, nil
}

// PaperToDocument encodes p.
func PaperToDocument(p *types.Paper) (types.Document, error) {
	if p == nil {
		return nil, types.NewError(types.KindValidation, "encode_paper", "paper is nil")
	}
	return toDocument(p)
}

// PaperFromDocument decodes doc into a Paper.
func PaperFromDocument(doc types.Document) (*types.Paper, error) {
	if doc == nil {
		return nil, nil
	}
	var p types.Paper
	if err := fromDocument(normalizePaper(maps.Clone(doc)), &p); err != nil {
		return nil, err
	}
	fillPaperDefaults(&p)
	return &p, nil
}

// PapersFromDocuments decodes a list of paper documents, skipping entries
// that do not decode.
func PapersFromDocuments(docs []types.Document) []*types.Paper {
	papers := make([]*types.Paper, 0, len(docs))
	for _, d := range docs {
		p, err := PaperFromDocument(d)
		if err != nil || p == nil {
			continue
		}
		papers = append(papers, p)
	}
	return papers
}

// normalizePaper cleans doc in place; callers pass a clone.
func normalizePaper(doc types.Document) types.Document {
	normalizeArrays(doc, paperArrays...)
	dropBlankTimestamps(doc)
	switch y := doc["year"].(type) {
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(y)); err == nil {
			doc["year"] = n
		} else {
			doc["year"] = nil
		}
	case float64:
		if y == 0 {
			doc["year"] = nil
		}
	}
	if h, ok := doc["history"].([]any); ok {
		kept := make([]any, 0, len(h))
		for _, e := range h {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			if ts, ok := entry["ts"].(string); ok && strings.TrimSpace(ts) == "" {
				entry = maps.Clone(entry)
				delete(entry, "ts")
			}
			kept = append(kept, entry)
		}
		doc["history"] = kept
	}
	for _, k := range []string{"origin", "status", "iterationId", "criteriaId"} {
		if v, ok := doc[k]; ok && v != nil {
			if _, isString := v.(string); !isString {
				delete(doc, k)
			}
		}
	}
	return doc
}

func normalizeArrays(doc types.Document, keys ...string) {
	for _, k := range keys {
		v, ok := doc[k]
		if !ok {
			continue
		}
		if _, isArray := v.([]any); !isArray {
			doc[k] = []any{}
		}
	}
}

func dropBlankTimestamps(doc types.Document) {
	for _, k := range timestampKeys {
		if s, ok := doc[k].(string); ok && strings.TrimSpace(s) == "" {
			delete(doc, k)
		}
	}
}

func fillProjectDefaults(p *types.Project) {
	if p.Researchers == nil {
		p.Researchers = []string{}
	}
	if p.Categories == nil {
		p.Categories = []types.Category{}
	}
	if p.Criteria == nil {
		p.Criteria = []types.Criterion{}
	}
	if p.Phases == nil {
		p.Phases = []types.Phase{}
	}
	if p.Papers == nil {
		p.Papers = []types.Paper{}
	}
	for i := range p.Categories {
		c := &p.Categories[i]
		if c.Label == "" {
			c.Label = types.Slugify(c.Title)
		}
		c.Phases = orEmpty(c.Phases)
		c.Criteria.AtLeastOne = orEmpty(c.Criteria.AtLeastOne)
		c.Criteria.All = orEmpty(c.Criteria.All)
	}
	for i := range p.Criteria {
		c := &p.Criteria[i]
		if c.Label == "" {
			c.Label = types.Slugify(c.Title)
		}
		c.Phases = orEmpty(c.Phases)
	}
	for i := range p.Phases {
		f := &p.Phases[i]
		if f.Label == "" {
			f.Label = types.Slugify(f.Title)
		}
		f.Categories = orEmpty(f.Categories)
		f.Criteria = orEmpty(f.Criteria)
		f.Papers.Inherited = orEmpty(f.Papers.Inherited)
		f.Papers.New = orEmpty(f.Papers.New)
		f.Papers.Removed = orEmpty(f.Papers.Removed)
		f.Papers.Selected = orEmpty(f.Papers.Selected)
	}
	for i := range p.Papers {
		fillPaperDefaults(&p.Papers[i])
	}
}

func fillPaperDefaults(p *types.Paper) {
	p.Authors = orEmpty(p.Authors)
	p.Tags = orEmpty(p.Tags)
	if p.History == nil {
		p.History = []types.HistoryEntry{}
	}
	if p.Origin == "" {
		p.Origin = types.OriginUnknown
	}
	if p.Status == "" {
		p.Status = types.PaperPending
	}
	if p.ID == "" && p.URL != "" {
		p.ID = types.PaperID(p.URL)
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
