// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package codec

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/marcalink/pkg/types"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestMerge(t *testing.T) {
	tests := []struct {
		name     string
		existing types.Document
		incoming types.Document
		want     types.Document
	}{
		{
			name:     "disjoint fields are kept",
			existing: types.Document{"id": "p1", "name": "Old"},
			incoming: types.Document{"description": "new"},
			want:     types.Document{"id": "p1", "name": "Old", "description": "new"},
		},
		{
			name:     "incoming wins on overlap",
			existing: types.Document{"id": "p1", "name": "Old", "objective": "keep"},
			incoming: types.Document{"name": "New"},
			want:     types.Document{"id": "p1", "name": "New", "objective": "keep"},
		},
		{
			name:     "empty existing",
			existing: nil,
			incoming: types.Document{"id": "p1"},
			want:     types.Document{"id": "p1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.existing, tt.incoming)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	existing := types.Document{"name": "Old"}
	incoming := types.Document{"name": "New"}
	Merge(existing, incoming)
	assert.Equal(t, "Old", existing["name"])
}

func TestProjectRoundTrip(t *testing.T) {
	p := types.NewProject("tcc-001", "Meu TCC", fixedNow)
	p.Researchers = []string{"Ana", "Bruno"}
	color := "#4CAF50"
	p.Categories = []types.Category{{Title: "Seed Papers", Color: &color}}
	p.Phases = []types.Phase{{Title: "Fase 1", Done: true}}
	p.IsCurrent = true

	doc, err := ProjectToDocument(p)
	require.NoError(t, err)
	assert.NotContains(t, doc, "isCurrent")
	assert.Contains(t, doc, "categorias")
	assert.Contains(t, doc, "fases")

	got, err := ProjectFromDocument("", doc)
	require.NoError(t, err)

	assert.Equal(t, "tcc-001", got.ID)
	assert.Equal(t, []string{"Ana", "Bruno"}, got.Researchers)
	require.Len(t, got.Categories, 1)
	assert.Equal(t, "seed-papers", got.Categories[0].Label)
	assert.Equal(t, "#4CAF50", *got.Categories[0].Color)
	assert.Equal(t, "fase-1", got.Phases[0].Label)
	assert.True(t, got.CreatedAt.Equal(fixedNow))
	assert.False(t, got.IsCurrent)
}

func TestProjectFromDocumentLenient(t *testing.T) {
	doc := types.Document{
		"id":          "stored-id",
		"name":        "Legacy",
		"researchers": "Ana",
		"categorias":  map[string]any{"Seed": "#fff"},
		"createdAt":   "",
		"papers": []any{
			map[string]any{"url": "https://example.org/a", "year": "2019", "tags": nil},
		},
	}

	p, err := ProjectFromDocument("dir-id", doc)
	require.NoError(t, err)

	assert.Equal(t, "dir-id", p.ID, "directory id overrides stored id")
	assert.Empty(t, p.Researchers)
	assert.NotNil(t, p.Researchers)
	assert.Empty(t, p.Categories)
	assert.True(t, p.CreatedAt.IsZero())
	require.Len(t, p.Papers, 1)
	require.NotNil(t, p.Papers[0].Year)
	assert.Equal(t, 2019, *p.Papers[0].Year)
	assert.Equal(t, types.PaperID("https://example.org/a"), p.Papers[0].ID)

	// the caller's document is untouched
	assert.Equal(t, "Ana", doc["researchers"])
	paperDoc := doc["papers"].([]any)[0].(map[string]any)
	assert.Equal(t, "2019", paperDoc["year"])
}

func TestProjectFromDocumentNil(t *testing.T) {
	p, err := ProjectFromDocument("x", nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPaperRoundTrip(t *testing.T) {
	p := types.NewPaper("https://example.org/paper.pdf", "I1", fixedNow)
	p.Mark("Backward", fixedNow.Add(time.Minute))
	require.NoError(t, p.SetStatus(types.PaperIncluded, "cli", fixedNow.Add(2*time.Minute)))

	doc, err := PaperToDocument(p)
	require.NoError(t, err)

	got, err := PaperFromDocument(doc)
	require.NoError(t, err)

	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPaperFromDocumentDefaults(t *testing.T) {
	tests := []struct {
		name       string
		doc        types.Document
		wantOrigin types.Origin
		wantStatus types.PaperStatus
		wantYear   *int
	}{
		{
			name:       "missing origin and status",
			doc:        types.Document{"id": "a"},
			wantOrigin: types.OriginUnknown,
			wantStatus: types.PaperPending,
		},
		{
			name:       "non-numeric year becomes null",
			doc:        types.Document{"id": "a", "year": "n.d.", "status": "included"},
			wantOrigin: types.OriginUnknown,
			wantStatus: types.PaperIncluded,
		},
		{
			name:       "non-string status is dropped",
			doc:        types.Document{"id": "a", "status": 3, "origin": "seed"},
			wantOrigin: types.OriginSeed,
			wantStatus: types.PaperPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := PaperFromDocument(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrigin, p.Origin)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantYear, p.Year)
			assert.NotNil(t, p.History)
		})
	}
}

func TestPapersFromDocumentsSkipsUndecodable(t *testing.T) {
	docs := []types.Document{
		{"id": "ok", "title": "Fine"},
		{"id": "bad", "createdAt": "not a time"},
	}
	papers := PapersFromDocuments(docs)
	require.Len(t, papers, 1)
	assert.Equal(t, "ok", papers[0].ID)
}

func TestEncodeNil(t *testing.T) {
	_, err := ProjectToDocument(nil)
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = PaperToDocument(nil)
	assert.ErrorIs(t, err, types.ErrValidation)
}
