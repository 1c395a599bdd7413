// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fsstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/marcalink/pkg/types"
)

// --- test helpers ---

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)
	return s, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func ids(list []types.ProjectSummary) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

// --- projects ---

func TestSaveProjectMergesFields(t *testing.T) {
	tests := []struct {
		name  string
		first types.Document
		then  types.Document
		want  types.Document
	}{
		{
			name:  "disjoint fields survive",
			first: types.Document{"id": "p1", "name": "A", "objective": "X"},
			then:  types.Document{"id": "p1", "description": "D"},
			want:  types.Document{"id": "p1", "name": "A", "objective": "X", "description": "D"},
		},
		{
			name:  "overlapping fields take the later value",
			first: types.Document{"id": "p1", "name": "A", "objective": "X"},
			then:  types.Document{"id": "p1", "name": "B"},
			want:  types.Document{"id": "p1", "name": "B", "objective": "X"},
		},
		{
			name:  "id is trimmed",
			first: types.Document{"id": " p1 ", "name": "A"},
			then:  types.Document{"id": "p1", "objective": "X"},
			want:  types.Document{"id": "p1", "name": "A", "objective": "X"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := testStore(t)
			ctx := context.Background()
			require.NoError(t, s.SaveProjectDoc(ctx, tt.first))
			require.NoError(t, s.SaveProjectDoc(ctx, tt.then))

			got, err := s.LoadProjectDoc(ctx, "p1")
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("merged document mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSaveProjectRejectsBadIDs(t *testing.T) {
	tests := []struct {
		name string
		doc  types.Document
	}{
		{name: "nil document", doc: nil},
		{name: "missing id", doc: types.Document{"name": "x"}},
		{name: "blank id", doc: types.Document{"id": "   "}},
		{name: "path traversal", doc: types.Document{"id": "../etc"}},
		{name: "non-string id", doc: types.Document{"id": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dir := testStore(t)
			err := s.SaveProjectDoc(context.Background(), tt.doc)
			assert.ErrorIs(t, err, types.ErrValidation)
			_, statErr := os.Stat(filepath.Join(dir, configFile))
			assert.True(t, os.IsNotExist(statErr), "nothing written")
		})
	}
}

func TestRegistryStaysUnique(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	for _, name := range []string{"First", "Second", "Third"} {
		require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "p1", "name": name}))
	}
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "p2", "name": "Other", "researchers": []any{"Ana"}}))
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "p1", "researchers": []any{"Bruno"}}))

	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids(list))
	assert.Equal(t, "Third", list[0].Name)
	assert.Equal(t, []string{"Bruno"}, list[0].Researchers)
	assert.Equal(t, []string{"Ana"}, list[1].Researchers)
}

func TestListProjectsDropsDuplicateRowsAndStoredFlags(t *testing.T) {
	s, dir := testStore(t)
	writeFile(t, filepath.Join(dir, configFile), `{
		// edited by hand
		"projects": [
			{"id": "a", "name": "A", "researchers": [], "isCurrent": true},
			{"id": "a", "name": "A again", "researchers": []},
			{"id": "b", "name": "B"},
		],
	}`)

	list, err := s.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Name)
	assert.False(t, list[0].IsCurrent, "stored flag is never trusted")
	assert.NotNil(t, list[1].Researchers)
}

func TestArchiveKeepsFilesDeleteRemovesThem(t *testing.T) {
	s, dir := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "arch", "name": "Archived"}))
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "del", "name": "Deleted"}))

	require.NoError(t, s.ArchiveProject(ctx, "arch"))
	require.NoError(t, s.DeleteProject(ctx, "del"))

	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	doc, err := s.LoadProjectDoc(ctx, "arch")
	require.NoError(t, err)
	assert.Equal(t, "Archived", doc["name"])

	doc, err = s.LoadProjectDoc(ctx, "del")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoDirExists(t, filepath.Join(dir, "del"))
}

func TestDeleteMissingProjectIsNotFound(t *testing.T) {
	s, _ := testStore(t)
	err := s.DeleteProject(context.Background(), "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLoadAbsentProjectIsNil(t *testing.T) {
	s, _ := testStore(t)
	doc, err := s.LoadProjectDoc(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, doc)

	p, err := s.LoadProject(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestActivePointerScope(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	active, err := s.ActiveProjectDoc(ctx)
	require.NoError(t, err)
	assert.Nil(t, active, "nothing open yet")

	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "a", "name": "A"}))
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "b", "name": "B"}))

	_, err = s.OpenProjectDoc(ctx, "a")
	require.NoError(t, err)
	_, err = s.OpenProjectDoc(ctx, "b")
	require.NoError(t, err)

	active, err = s.ActiveProjectDoc(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B", active["name"])

	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	for _, p := range list {
		assert.Equal(t, p.ID == "b", p.IsCurrent, p.ID)
	}
}

func TestActiveProjectIsServedFromMemory(t *testing.T) {
	s, dir := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "a", "name": "A"}))
	_, err := s.OpenProjectDoc(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "a")))

	active, err := s.ActiveProjectDoc(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", active["name"])
}

func TestSaveRefreshesActiveCopy(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "a", "name": "A"}))
	_, err := s.OpenProjectDoc(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "a", "name": "A2"}))

	active, err := s.ActiveProjectDoc(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", active["name"])
}

func TestOpenAbsentProjectYieldsEmptyDocument(t *testing.T) {
	s, _ := testStore(t)
	doc, err := s.OpenProjectDoc(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Empty(t, doc)
	assert.NotNil(t, doc)
	assert.Equal(t, "fresh", s.ActiveProjectID())
}

func TestDeleteActiveProjectClearsPointer(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "a"}))
	_, err := s.OpenProjectDoc(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.DeleteProject(ctx, "a"))
	assert.Empty(t, s.ActiveProjectID())
}

// --- papers ---

func TestSavePaperNeedsProject(t *testing.T) {
	s, dir := testStore(t)
	ctx := context.Background()

	err := s.SavePaperDoc(ctx, types.Document{"id": "url-1"})
	assert.ErrorIs(t, err, types.ErrValidation)

	require.NoError(t, s.SavePaperDoc(ctx, types.Document{"id": "url-1", "projectID": "inline"}))
	assert.FileExists(t, filepath.Join(dir, "inline", papersDir, "url-1.json"))
}

func TestPaperCRUDUnderActiveProject(t *testing.T) {
	s, dir := testStore(t)
	ctx := context.Background()
	_, err := s.OpenProjectDoc(ctx, "proj")
	require.NoError(t, err)

	require.NoError(t, s.SavePaperDoc(ctx, types.Document{"id": "url-a", "title": "A"}))
	require.NoError(t, s.SavePaperDoc(ctx, types.Document{"id": "url-b", "title": "B"}))
	// a stale id inside the file is replaced by the file name
	writeFile(t, filepath.Join(dir, "proj", papersDir, "url-c.json"), `{"id": "stale", "title": "C"}`)
	writeFile(t, filepath.Join(dir, "proj", papersDir, "notes.txt"), "ignored")

	doc, err := s.LoadPaperDoc(ctx, "url-a")
	require.NoError(t, err)
	assert.Equal(t, "A", doc["title"])

	docs, err := s.ListPaperDocs(ctx)
	require.NoError(t, err)
	got := map[string]any{}
	for _, d := range docs {
		got[d["id"].(string)] = d["title"]
	}
	assert.Equal(t, map[string]any{"url-a": "A", "url-b": "B", "url-c": "C"}, got)

	require.NoError(t, s.DeletePaper(ctx, "url-a"))
	doc, err = s.LoadPaperDoc(ctx, "url-a")
	require.NoError(t, err)
	assert.Nil(t, doc)

	assert.ErrorIs(t, s.DeletePaper(ctx, "url-a"), types.ErrNotFound)
}

func TestListPapersWithoutDirectoryIsEmpty(t *testing.T) {
	s, _ := testStore(t)
	_, err := s.OpenProjectDoc(context.Background(), "empty")
	require.NoError(t, err)

	docs, err := s.ListPaperDocs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NotNil(t, docs)
}

// --- settings ---

func TestSettingsBag(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "p1"}))

	require.NoError(t, s.Set(ctx, map[string]any{"theme": "dark", "lang": "pt"}))
	require.NoError(t, s.Set(ctx, map[string]any{"theme": "light"}))

	all, err := s.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "light", "lang": "pt"}, all)

	some, err := s.Get(ctx, []string{"lang", "missing", "projects"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "pt"}, some)

	list, err := s.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids(list), "settings writes keep the registry")
}

func TestSetRejectsRegistryKey(t *testing.T) {
	s, _ := testStore(t)
	err := s.Set(context.Background(), map[string]any{"projects": []any{}})
	assert.ErrorIs(t, err, types.ErrValidation)
}

// --- typed adapters ---

func TestTypedProjectRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	p := types.NewProject("tcc", "Meu TCC", now)
	p.Researchers = []string{"Ana"}
	require.NoError(t, s.SaveProject(ctx, p))

	require.NoError(t, s.UpdateProject(ctx, "tcc", map[string]any{"objective": "Mapear"}))
	assert.ErrorIs(t, s.UpdateProject(ctx, "tcc", map[string]any{"id": "other"}), types.ErrValidation)

	got, err := s.LoadProject(ctx, "tcc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Meu TCC", got.Name)
	assert.Equal(t, "Mapear", got.Objective)
	assert.Equal(t, []string{"Ana"}, got.Researchers)

	opened, err := s.OpenProject(ctx, "tcc")
	require.NoError(t, err)
	assert.Equal(t, "tcc", opened.ID)

	active, err := s.ActiveProject(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.True(t, active.IsCurrent)
}

func TestTypedPapers(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.OpenProject(ctx, "tcc")
	require.NoError(t, err)

	paper := types.NewPaper("https://example.org/x?casa_token=abc", "I1", now)
	paper.Mark("Seed", now)
	require.NoError(t, s.SavePaper(ctx, paper))
	assert.ErrorIs(t, s.SavePaper(ctx, nil), types.ErrValidation)

	got, err := s.LoadPaper(ctx, paper.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.OriginSeed, got.Origin)
	assert.Len(t, got.History, 1)

	list, err := s.ListPapers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "https://example.org/x", list[0].URL)
}

func TestExportProject(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveProjectDoc(ctx, types.Document{"id": "exp", "name": "Exported"}))
	require.NoError(t, s.SavePaperDoc(ctx, types.Document{"id": "url-1", "title": "Only", "projectID": "exp"}))

	var buf bytes.Buffer
	require.NoError(t, s.ExportProject(ctx, "exp", FormatYAML, &buf))
	assert.Contains(t, buf.String(), "name: Exported")
	assert.Contains(t, buf.String(), "title: Only")

	buf.Reset()
	require.NoError(t, s.ExportProject(ctx, "exp", FormatJSON, &buf))
	assert.Contains(t, buf.String(), `"name": "Exported"`)

	assert.ErrorIs(t, s.ExportProject(ctx, "missing", FormatYAML, &buf), types.ErrNotFound)
	assert.ErrorIs(t, s.ExportProject(ctx, "exp", "xml", &buf), types.ErrValidation)
}
