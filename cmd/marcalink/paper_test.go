// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/marcalink/internal/storage"
	"github.com/pdiddy/marcalink/pkg/types"
)

// runOnce stands in for one CLI invocation against dir.
func runOnce(t *testing.T, dir string, fn func(ctx context.Context, s *storage.Service)) {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.Storage.BaseDir = dir
	ctx := context.Background()
	s := storage.New(cfg)
	require.NoError(t, s.Init(ctx))
	defer func() { require.NoError(t, s.Shutdown(ctx)) }()
	fn(ctx, s)
}

func TestSelectedProjectSpansInvocations(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	runOnce(t, dir, func(ctx context.Context, s *storage.Service) {
		require.True(t, s.SaveProject(ctx, types.NewProject("p1", "Survey", at)).IsOK())
		require.True(t, s.OpenProject(ctx, "p1").IsOK())
	})

	paper := types.NewPaper("https://example.org/a.pdf", "I1", at)
	runOnce(t, dir, func(ctx context.Context, s *storage.Service) {
		r := s.SavePaper(ctx, paper)
		assert.Equal(t, types.KindValidation, r.Kind, "the open pointer does not outlive the process")

		r = openSelectedProject(ctx, s, "p1")
		require.True(t, r.IsOK(), r.Message)
		r = s.SavePaper(ctx, paper)
		require.True(t, r.IsOK(), r.Message)
	})

	runOnce(t, dir, func(ctx context.Context, s *storage.Service) {
		require.True(t, openSelectedProject(ctx, s, "p1").IsOK())
		r := s.ListPapers(ctx)
		require.True(t, r.IsOK(), r.Message)
		papers := r.Data.([]*types.Paper)
		require.Len(t, papers, 1)
		assert.Equal(t, paper.ID, papers[0].ID)
	})
}

func TestSelectedProjectMustExist(t *testing.T) {
	runOnce(t, t.TempDir(), func(ctx context.Context, s *storage.Service) {
		r := openSelectedProject(ctx, s, "ghost")
		assert.False(t, r.IsOK())
		assert.Equal(t, types.KindNotFound, r.Kind)

		r = s.ListProjects(ctx)
		require.True(t, r.IsOK())
		assert.Empty(t, r.Data)
	})
}
