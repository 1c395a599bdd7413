// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/marcalink/internal/codec"
	"github.com/pdiddy/marcalink/pkg/types"
)

// Export formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// ProjectExport is a project together with its paper documents.
type ProjectExport struct {
	Project *types.Project `json:"project" yaml:"project"`
	Papers  []*types.Paper `json:"papers" yaml:"papers"`
}

// ExportProject writes project id and its papers to w. It does not depend
// on the active project.
func (s *Store) ExportProject(ctx context.Context, id, format string, w io.Writer) error {
	const op = "export_project"
	p, err := s.LoadProject(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return types.NewError(types.KindNotFound, op, "Project not found.")
	}
	docs, err := s.paperDocsOf(op, p.ID)
	if err != nil {
		return err
	}
	export := ProjectExport{Project: p, Papers: codec.PapersFromDocuments(docs)}

	var data []byte
	switch strings.ToLower(format) {
	case "", FormatYAML:
		data, err = yaml.Marshal(&export)
	case FormatJSON:
		data, err = json.MarshalIndent(&export, "", "  ")
	default:
		return types.NewError(types.KindValidation, op, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return types.WrapError(types.KindBackend, op, fmt.Errorf("marshaling export: %w", err))
	}
	if _, err := w.Write(data); err != nil {
		return types.WrapError(types.KindBackend, op, fmt.Errorf("writing export: %w", err))
	}
	return nil
}
