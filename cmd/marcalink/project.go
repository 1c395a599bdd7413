// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/marcalink/internal/storage"
	"github.com/pdiddy/marcalink/pkg/types"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage research projects",
	Long: `Project lists, creates, opens, archives, deletes and exports research
projects. Paper commands operate on the project given by --project or,
in remote mode, on the server's open project.`,
}

// --- list ---

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			r := s.ListProjects(ctx)
			return report(cmd, r, func(w io.Writer) error {
				list, _ := r.Data.([]types.ProjectSummary)
				if len(list) == 0 {
					fmt.Fprintln(w, "No projects.")
					return nil
				}
				fmt.Fprintf(w, "%-1s  %-24s  %-32s  %s\n", "", "ID", "Name", "Researchers")
				rule(w, 90)
				for _, p := range list {
					mark := ""
					if p.IsCurrent {
						mark = "*"
					}
					fmt.Fprintf(w, "%-1s  %-24s  %-32s  %s\n",
						mark, truncate(p.ID, 24), truncate(p.Name, 32), strings.Join(p.Researchers, ", "))
				}
				return nil
			})
		})
	},
}

// --- show / open / active ---

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			r := s.LoadProject(ctx, args[0])
			return report(cmd, r, printProject(r, "Project not found."))
		})
	},
}

var projectOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Open a project so paper commands apply to it",
	Long: `Open makes the project active. Opening an id that was never saved
starts an empty project under that id.

The active project lives in the process holding the store. In remote mode
that is the server, so it persists across commands. In filesystem mode it
ends with this command; pass --project to paper commands instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			r := s.OpenProject(ctx, args[0])
			return report(cmd, r, printProject(r, ""))
		})
	},
}

var projectActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the open project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			r := s.GetActiveProject(ctx)
			return report(cmd, r, printProject(r, "No project is open."))
		})
	},
}

func printProject(r types.Result, absent string) func(io.Writer) error {
	return func(w io.Writer) error {
		p, _ := r.Data.(*types.Project)
		if p == nil {
			fmt.Fprintln(w, absent)
			return nil
		}
		fmt.Fprintf(w, "ID:          %s\n", p.ID)
		fmt.Fprintf(w, "Name:        %s\n", p.Name)
		if p.Description != "" {
			fmt.Fprintf(w, "Description: %s\n", p.Description)
		}
		if len(p.Researchers) > 0 {
			fmt.Fprintf(w, "Researchers: %s\n", strings.Join(p.Researchers, ", "))
		}
		if p.Objective != "" {
			fmt.Fprintf(w, "Objective:   %s\n", p.Objective)
		}
		fmt.Fprintf(w, "Categories:  %d\n", len(p.Categories))
		fmt.Fprintf(w, "Criteria:    %d\n", len(p.Criteria))
		fmt.Fprintf(w, "Phases:      %d\n", len(p.Phases))
		if !p.UpdatedAt.IsZero() {
			fmt.Fprintf(w, "Updated:     %s\n", p.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	}
}

// --- save ---

var projectSaveCmd = &cobra.Command{
	Use:   "save <id>",
	Short: "Create a project or update its fields",
	Long: `Save creates the project when it does not exist. For an existing
project only the flags given are written; other fields are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := map[string]any{}
		for flag, key := range map[string]string{
			"name":        "name",
			"description": "description",
			"objective":   "objective",
			"criteria":    "criteria",
		} {
			if cmd.Flags().Changed(flag) {
				v, _ := cmd.Flags().GetString(flag)
				fields[key] = v
			}
		}
		if cmd.Flags().Changed("researcher") {
			rs, _ := cmd.Flags().GetStringSlice("researcher")
			fields["researchers"] = rs
		}

		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			existing := s.LoadProject(ctx, args[0])
			if !existing.IsOK() {
				return report(cmd, existing, nil)
			}
			now := time.Now()
			if existing.Data == nil {
				name, _ := fields["name"].(string)
				if name == "" {
					name = args[0]
				}
				p := types.NewProject(args[0], name, now)
				p.Description, _ = fields["description"].(string)
				p.Objective, _ = fields["objective"].(string)
				p.CriteriaText, _ = fields["criteria"].(string)
				if rs, ok := fields["researchers"].([]string); ok {
					p.Researchers = rs
				}
				return report(cmd, s.SaveProject(ctx, p), nil)
			}
			fields["updatedAt"] = now.UTC().Format(time.RFC3339Nano)
			return report(cmd, s.UpdateProject(ctx, args[0], fields), nil)
		})
	},
}

// --- archive / delete ---

var projectArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Remove a project from the registry but keep its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			return report(cmd, s.ArchiveProject(ctx, args[0]), nil)
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Archive a project and remove its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to delete %q without --yes", args[0])
		}
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			return report(cmd, s.DeleteProject(ctx, args[0]), nil)
		})
	},
}

// --- export ---

var projectExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a project and its papers to YAML or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			var w io.Writer = os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if r := s.ExportProject(ctx, args[0], format, w); !r.IsOK() {
				return fmt.Errorf("%s (%s)", r.Message, r.Kind)
			}
			if output != "" {
				fmt.Fprintf(os.Stderr, "Exported to %s\n", output)
			}
			return nil
		})
	},
}

func init() {
	projectSaveCmd.Flags().String("name", "", "project name")
	projectSaveCmd.Flags().String("description", "", "project description")
	projectSaveCmd.Flags().String("objective", "", "research objective")
	projectSaveCmd.Flags().String("criteria", "", "free-text selection criteria")
	projectSaveCmd.Flags().StringSlice("researcher", nil, "researcher name (repeatable)")

	projectDeleteCmd.Flags().Bool("yes", false, "confirm deletion")

	projectExportCmd.Flags().String("format", "yaml", "output format: yaml or json")
	projectExportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	projectCmd.AddCommand(projectListCmd, projectShowCmd, projectOpenCmd, projectActiveCmd,
		projectSaveCmd, projectArchiveCmd, projectDeleteCmd, projectExportCmd)
	rootCmd.AddCommand(projectCmd)
}
