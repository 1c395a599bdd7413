// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/marcalink/internal/storage"
	"github.com/pdiddy/marcalink/pkg/types"
)

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Manage the papers of the open project",
	Long: `Paper adds, lists and screens papers. Each change to a paper is
recorded in its history.

Commands apply to the project named by --project (config key
project.current, env MARCALINK_PROJECT_CURRENT). Without it they apply to
the server's open project, which only exists in remote mode.`,
}

// withPaperProject runs fn like withStorage, first opening the project
// selected by --project when one is given.
func withPaperProject(cmd *cobra.Command, fn func(ctx context.Context, s *storage.Service) error) error {
	id := strings.TrimSpace(viper.GetString("project.current"))
	return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
		if id != "" {
			if r := openSelectedProject(ctx, s, id); !r.IsOK() {
				return report(cmd, r, nil)
			}
		}
		return fn(ctx, s)
	})
}

// openSelectedProject makes id the active project. Unlike project open it
// refuses ids that were never saved.
func openSelectedProject(ctx context.Context, s *storage.Service, id string) types.Result {
	r := s.LoadProject(ctx, id)
	if !r.IsOK() {
		return r
	}
	if r.Data == nil {
		return types.Fail(types.NewError(types.KindNotFound, "open_project", "Project not found."))
	}
	return s.OpenProject(ctx, id)
}

var paperListCmd = &cobra.Command{
	Use:   "list",
	Short: "List papers of the open project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		return withPaperProject(cmd, func(ctx context.Context, s *storage.Service) error {
			r := s.ListPapers(ctx)
			if r.IsOK() && status != "" {
				papers, _ := r.Data.([]*types.Paper)
				kept := papers[:0]
				for _, p := range papers {
					if string(p.Status) == status {
						kept = append(kept, p)
					}
				}
				r.Data = kept
			}
			return report(cmd, r, func(w io.Writer) error {
				papers, _ := r.Data.([]*types.Paper)
				if len(papers) == 0 {
					fmt.Fprintln(w, "No papers.")
					return nil
				}
				fmt.Fprintf(w, "%-20s  %-9s  %-9s  %-4s  %s\n", "ID", "Origin", "Status", "Year", "Title")
				rule(w, 100)
				for _, p := range papers {
					year := ""
					if p.Year != nil {
						year = fmt.Sprint(*p.Year)
					}
					fmt.Fprintf(w, "%-20s  %-9s  %-9s  %-4s  %s\n",
						p.ID, p.Origin, p.Status, year, truncate(p.Title, 50))
				}
				fmt.Fprintf(w, "\n%d papers\n", len(papers))
				return nil
			})
		})
	},
}

var paperShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a paper with its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPaperProject(cmd, func(ctx context.Context, s *storage.Service) error {
			r := s.LoadPaper(ctx, args[0])
			return report(cmd, r, func(w io.Writer) error {
				p, _ := r.Data.(*types.Paper)
				if p == nil {
					fmt.Fprintln(w, "Paper not found.")
					return nil
				}
				fmt.Fprintf(w, "ID:      %s\n", p.ID)
				fmt.Fprintf(w, "Title:   %s\n", p.Title)
				fmt.Fprintf(w, "URL:     %s\n", p.URL)
				if len(p.Authors) > 0 {
					fmt.Fprintf(w, "Authors: %s\n", strings.Join(p.Authors, "; "))
				}
				fmt.Fprintf(w, "Origin:  %s\n", p.Origin)
				fmt.Fprintf(w, "Status:  %s\n", p.Status)
				if len(p.Tags) > 0 {
					fmt.Fprintf(w, "Tags:    %s\n", strings.Join(p.Tags, ", "))
				}
				fmt.Fprintf(w, "\nHistory (%d)\n", len(p.History))
				for _, h := range p.History {
					fmt.Fprintf(w, "  %s  %-13s  %v\n", h.Timestamp.Format(time.RFC3339), h.Action, h.Details)
				}
				return nil
			})
		})
	},
}

var paperAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a paper by URL",
	Long: `Add stores a paper under the open project. The paper id is derived
from the URL, so adding the same link twice updates the same paper.
With --category the paper is also marked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		iteration, _ := cmd.Flags().GetString("iteration")
		category, _ := cmd.Flags().GetString("category")

		return withPaperProject(cmd, func(ctx context.Context, s *storage.Service) error {
			now := time.Now()
			p := types.NewPaper(args[0], iteration, now)
			if r := s.LoadPaper(ctx, p.ID); r.IsOK() {
				if existing, ok := r.Data.(*types.Paper); ok && existing != nil {
					p = existing
				}
			}
			if id := strings.TrimSpace(viper.GetString("project.current")); id != "" {
				p.ProjectID = id
			}
			p.Update(paperUpdateFromFlags(cmd), now)
			if category != "" {
				p.Mark(category, now)
			}
			p.TrimHistory(0)
			r := s.SavePaper(ctx, p)
			return report(cmd, r, func(w io.Writer) error {
				fmt.Fprintf(w, "%s %s\n", r.Message, p.ID)
				return nil
			})
		})
	},
}

func paperUpdateFromFlags(cmd *cobra.Command) types.PaperUpdate {
	var u types.PaperUpdate
	if cmd.Flags().Changed("title") {
		v, _ := cmd.Flags().GetString("title")
		u.Title = &v
	}
	if cmd.Flags().Changed("author") {
		u.Authors, _ = cmd.Flags().GetStringSlice("author")
	}
	if cmd.Flags().Changed("year") {
		v, _ := cmd.Flags().GetInt("year")
		u.Year = &v
	}
	if cmd.Flags().Changed("tag") {
		u.Tags, _ = cmd.Flags().GetStringSlice("tag")
	}
	return u
}

// modifyPaper loads paper id, applies fn, and saves it back.
func modifyPaper(cmd *cobra.Command, id string, fn func(p *types.Paper, now time.Time) error) error {
	return withPaperProject(cmd, func(ctx context.Context, s *storage.Service) error {
		r := s.LoadPaper(ctx, id)
		if !r.IsOK() {
			return report(cmd, r, nil)
		}
		p, _ := r.Data.(*types.Paper)
		if p == nil {
			return report(cmd, types.Fail(types.NewError(types.KindNotFound, "load_paper", "Paper not found.")), nil)
		}
		if err := fn(p, time.Now()); err != nil {
			return report(cmd, types.Fail(err), nil)
		}
		p.TrimHistory(0)
		return report(cmd, s.SavePaper(ctx, p), nil)
	})
}

var paperMarkCmd = &cobra.Command{
	Use:   "mark <id> <category>",
	Short: "Mark a paper with a highlight category",
	Long: `Mark records that a paper was highlighted. Seed, Backward and Forward
set its origin; Included, Excluded, Duplicate and Pending set its status.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return modifyPaper(cmd, args[0], func(p *types.Paper, now time.Time) error {
			p.Mark(args[1], now)
			return nil
		})
	},
}

var paperUnmarkCmd = &cobra.Command{
	Use:   "unmark <id>",
	Short: "Clear a paper's visited flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return modifyPaper(cmd, args[0], func(p *types.Paper, now time.Time) error {
			p.Unmark(now)
			return nil
		})
	},
}

var paperStatusCmd = &cobra.Command{
	Use:   "status <id> <pending|included|excluded|duplicate>",
	Short: "Record a screening decision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return modifyPaper(cmd, args[0], func(p *types.Paper, now time.Time) error {
			return p.SetStatus(types.PaperStatus(strings.ToLower(args[1])), "cli", now)
		})
	},
}

var paperDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a paper from the open project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPaperProject(cmd, func(ctx context.Context, s *storage.Service) error {
			return report(cmd, s.DeletePaper(ctx, args[0]), nil)
		})
	},
}

func init() {
	paperCmd.PersistentFlags().String("project", "", "project the command applies to (overrides project.current)")
	_ = viper.BindPFlag("project.current", paperCmd.PersistentFlags().Lookup("project"))

	paperListCmd.Flags().String("status", "", "only papers with this status")

	paperAddCmd.Flags().String("title", "", "paper title (default: the URL)")
	paperAddCmd.Flags().StringSlice("author", nil, "author name (repeatable)")
	paperAddCmd.Flags().Int("year", 0, "publication year")
	paperAddCmd.Flags().StringSlice("tag", nil, "tag (repeatable)")
	paperAddCmd.Flags().String("iteration", "", "snowballing iteration id")
	paperAddCmd.Flags().String("category", "", "mark the paper with this category")

	paperCmd.AddCommand(paperListCmd, paperShowCmd, paperAddCmd, paperMarkCmd,
		paperUnmarkCmd, paperStatusCmd, paperDeleteCmd)
	rootCmd.AddCommand(paperCmd)
}
