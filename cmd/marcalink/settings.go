// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/marcalink/internal/storage"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write user settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [keys...]",
	Short: "Print settings (all when no keys are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			r := s.Get(ctx, args)
			return report(cmd, r, func(w io.Writer) error {
				return printSettings(w, r.Data)
			})
		})
	},
}

func printSettings(w io.Writer, data any) error {
	items, _ := data.(map[string]any)
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v, err := json.Marshal(items[k])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s=%s\n", k, v)
	}
	return nil
}

var settingsSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Write settings",
	Long: `Set writes each key=value pair. Values are parsed as JSON when
possible (numbers, booleans, objects), otherwise stored as strings.
In remote mode, writes made while the server is unreachable are kept
locally and sent when it is back.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := parseAssignments(args)
		if err != nil {
			return err
		}
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			return report(cmd, s.Set(ctx, items), nil)
		})
	},
}

// parseAssignments turns key=value arguments into settings items.
func parseAssignments(args []string) (map[string]any, error) {
	items := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q: want key=value", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		items[key] = v
	}
	return items, nil
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Manage highlight categories",
}

var categoriesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Add the default snowballing categories",
	Long: `Seed adds Seed, Backward, Forward, Included, Excluded, Duplicate and
Pending to the categories setting. Categories that already exist keep
their colors.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(cmd, func(ctx context.Context, s *storage.Service) error {
			r := s.SeedCategories(ctx)
			return report(cmd, r, func(w io.Writer) error {
				fmt.Fprintln(w, r.Message)
				return printSettings(w, r.Data)
			})
		})
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	categoriesCmd.AddCommand(categoriesSeedCmd)
	rootCmd.AddCommand(settingsCmd, categoriesCmd)
}
