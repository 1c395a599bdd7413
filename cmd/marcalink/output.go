// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/marcalink/pkg/types"
)

// errFailed marks a failure already printed as JSON.
var errFailed = errors.New("operation failed")

// report prints r. With --json the whole Result is encoded; otherwise a
// failure becomes the command error and success is rendered by human,
// or by its message when human is nil.
func report(cmd *cobra.Command, r types.Result, human func(w io.Writer) error) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return err
		}
		if !r.IsOK() {
			return errFailed
		}
		return nil
	}

	if !r.IsOK() {
		return fmt.Errorf("%s (%s)", r.Message, r.Kind)
	}
	if human != nil {
		return human(os.Stdout)
	}
	if r.Message != "" {
		fmt.Fprintln(os.Stdout, r.Message)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func rule(w io.Writer, n int) {
	fmt.Fprintln(w, strings.Repeat("-", n))
}
