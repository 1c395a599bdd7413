// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments(t *testing.T) {
	items, err := parseAssignments([]string{
		"theme=dark",
		"fontSize=14",
		"sidebar=true",
		`categories={"Seed":"#4CAF50"}`,
		"empty=",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"theme":      "dark",
		"fontSize":   float64(14),
		"sidebar":    true,
		"categories": map[string]any{"Seed": "#4CAF50"},
		"empty":      "",
	}, items)

	for _, bad := range []string{"novalue", "=x", " =x"} {
		_, err := parseAssignments([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPrintSettingsSortsKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSettings(&buf, map[string]any{"b": 2, "a": "x"}))
	assert.Equal(t, "a=\"x\"\nb=2\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
