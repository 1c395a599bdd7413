// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the records shared by every marcalink layer:
// projects and papers with their nested value objects, the registry row,
// the uniform Result, the error taxonomy, and configuration.
package types
