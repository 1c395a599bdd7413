// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// RegistryKey is the settings key under which the project registry is
// stored. Settings writes may not touch it.
const RegistryKey = "projects"

// CheckSettings rejects a settings write that names RegistryKey.
func CheckSettings(op string, items map[string]any) error {
	if _, ok := items[RegistryKey]; ok {
		return NewError(KindValidation, op, fmt.Sprintf("%q is a reserved key", RegistryKey))
	}
	return nil
}
