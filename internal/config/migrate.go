// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"strings"
)

// =============================================================================
// SCHEMA MIGRATION
// =============================================================================

// Migrate upgrades a raw config document from storedVersion to
// CurrentVersion, one version at a time. The input map is not modified.
//
// History:
//
//	v1: flat camelCase keys (systemPrompt, autoReasoning, apiUrl). autoReasoning
//	    was written as a bool, as "true", or double-encoded as "\"true\"".
//	v2: snake_case keys, [reasoning] mode = "gather" | "critique", profile
//	    fields at the top level.
//	v3: [reasoning] strategy = "staged" | "adaptive", [profile] table.
func Migrate(storedVersion int, data map[string]any) (map[string]any, error) {
	if storedVersion > CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", storedVersion, CurrentVersion)
	}
	if storedVersion < 1 {
		storedVersion = 1
	}

	out := deepCopy(data)
	for v := storedVersion; v < CurrentVersion; v++ {
		var err error
		switch v {
		case 1:
			err = migrateV1(out)
		case 2:
			err = migrateV2(out)
		}
		if err != nil {
			return nil, fmt.Errorf("migrating from version %d: %w", v, err)
		}
	}
	out["version"] = int64(CurrentVersion)
	return out, nil
}

// migrateV1 renames camelCase keys and normalizes the auto-reasoning flag.
func migrateV1(m map[string]any) error {
	if v, ok := take(m, "systemPrompt"); ok {
		setDefault(m, "system_prompt", v)
	}
	if v, ok := take(m, "apiUrl"); ok {
		api := table(m, "api")
		setDefault(api, "endpoint", v)
	}
	if v, ok := take(m, "model"); ok {
		api := table(m, "api")
		setDefault(api, "model", v)
	}
	if v, ok := take(m, "autoReasoning"); ok {
		b, err := coerceBool(v)
		if err != nil {
			return fmt.Errorf("autoReasoning: %w", err)
		}
		setDefault(table(m, "reasoning"), "auto", b)
	}
	if v, ok := take(m, "userName"); ok {
		setDefault(m, "user_name", v)
	}
	return nil
}

// migrateV2 renames reasoning modes and moves profile fields into [profile].
func migrateV2(m map[string]any) error {
	reasoning := table(m, "reasoning")
	if mode, ok := take(reasoning, "mode"); ok {
		s, _ := mode.(string)
		switch strings.ToLower(s) {
		case "gather", "staged", "":
			setDefault(reasoning, "strategy", "staged")
		case "critique", "adaptive":
			setDefault(reasoning, "strategy", "adaptive")
		default:
			return fmt.Errorf("unknown reasoning mode %q", s)
		}
	}
	if v, ok := reasoning["auto"]; ok {
		b, err := coerceBool(v)
		if err != nil {
			return fmt.Errorf("reasoning.auto: %w", err)
		}
		reasoning["auto"] = b
	}

	profile := table(m, "profile")
	if v, ok := take(m, "user_name"); ok {
		setDefault(profile, "name", v)
	}
	if v, ok := take(m, "occupation"); ok {
		setDefault(profile, "occupation", v)
	}
	if v, ok := take(m, "custom_instructions"); ok {
		setDefault(profile, "custom_instructions", v)
	}
	return nil
}

// coerceBool collapses every stored spelling of a boolean to a real bool.
func coerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if parsed, ok := parseBool(b); ok {
			return parsed, nil
		}
		return false, fmt.Errorf("cannot interpret %q as a boolean", b)
	case int64:
		return b != 0, nil
	case float64:
		return b != 0, nil
	}
	return false, fmt.Errorf("cannot interpret %T as a boolean", v)
}

func take(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	if ok {
		delete(m, key)
	}
	return v, ok
}

// setDefault sets key unless the document already carries a newer value.
func setDefault(m map[string]any, key string, v any) {
	if _, exists := m[key]; !exists {
		m[key] = v
	}
}

// table returns the sub-table at key, creating it when absent.
func table(m map[string]any, key string) map[string]any {
	if t, ok := m[key].(map[string]any); ok {
		return t
	}
	t := map[string]any{}
	m[key] = t
	return t
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopy(sub)
			continue
		}
		out[k] = v
	}
	return out
}
