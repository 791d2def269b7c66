// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package catalog embeds the built-in rule catalogue. Rule metadata (name,
category, priority, action, escalation and tunable params) lives in
default_rules.yaml; the predicates are bound by id in the rules package.
*/

package catalog

import (
	_ "embed"
)

// DefaultRules holds the raw content of default_rules.yaml.
//
// Usage:
//
//	var file rules.CatalogFile
//	err := yaml.Unmarshal(catalog.DefaultRules, &file)
//
//go:embed default_rules.yaml
var DefaultRules []byte
