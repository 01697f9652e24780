// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for hatchery.
//
// Configuration is loaded from a single file named by either the
// HATCHERY_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no fallback search path.
//
// The file may carry development, staging and production sections
// that override base values when [Config].Environment matches.
// Production without an explicit section requires objects.public_url
// to be https.
//
// Path fields are expanded after loading: ${HOME}, ${HATCHERY_ROOT}
// and ${VAR:-default} patterns. No other environment variables
// override config values.
package config
