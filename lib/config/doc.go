// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the launcher configuration.
//
// Configuration is loaded from a single file specified by either the
// BUREAU_LAUNCHER_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There is no automatic file search.
// Files ending in .json or .jsonc are JSON with comments; all others
// are YAML.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches.
//
// ${HOME} and ${VAR:-default} patterns in launcher.socket_path are
// expanded after loading.
//
// This package depends on no other Bureau packages.
package config
