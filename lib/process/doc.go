// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the launcher
// binaries. It centralizes the raw stderr output that happens before
// or after the structured logger exists, and the signal-scoped context
// every binary runs under.
package process
