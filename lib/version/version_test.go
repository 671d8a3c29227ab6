// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/process-launcher/lib/binhash"
)

func TestInfo(t *testing.T) {
	original := [...]string{Version, GitCommit, GitDirty, BuildTime}
	defer func() {
		Version, GitCommit, GitDirty, BuildTime = original[0], original[1], original[2], original[3]
	}()

	Version, GitCommit, GitDirty, BuildTime = "1.2.3", "abc1234", "true", "2026-01-01T00:00:00Z"
	if got, want := Info(), "1.2.3 (abc1234-dirty, 2026-01-01T00:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	GitDirty = "false"
	if got, want := Info(), "1.2.3 (abc1234, 2026-01-01T00:00:00Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(Full(), Info()+"\n  Go: ") {
		t.Errorf("Full() = %q", Full())
	}
}

func TestSelfDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary")
	if err := os.WriteFile(path, []byte("launcher image"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	original := selfPath
	selfPath = path
	defer func() { selfPath = original }()

	got, err := SelfDigest()
	if err != nil {
		t.Fatalf("SelfDigest: %v", err)
	}
	want, err := binhash.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if got != binhash.FormatDigest(want) {
		t.Errorf("SelfDigest() = %s, want %s", got, binhash.FormatDigest(want))
	}

	selfPath = filepath.Join(t.TempDir(), "missing")
	if _, err := SelfDigest(); err == nil {
		t.Error("SelfDigest of a missing binary succeeded")
	}
}
