// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"

	"github.com/bureau-foundation/process-launcher/lib/binhash"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// selfPath is the running executable, read through procfs so a
// replaced file on disk does not change the answer.
var selfPath = "/proc/self/exe"

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// SelfDigest returns the image digest of the running binary, in the
// same form the launcher records for the executables it starts.
func SelfDigest() (string, error) {
	digest, err := binhash.HashFile(selfPath)
	if err != nil {
		return "", fmt.Errorf("hashing running binary: %w", err)
	}
	return binhash.FormatDigest(digest), nil
}

// Print writes "name Info()" to stdout for --version.
func Print(name string) {
	fmt.Printf("%s %s\n", name, Info())
}
