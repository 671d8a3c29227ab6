// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets components that time their work take the clock
// as a dependency.
//
// The launcher records how long each launch took. Production code
// passes [Real]; tests pass [Fake] and get a fixed, repeatable
// duration in the logged attributes.
package clock
