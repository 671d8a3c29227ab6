// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for launcher packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes (sun_path).
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so tests never hang on a missing event. They are the only
// place in the test suite that waits on the wall clock.
//
// [RequireFDOpen], [RequireFDClosed] and [OpenFDCount] do descriptor
// accounting. Handle ownership bugs in this module show up as leaked
// or double-closed descriptors, so tests check the kernel's view
// rather than trusting the handle wrappers.
//
// [UniqueName] and [NextTxid] produce monotonically increasing values
// for disambiguating process names and transaction IDs.
//
// All helpers call t.Fatalf on failure. This package has no
// dependencies on other packages in this module.
package testutil
