// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var (
	uniqueCounter atomic.Uint64
	txidCounter   atomic.Uint32
)

// UniqueName returns "prefix-N" with N monotonically increasing.
//
//	name := testutil.UniqueName("proc") // "proc-1", "proc-2", ...
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// NextTxid returns a fresh nonzero transaction ID.
func NextTxid() uint32 {
	return txidCounter.Add(1)
}
