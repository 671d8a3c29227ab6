// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-launcher serves the process launcher protocol on a
// SOCK_SEQPACKET unix socket (default /run/bureau/launcher.sock). Each
// accepted connection is a launcher session: clients accumulate
// arguments, environment, namespace entries and handles, then ask for
// a launch and receive the new process's pidfd and root region. Started
// processes are reaped by the launcher, which logs their exit status.
package main
