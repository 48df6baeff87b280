// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for accel-smi packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. Tests drive sleeps and
// tickers through the fake clock in lib/clock; these helpers are the
// only place a real wall-clock timeout appears, and only to stop a
// hung test.
//
// Both helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no accel-smi dependencies.
package testutil
