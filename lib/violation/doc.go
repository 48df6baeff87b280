// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package violation turns a device's throttle residency accumulators
// into per-category throttle percentages.
//
// Firmware exposes one monotonically increasing residency counter per
// throttle reason plus a reference accumulation counter that advances
// on every refresh. [Accumulator.Measure] reads both twice, one
// [MinInterval] apart, and hands the pair to [Compare], which computes
//
//	percent = (residency_b - residency_a) * 100 / (acc_b - acc_a)
//
// for every category where that division is meaningful. Categories
// where it is not are reported as [StateUnknown] rather than inactive.
package violation
