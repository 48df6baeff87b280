// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for accel-smi and
// its exporter.
//
// Configuration is loaded from a single file specified by either the
// ACCELSMI_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). [LoadOrDefault] is the command-line entry point: it
// takes the flag value, falls back to ACCELSMI_CONFIG, and returns
// [Default] only when neither names a file. There is no automatic file
// search.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${AMDGPU_SYS_ROOT}, and ${VAR:-default} patterns are
// expanded, so a captured sysfs tree can be pointed at with one
// variable. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Backends, Violation, Exporter
//   - [Default] -- every hardware backend enabled against /sys and /proc
//   - [Load], [LoadFile], and [LoadOrDefault] -- the loading entry points
//
// This package depends on no other accel-smi packages.
package config
