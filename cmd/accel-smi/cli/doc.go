// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind accel-smi: a tree
// of [Command] values dispatched by name, pflag-based flag parsing
// with typo suggestions, structured help, a per-invocation logger, and
// text/JSON/YAML/CBOR result rendering.
package cli
