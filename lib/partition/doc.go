// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package partition resolves accelerator compute and memory partition
// profiles from a device's capability text.
//
// A device lists the compute modes it supports as free text
// ("SPX, DPX, QPX, CPX"). [Resolver.Resolve] scans that text for each
// known mode in the fixed order SPX, DPX, TPX, QPX, CPX and assigns
// profile indices in that construction order, so on a device without
// TPX the index of QPX is 2. For every profile it then collects the
// supported memory modes (NPS1/2/4/8) and a resource-sharing
// descriptor per resource type (XCC, encoder, decoder, DMA, JPEG).
// Resource queries that fail leave the resource out of the table.
//
// The raw queries go through the [Source] interface implemented by
// device backends.
package partition
