// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package kfd parses the amdkfd topology tree published under
// /sys/class/kfd/kfd/topology.
//
// Each node directory holds a properties file of "key value" lines, a
// gpu_id file (zero or absent for CPUs), and io_links/ and p2p_links/
// subdirectories whose entries describe directed links to other nodes.
// [Read] parses the whole tree once; [Topology.Route] answers hop count,
// link class, and weight for any node pair.
package kfd
