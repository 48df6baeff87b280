// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology ranks peer processors by interconnect distance.
//
// A device backend answers three pairwise questions through [LinkReporter]:
// whether two devices can reach each other peer-to-peer, what class of
// link joins them (and over how many hops), and how heavily the path is
// weighted. [Ranker.Rank] filters every candidate through those queries
// and returns the survivors nearest first. Peers on a different backend
// are never reachable from one another.
package topology
