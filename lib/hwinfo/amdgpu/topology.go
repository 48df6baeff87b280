// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package amdgpu

import (
	"github.com/bureau-foundation/accelsmi/lib/hwinfo/kfd"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/topology"
)

// route resolves both devices to their first KFD node and routes
// between them.
func (b *Backend) route(source, target processor.Identity) (*kfd.Topology, uint32, uint32, error) {
	from, err := b.kfdNodes(source)
	if err != nil {
		return nil, 0, 0, err
	}
	to, err := b.kfdNodes(target)
	if err != nil {
		return nil, 0, 0, err
	}
	tree, err := b.kfdTopology()
	if err != nil {
		return nil, 0, 0, err
	}
	return tree, from[0].ID, to[0].ID, nil
}

// Accessible implements topology.LinkReporter: a device can reach a peer when
// the kernel publishes an io_link or p2p_link between them.
func (b *Backend) Accessible(source, target processor.Identity) (bool, error) {
	tree, from, to, err := b.route(source, target)
	if err != nil {
		return false, err
	}
	_, ok := tree.Direct(from, to)
	return ok, nil
}

// LinkTypeAndHops implements topology.LinkReporter.
func (b *Backend) LinkTypeAndHops(source, target processor.Identity) (topology.LinkType, uint64, error) {
	tree, from, to, err := b.route(source, target)
	if err != nil {
		return topology.LinkUnknown, 0, err
	}
	route, err := tree.Route(from, to)
	if err != nil {
		return topology.LinkUnknown, 0, err
	}
	return linkType(route.Type), route.Hops, nil
}

// LinkWeight implements topology.LinkReporter.
func (b *Backend) LinkWeight(source, target processor.Identity) (uint64, error) {
	tree, from, to, err := b.route(source, target)
	if err != nil {
		return 0, err
	}
	route, err := tree.Route(from, to)
	if err != nil {
		return 0, err
	}
	return route.Weight, nil
}

func linkType(raw kfd.LinkType) topology.LinkType {
	switch raw {
	case kfd.LinkXGMI:
		return topology.LinkXGMI
	case kfd.LinkPCIe:
		return topology.LinkPCIe
	}
	return topology.LinkUnknown
}
