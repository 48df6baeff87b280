// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/topology"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

func (r *Registry) partitionSourceLocked(h ProcessorHandle) (*processor.Processor, partition.Source, error) {
	p, err := r.resolveLocked(h)
	if err != nil {
		return nil, nil, err
	}
	source, err := partition.SourceOf(p)
	if err != nil {
		return nil, nil, err
	}
	return p, source, nil
}

// PartitionConfig resolves the compute partition profiles and
// resource-sharing table of an accelerator.
func (r *Registry) PartitionConfig(h ProcessorHandle) (*partition.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, source, err := r.partitionSourceLocked(h)
	if err != nil {
		return nil, err
	}
	p.Lock()
	defer p.Unlock()
	return r.resolver.Resolve(source, p.Identity())
}

// CurrentPartition reports the active compute partition of an
// accelerator.
func (r *Registry) CurrentPartition(h ProcessorHandle) (partition.Current, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, source, err := r.partitionSourceLocked(h)
	if err != nil {
		return partition.Current{Type: partition.ProfileInvalid, Index: partition.InvalidIndex, NumPartitions: partition.InvalidIndex}, err
	}
	p.Lock()
	defer p.Unlock()
	return r.resolver.Current(source, p.Identity())
}

// SetPartitionProfile switches an accelerator to the profile at index
// in its resolved profile table. Reconfiguring one device disturbs the
// driver state of every device, so this holds the registry write lock.
func (r *Registry) SetPartitionProfile(h ProcessorHandle, index uint32) (partition.ProfileType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, source, err := r.partitionSourceLocked(h)
	if err != nil {
		return partition.ProfileInvalid, err
	}
	p.Lock()
	defer p.Unlock()
	return r.resolver.SetProfile(source, p.Identity(), index)
}

// MemoryPartition reports the active memory partition mode of an
// accelerator and the modes it supports.
func (r *Registry) MemoryPartition(h ProcessorHandle) (partition.MemoryConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, source, err := r.partitionSourceLocked(h)
	if err != nil {
		return partition.MemoryConfig{}, err
	}
	p.Lock()
	defer p.Unlock()
	return r.resolver.Memory(source, p.Identity())
}

// SetMemoryPartition switches an accelerator to a memory partition
// mode. Holds the registry write lock.
func (r *Registry) SetMemoryPartition(h ProcessorHandle, mode partition.MemoryMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, source, err := r.partitionSourceLocked(h)
	if err != nil {
		return err
	}
	p.Lock()
	defer p.Unlock()
	return r.resolver.SetMemory(source, p.Identity(), mode)
}

// Peer is one ranked or inspected link from a source processor.
type Peer struct {
	Handle     ProcessorHandle    `json:"-" yaml:"-" cbor:"-"`
	Identity   processor.Identity `json:"identity" yaml:"identity" cbor:"identity"`
	LinkType   topology.LinkType  `json:"link_type" yaml:"link_type" cbor:"link_type"`
	Accessible bool               `json:"accessible" yaml:"accessible" cbor:"accessible"`
	Hops       uint64             `json:"hops" yaml:"hops" cbor:"hops"`
	Weight     uint64             `json:"weight" yaml:"weight" cbor:"weight"`
}

// Peers is the result of NearestPeers.
type Peers struct {
	// Count is every peer that passed filtering, which may exceed
	// len(Peers).
	Count int    `json:"count" yaml:"count" cbor:"count"`
	Peers []Peer `json:"peers" yaml:"peers" cbor:"peers"`
}

func (r *Registry) peerOf(candidate topology.Candidate) Peer {
	return Peer{
		Handle:     r.handleOf(candidate.Target),
		Identity:   candidate.Target.Identity(),
		LinkType:   candidate.LinkType,
		Accessible: candidate.Accessible,
		Hops:       candidate.Hops,
		Weight:     candidate.Weight,
	}
}

// NearestPeers ranks every other processor in the registry by
// interconnect distance from the processor named by h, keeping those
// joined to it by a link of class linkType.
func (r *Registry) NearestPeers(h ProcessorHandle, linkType topology.LinkType) (Peers, error) {
	if !linkType.Valid() {
		return Peers{}, smierr.InvalidArgument("link type %d out of range", uint32(linkType))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	source, err := r.resolveLocked(h)
	if err != nil {
		return Peers{}, err
	}
	source.Lock()
	defer source.Unlock()

	result, err := r.ranker.Rank(source, linkType, r.processors)
	if err != nil {
		return Peers{}, err
	}
	peers := Peers{Count: result.Count}
	for _, candidate := range result.Peers {
		peers.Peers = append(peers.Peers, r.peerOf(candidate))
	}
	return peers, nil
}

// LinkBetween reports the raw pairwise link attributes from source to
// target without any filtering.
func (r *Registry) LinkBetween(source, target ProcessorHandle) (Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	from, err := r.resolveLocked(source)
	if err != nil {
		return Peer{}, err
	}
	to, err := r.resolveLocked(target)
	if err != nil {
		return Peer{}, err
	}
	if from == to {
		return Peer{}, smierr.InvalidArgument("link query needs two distinct processors")
	}
	from.Lock()
	defer from.Unlock()

	candidate, err := r.ranker.Evaluate(from, to)
	if err != nil {
		return Peer{}, err
	}
	return r.peerOf(candidate), nil
}

// ViolationStatus measures the throttle residency of an accelerator.
// It blocks for the sampling interval.
func (r *Registry) ViolationStatus(h ProcessorHandle) (violation.Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, err := r.resolveLocked(h)
	if err != nil {
		return violation.Status{}, err
	}
	return r.accumulator.Measure(p)
}
