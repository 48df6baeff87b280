// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// MaxDevices caps the number of peers returned by a ranking.
const MaxDevices = 32

// LinkType is the class of interconnect between two processors.
type LinkType uint32

const (
	LinkInternal LinkType = iota
	LinkXGMI
	LinkPCIe
	LinkNotApplicable
	LinkUnknown

	linkTypeCount
)

// Valid reports whether t is in the closed set.
func (t LinkType) Valid() bool { return t < linkTypeCount }

func (t LinkType) String() string {
	switch t {
	case LinkInternal:
		return "internal"
	case LinkXGMI:
		return "xgmi"
	case LinkPCIe:
		return "pcie"
	case LinkNotApplicable:
		return "not_applicable"
	case LinkUnknown:
		return "unknown"
	}
	return fmt.Sprintf("link(%d)", uint32(t))
}

// MarshalText encodes the link type by name.
func (t LinkType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// ParseLinkType maps a name to a LinkType. "fast-interconnect" and
// "nvlink" are accepted as aliases for xgmi.
func ParseLinkType(name string) (LinkType, error) {
	switch name {
	case "internal":
		return LinkInternal, nil
	case "xgmi", "fast-interconnect", "nvlink":
		return LinkXGMI, nil
	case "pcie":
		return LinkPCIe, nil
	case "not_applicable", "n/a":
		return LinkNotApplicable, nil
	case "unknown":
		return LinkUnknown, nil
	}
	return 0, smierr.InvalidArgument("unknown link type %q", name)
}

// LinkReporter is the pairwise topology interface a device backend provides.
// Both identities belong to processors served by the same backend.
type LinkReporter interface {
	// Accessible reports whether source can reach target peer-to-peer.
	Accessible(source, target processor.Identity) (bool, error)

	// LinkTypeAndHops returns the link class of the path from source to
	// target and the number of interconnect hops along it.
	LinkTypeAndHops(source, target processor.Identity) (LinkType, uint64, error)

	// LinkWeight returns the relative weight of the path. Higher is
	// better.
	LinkWeight(source, target processor.Identity) (uint64, error)
}

// Candidate is one evaluated peer.
type Candidate struct {
	Target     *processor.Processor
	LinkType   LinkType
	Accessible bool
	Hops       uint64
	Weight     uint64
}

// Result is a ranked peer list.
type Result struct {
	// Count is the number of peers that passed filtering. It may
	// exceed len(Peers), which is capped at MaxDevices.
	Count int

	// Peers holds the nearest peers, fewest hops first, then highest
	// weight.
	Peers []Candidate
}

// Ranker orders peers by interconnect distance.
type Ranker struct {
	logger *slog.Logger
}

// NewRanker creates a Ranker.
func NewRanker(logger *slog.Logger) *Ranker {
	return &Ranker{logger: logger}
}

// Rank evaluates every processor in candidates other than source and
// returns those reachable over a link of the requested class, ordered
// by ascending hop count and, for equal hop counts, descending weight.
// Candidates that cannot be queried are dropped. A linkType outside
// the closed set is rejected before any candidate is evaluated.
func (r *Ranker) Rank(source *processor.Processor, linkType LinkType, candidates []*processor.Processor) (Result, error) {
	if !linkType.Valid() {
		return Result{}, smierr.InvalidArgument("link type %d out of range", uint32(linkType))
	}
	reporter, ok := source.Driver().(LinkReporter)
	if !ok {
		return Result{}, smierr.NotSupported("%s backend does not report topology", source.Driver().Name())
	}

	var survivors []Candidate
	for _, target := range candidates {
		if target == source || !target.SameDriver(source) {
			continue
		}
		candidate, ok := r.evaluate(reporter, source, target, linkType)
		if !ok {
			continue
		}
		survivors = append(survivors, candidate)
	}

	// Stable so that equal (hops, weight) peers keep discovery order.
	slices.SortStableFunc(survivors, compareCandidates)

	result := Result{Count: len(survivors), Peers: survivors}
	if len(result.Peers) > MaxDevices {
		result.Peers = result.Peers[:MaxDevices]
	}
	return result, nil
}

// Evaluate runs the pairwise queries for one pair without filtering on
// link class. Errors from any query are returned. Processors served by
// different backends share no link the backends can describe: the pair
// is inaccessible with link type not_applicable.
func (r *Ranker) Evaluate(source, target *processor.Processor) (Candidate, error) {
	candidate := Candidate{Target: target, LinkType: LinkUnknown}
	if !target.SameDriver(source) {
		candidate.LinkType = LinkNotApplicable
		return candidate, nil
	}
	reporter, ok := source.Driver().(LinkReporter)
	if !ok {
		return candidate, smierr.NotSupported("%s backend does not report topology", source.Driver().Name())
	}

	accessible, err := reporter.Accessible(source.Identity(), target.Identity())
	if err != nil {
		return candidate, err
	}
	candidate.Accessible = accessible

	linkType, hops, err := reporter.LinkTypeAndHops(source.Identity(), target.Identity())
	if err != nil {
		return candidate, err
	}
	if !linkType.Valid() {
		return candidate, smierr.UnexpectedData("link type %d from %s", uint32(linkType), source.Driver().Name())
	}
	candidate.LinkType, candidate.Hops = linkType, hops

	weight, err := reporter.LinkWeight(source.Identity(), target.Identity())
	if err != nil {
		return candidate, err
	}
	candidate.Weight = weight
	return candidate, nil
}

// evaluate applies the filtering pipeline to one candidate: drop if
// not accessible, if the link class differs, or if any query fails.
func (r *Ranker) evaluate(reporter LinkReporter, source, target *processor.Processor, want LinkType) (Candidate, bool) {
	sourceID, targetID := source.Identity(), target.Identity()

	accessible, err := reporter.Accessible(sourceID, targetID)
	if err != nil || !accessible {
		if err != nil {
			r.logger.Debug("peer accessibility query failed", "source", source.String(), "target", target.String(), "error", err)
		}
		return Candidate{}, false
	}

	linkType, hops, err := reporter.LinkTypeAndHops(sourceID, targetID)
	if err != nil {
		r.logger.Debug("link type query failed", "source", source.String(), "target", target.String(), "error", err)
		return Candidate{}, false
	}
	if linkType != want {
		return Candidate{}, false
	}

	weight, err := reporter.LinkWeight(sourceID, targetID)
	if err != nil {
		r.logger.Debug("link weight query failed", "source", source.String(), "target", target.String(), "error", err)
		return Candidate{}, false
	}

	return Candidate{
		Target:     target,
		LinkType:   linkType,
		Accessible: true,
		Hops:       hops,
		Weight:     weight,
	}, true
}

// compareCandidates orders by ascending hops, then descending weight.
func compareCandidates(a, b Candidate) int {
	switch {
	case a.Hops < b.Hops:
		return -1
	case a.Hops > b.Hops:
		return 1
	case a.Weight > b.Weight:
		return -1
	case a.Weight < b.Weight:
		return 1
	}
	return 0
}
