// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"fmt"
	"sync"
)

// Driver is the device backend that discovered a processor and serves
// its raw queries. Engines type-assert a processor's Driver against the
// narrow collaborator interface they need (partition.Source,
// topology.LinkReporter, violation.Sampler); a driver that does not
// implement one simply does not support that feature.
type Driver interface {
	// Name identifies the backend in logs and error messages.
	Name() string
}

// Identity is the immutable description of one discovered processor.
type Identity struct {
	// Kind is the processor variant.
	Kind Kind `json:"kind" yaml:"kind" cbor:"kind"`

	// Index is the stable ordinal of this processor among all
	// processors of the same Kind in the registry, in discovery order.
	// Backends leave it zero; the registry assigns it.
	Index uint32 `json:"index" yaml:"index" cbor:"index"`

	// BusAddress is the PCI identity. Zero for CPU-family processors.
	BusAddress BusAddress `json:"bus_address" yaml:"bus_address" cbor:"bus_address"`

	// Identifier is an opaque id for processors addressed by something
	// other than a bus address (CPU sockets and cores use a decimal
	// string).
	Identifier string `json:"identifier,omitempty" yaml:"identifier,omitempty" cbor:"identifier,omitempty"`

	// SocketID names the socket that owns this processor.
	SocketID string `json:"socket_id" yaml:"socket_id" cbor:"socket_id"`

	// Name is a human-readable model or interface name, if known.
	Name string `json:"name,omitempty" yaml:"name,omitempty" cbor:"name,omitempty"`

	// DeviceIndex is the backend-private index used to address this
	// processor in collaborator calls. Meaningless to other backends.
	DeviceIndex int `json:"-" yaml:"-" cbor:"-"`
}

// Label returns the bus address, or the identifier for processors
// without one.
func (id Identity) Label() string {
	if id.BusAddress.IsZero() && id.Identifier != "" {
		return id.Identifier
	}
	return id.BusAddress.String()
}

// Processor is one discovered device. It is created once during
// registry initialization and owned by exactly one Socket.
//
// The embedded mutex guards sequences of collaborator calls that must
// appear atomic to the driver. Hold it (Lock/Unlock) for the whole of
// a multi-step read.
type Processor struct {
	sync.Mutex

	identity Identity
	driver   Driver
}

// New creates a Processor owned by driver.
func New(identity Identity, driver Driver) *Processor {
	return &Processor{identity: identity, driver: driver}
}

// Identity returns the processor's immutable identity.
func (p *Processor) Identity() Identity { return p.identity }

// Kind is shorthand for Identity().Kind.
func (p *Processor) Kind() Kind { return p.identity.Kind }

// Driver returns the backend that serves this processor.
func (p *Processor) Driver() Driver { return p.driver }

// SameDriver reports whether p and other are served by the same
// backend instance. Pairwise queries are only meaningful between such
// processors.
func (p *Processor) SameDriver(other *Processor) bool {
	return p.driver == other.driver
}

func (p *Processor) String() string {
	return fmt.Sprintf("%s %d (%s)", p.identity.Kind, p.identity.Index, p.identity.Label())
}

// Socket owns the processors of one physical package, bucketed by
// kind in discovery order.
type Socket struct {
	id         string
	processors []*Processor
	buckets    [kindCount][]*Processor
}

// NewSocket creates an empty socket.
func NewSocket(id string) *Socket {
	return &Socket{id: id}
}

// ID returns the socket identifier.
func (s *Socket) ID() string { return s.id }

// Add appends p to the socket. The registry calls this during
// discovery only.
func (s *Socket) Add(p *Processor) {
	s.processors = append(s.processors, p)
	s.buckets[p.Kind()] = append(s.buckets[p.Kind()], p)
}

// Processors returns every processor in discovery order. The returned
// slice must not be modified.
func (s *Socket) Processors() []*Processor { return s.processors }

// ProcessorsOf returns the processors of one kind. Returns an error
// for a kind outside the closed set.
func (s *Socket) ProcessorsOf(kind Kind) ([]*Processor, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid processor kind %d", uint8(kind))
	}
	return s.buckets[kind], nil
}
