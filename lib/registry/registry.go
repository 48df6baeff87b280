// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/accelsmi/lib/clock"
	"github.com/bureau-foundation/accelsmi/lib/partition"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
	"github.com/bureau-foundation/accelsmi/lib/topology"
	"github.com/bureau-foundation/accelsmi/lib/violation"
)

// nextRegistryID hands out registry ids so that handles from one
// registry are recognizable as foreign to another. Zero is reserved
// for the null handle.
var nextRegistryID atomic.Uint64

// Config holds the collaborators of a Registry.
type Config struct {
	// Backends are consulted in order. Processors are filed in backend
	// order, then in each backend's discovery order.
	Backends []Backend

	// Logger receives lifecycle and engine logs. Nil discards them.
	Logger *slog.Logger

	// Clock drives the violation sampling interval. Nil uses the
	// wall clock.
	Clock clock.Clock

	// ViolationInterval is the wait between the two violation
	// snapshots. Values below violation.MinInterval are raised to it.
	ViolationInterval time.Duration
}

// Registry owns the sockets and processors discovered from a set of
// backends and hands out handles to them.
//
// Init and Shutdown, and operations that reconfigure a device, hold
// the write lock. Everything else holds the read lock, so queries run
// concurrently with each other but never alongside a mutation.
type Registry struct {
	mu sync.RWMutex

	id       uint64
	backends []Backend
	logger   *slog.Logger

	resolver    *partition.Resolver
	ranker      *topology.Ranker
	accumulator *violation.Accumulator

	initialized bool

	// epoch advances on every Init and Shutdown, invalidating handles
	// issued in earlier sessions.
	epoch   uint64
	session uuid.UUID
	flags   Flags

	sockets    []*processor.Socket
	processors []*processor.Processor
	slots      map[*processor.Processor]uint32
	socketOf   []uint32
	byAddress  map[processor.BusAddress]uint32
}

// New creates an uninitialized registry.
func New(config Config) *Registry {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		id:          nextRegistryID.Add(1),
		backends:    config.Backends,
		logger:      logger,
		resolver:    partition.NewResolver(logger),
		ranker:      topology.NewRanker(logger),
		accumulator: violation.NewAccumulator(clk, config.ViolationInterval, logger),
	}
}

// Init discovers processors from every backend in parallel and files
// the kinds selected by flags. Calling Init on an initialized registry
// is a successful no-op whatever the flags. If any backend fails, the backends that did
// open are closed again and the registry stays uninitialized.
func (r *Registry) Init(ctx context.Context, flags Flags) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}
	if flags&InitAll == 0 {
		return smierr.InvalidArgument("init flags %#x select no processor kinds", uint32(flags))
	}

	discovered := make([][]processor.Identity, len(r.backends))
	opened := make([]bool, len(r.backends))
	group, groupContext := errgroup.WithContext(ctx)
	for i, backend := range r.backends {
		group.Go(func() error {
			identities, err := backend.Discover(groupContext)
			if err != nil {
				return smierr.Driver("discovering %s devices: %w", backend.Name(), err)
			}
			discovered[i] = identities
			opened[i] = true
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		r.closeOpened(opened)
		return err
	}

	inventory, err := buildInventory(r.backends, discovered, flags)
	if err != nil {
		r.closeOpened(opened)
		return err
	}

	r.sockets = inventory.sockets
	r.processors = inventory.processors
	r.slots = inventory.slots
	r.socketOf = inventory.socketOf
	r.byAddress = inventory.byAddress
	r.flags = flags
	r.epoch++
	r.session = uuid.New()
	r.initialized = true

	r.logger.Info("registry initialized",
		"session", r.session.String(),
		"backends", len(r.backends),
		"sockets", len(r.sockets),
		"processors", len(r.processors))
	return nil
}

// closeOpened closes the backends whose Discover succeeded during a
// failed Init. Close failures are logged; the Init error takes
// precedence.
func (r *Registry) closeOpened(opened []bool) {
	for i, backend := range r.backends {
		if !opened[i] {
			continue
		}
		if err := backend.Close(); err != nil {
			r.logger.Warn("closing backend after failed init",
				"backend", backend.Name(),
				"error", err)
		}
	}
}

type inventory struct {
	sockets    []*processor.Socket
	processors []*processor.Processor
	slots      map[*processor.Processor]uint32
	socketOf   []uint32
	byAddress  map[processor.BusAddress]uint32
}

// buildInventory files discovered identities into sockets, assigning
// each kept processor its per-kind ordinal.
func buildInventory(backends []Backend, discovered [][]processor.Identity, flags Flags) (*inventory, error) {
	result := &inventory{
		slots:     make(map[*processor.Processor]uint32),
		byAddress: make(map[processor.BusAddress]uint32),
	}
	socketSlots := make(map[string]uint32)
	ordinals := make(map[processor.Kind]uint32)

	for i, identities := range discovered {
		backend := backends[i]
		for _, identity := range identities {
			if !identity.Kind.Valid() {
				return nil, smierr.UnexpectedData("%s reported processor kind %d", backend.Name(), uint8(identity.Kind))
			}
			if identity.SocketID == "" {
				return nil, smierr.UnexpectedData("%s reported %s %s without a socket", backend.Name(), identity.Kind, identity.Label())
			}
			if !flags.Includes(identity.Kind) {
				continue
			}

			identity.Index = ordinals[identity.Kind]
			ordinals[identity.Kind]++

			socketSlot, ok := socketSlots[identity.SocketID]
			if !ok {
				socketSlot = uint32(len(result.sockets))
				socketSlots[identity.SocketID] = socketSlot
				result.sockets = append(result.sockets, processor.NewSocket(identity.SocketID))
			}

			p := processor.New(identity, backend)
			slot := uint32(len(result.processors))
			result.sockets[socketSlot].Add(p)
			result.processors = append(result.processors, p)
			result.slots[p] = slot
			result.socketOf = append(result.socketOf, socketSlot)
			if !identity.BusAddress.IsZero() {
				if _, duplicate := result.byAddress[identity.BusAddress]; !duplicate {
					result.byAddress[identity.BusAddress] = slot
				}
			}
		}
	}
	return result, nil
}

// Shutdown closes every backend and releases all sockets and
// processors. Every outstanding handle becomes invalid. Backend close
// failures are aggregated into the returned error, but the registry
// is uninitialized afterwards in every case. Calling Shutdown on an
// uninitialized registry is a successful no-op.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil
	}

	var result *multierror.Error
	for _, backend := range r.backends {
		if err := backend.Close(); err != nil {
			result = multierror.Append(result, smierr.Driver("closing %s backend: %w", backend.Name(), err))
		}
	}

	r.logger.Info("registry shut down",
		"session", r.session.String(),
		"processors", len(r.processors))

	r.sockets = nil
	r.processors = nil
	r.slots = nil
	r.socketOf = nil
	r.byAddress = nil
	r.flags = 0
	r.session = uuid.Nil
	r.epoch++
	r.initialized = false

	return result.ErrorOrNil()
}

// Initialized reports whether Init has succeeded since the last
// Shutdown.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// Session returns the id of the current init session.
func (r *Registry) Session() (uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.initialized {
		return uuid.Nil, smierr.NotInitialized("registry is not initialized")
	}
	return r.session, nil
}

// Resolve returns the processor named by h.
func (r *Registry) Resolve(h ProcessorHandle) (*processor.Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(h)
}

// ResolveSocket returns the socket named by h.
func (r *Registry) ResolveSocket(h SocketHandle) (*processor.Socket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveSocketLocked(h)
}

// checkHandle applies the resolution rules shared by both handle
// kinds: null or foreign is an invalid argument, an uninitialized
// registry is reported as such, and a handle from another session or
// past the end of the arena is not found.
func (r *Registry) checkHandle(registry, epoch uint64, slot uint32, count int, what string) error {
	if registry == 0 {
		return smierr.InvalidArgument("null %s handle", what)
	}
	if registry != r.id {
		return smierr.InvalidArgument("%s handle belongs to another registry", what)
	}
	if !r.initialized {
		return smierr.NotInitialized("registry is not initialized")
	}
	if epoch != r.epoch || int(slot) >= count {
		return smierr.NotFound("%s handle does not name a live %s", what, what)
	}
	return nil
}

func (r *Registry) resolveLocked(h ProcessorHandle) (*processor.Processor, error) {
	if err := r.checkHandle(h.registry, h.epoch, h.slot, len(r.processors), "processor"); err != nil {
		return nil, err
	}
	return r.processors[h.slot], nil
}

func (r *Registry) resolveSocketLocked(h SocketHandle) (*processor.Socket, error) {
	if err := r.checkHandle(h.registry, h.epoch, h.slot, len(r.sockets), "socket"); err != nil {
		return nil, err
	}
	return r.sockets[h.slot], nil
}

func (r *Registry) processorHandle(slot uint32) ProcessorHandle {
	return ProcessorHandle{registry: r.id, epoch: r.epoch, slot: slot}
}

func (r *Registry) socketHandle(slot uint32) SocketHandle {
	return SocketHandle{registry: r.id, epoch: r.epoch, slot: slot}
}

func (r *Registry) handleOf(p *processor.Processor) ProcessorHandle {
	return r.processorHandle(r.slots[p])
}

func (r *Registry) requireInitialized() error {
	if !r.initialized {
		return smierr.NotInitialized("registry is not initialized")
	}
	return nil
}

// Sockets is the two-phase socket enumeration. It copies up to
// len(buffer) handles into buffer and always returns the total number
// of sockets. A nil buffer only counts.
func (r *Registry) Sockets(buffer []SocketHandle) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.requireInitialized(); err != nil {
		return 0, err
	}
	for i := 0; i < len(buffer) && i < len(r.sockets); i++ {
		buffer[i] = r.socketHandle(uint32(i))
	}
	return len(r.sockets), nil
}

// Processors is the two-phase enumeration of the processors owned by
// a socket, in discovery order.
func (r *Registry) Processors(socket SocketHandle, buffer []ProcessorHandle) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.resolveSocketLocked(socket)
	if err != nil {
		return 0, err
	}
	return r.fill(s.Processors(), buffer), nil
}

// ProcessorsByKind is the two-phase enumeration of one kind of
// processor owned by a socket. A kind outside the closed set is an
// invalid argument.
func (r *Registry) ProcessorsByKind(socket SocketHandle, kind processor.Kind, buffer []ProcessorHandle) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.resolveSocketLocked(socket)
	if err != nil {
		return 0, err
	}
	processors, err := s.ProcessorsOf(kind)
	if err != nil {
		return 0, smierr.InvalidArgument("%w", err)
	}
	return r.fill(processors, buffer), nil
}

func (r *Registry) fill(processors []*processor.Processor, buffer []ProcessorHandle) int {
	for i := 0; i < len(buffer) && i < len(processors); i++ {
		buffer[i] = r.handleOf(processors[i])
	}
	return len(processors)
}

// ProcessorCount returns the number of processors of one kind across
// every socket.
func (r *Registry) ProcessorCount(kind processor.Kind) (int, error) {
	if !kind.Valid() {
		return 0, smierr.InvalidArgument("invalid processor kind %d", uint8(kind))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.requireInitialized(); err != nil {
		return 0, err
	}
	count := 0
	for _, p := range r.processors {
		if p.Kind() == kind {
			count++
		}
	}
	return count, nil
}

// ProcessorByBusAddress returns the handle of the processor at a PCI
// address.
func (r *Registry) ProcessorByBusAddress(address processor.BusAddress) (ProcessorHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.requireInitialized(); err != nil {
		return ProcessorHandle{}, err
	}
	slot, ok := r.byAddress[address]
	if !ok {
		return ProcessorHandle{}, smierr.NotFound("no processor at %s", address)
	}
	return r.processorHandle(slot), nil
}

// ProcessorByIdentifier returns the first processor of kind whose
// identifier is identifier. CPU sockets and cores have identifiers;
// PCI-family processors are found by bus address instead.
func (r *Registry) ProcessorByIdentifier(kind processor.Kind, identifier string) (ProcessorHandle, error) {
	var (
		found ProcessorHandle
		ok    bool
	)
	err := r.Walk(kind, func(handle ProcessorHandle, identity processor.Identity) error {
		if !ok && identity.Identifier == identifier {
			found, ok = handle, true
		}
		return nil
	})
	if err != nil {
		return ProcessorHandle{}, err
	}
	if !ok {
		return ProcessorHandle{}, smierr.NotFound("no %s with identifier %q", kind, identifier)
	}
	return found, nil
}

// Identity returns the identity of the processor named by h.
func (r *Registry) Identity(h ProcessorHandle) (processor.Identity, error) {
	p, err := r.Resolve(h)
	if err != nil {
		return processor.Identity{}, err
	}
	return p.Identity(), nil
}

// SocketID returns the identifier of the socket named by h.
func (r *Registry) SocketID(h SocketHandle) (string, error) {
	s, err := r.ResolveSocket(h)
	if err != nil {
		return "", err
	}
	return s.ID(), nil
}

// SocketOf returns the handle of the socket that owns the processor
// named by h.
func (r *Registry) SocketOf(h ProcessorHandle) (SocketHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.resolveLocked(h); err != nil {
		return SocketHandle{}, err
	}
	return r.socketHandle(r.socketOf[h.slot]), nil
}

// SocketRecord is one socket and its processors as captured by
// Inventory.
type SocketRecord struct {
	Handle     SocketHandle      `json:"-" yaml:"-" cbor:"-"`
	ID         string            `json:"socket_id" yaml:"socket_id" cbor:"socket_id"`
	Processors []ProcessorRecord `json:"processors" yaml:"processors" cbor:"processors"`
}

// ProcessorRecord is one processor as captured by Inventory.
type ProcessorRecord struct {
	Handle   ProcessorHandle    `json:"-" yaml:"-" cbor:"-"`
	Backend  string             `json:"backend" yaml:"backend" cbor:"backend"`
	Identity processor.Identity `json:"identity" yaml:"identity" cbor:"identity"`
}

// Inventory returns a snapshot of every socket and processor in
// enumeration order.
func (r *Registry) Inventory() ([]SocketRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inventoryLocked()
}

func (r *Registry) inventoryLocked() ([]SocketRecord, error) {
	if err := r.requireInitialized(); err != nil {
		return nil, err
	}
	records := make([]SocketRecord, 0, len(r.sockets))
	for slot, s := range r.sockets {
		record := SocketRecord{Handle: r.socketHandle(uint32(slot)), ID: s.ID()}
		for _, p := range s.Processors() {
			record.Processors = append(record.Processors, ProcessorRecord{
				Handle:   r.handleOf(p),
				Backend:  p.Driver().Name(),
				Identity: p.Identity(),
			})
		}
		records = append(records, record)
	}
	return records, nil
}

// Walk calls fn for every processor of kind in enumeration order.
// Returning a non-nil error from fn stops the walk and returns that
// error. The registry's read lock is not held while fn runs.
func (r *Registry) Walk(kind processor.Kind, fn func(ProcessorHandle, processor.Identity) error) error {
	records, err := r.Inventory()
	if err != nil {
		return err
	}
	for _, socket := range records {
		for _, record := range socket.Processors {
			if record.Identity.Kind != kind {
				continue
			}
			if err := fn(record.Handle, record.Identity); err != nil {
				return err
			}
		}
	}
	return nil
}
