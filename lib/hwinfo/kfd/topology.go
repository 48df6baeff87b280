// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kfd

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/smierr"
)

// DefaultRoot is the KFD topology tree on a live system.
const DefaultRoot = "/sys/class/kfd/kfd/topology"

// LinkType is the raw io_link type number the kernel reports.
type LinkType uint32

// Link types the routing logic distinguishes. The kernel defines more
// (HyperTransport, QPI, InfiniBand, ...); they parse but route as
// opaque links.
const (
	LinkUndefined LinkType = 0
	LinkPCIe      LinkType = 2
	LinkXGMI      LinkType = 11
)

func (t LinkType) String() string {
	switch t {
	case LinkUndefined:
		return "undefined"
	case LinkPCIe:
		return "pcie"
	case LinkXGMI:
		return "xgmi"
	}
	return fmt.Sprintf("iolink(%d)", uint32(t))
}

// Link is one directed io_link or p2p_link entry.
type Link struct {
	Type   LinkType
	From   uint32
	To     uint32
	Weight uint64

	// PeerToPeer is true for entries from p2p_links, which the kernel
	// publishes for GPU pairs that can access each other's memory
	// without a direct io_link.
	PeerToPeer bool
}

// Node is one KFD topology node: a CPU or a GPU (or GPU partition).
type Node struct {
	ID uint32

	// GPUID is the kernel's gpu_id. Zero for CPU nodes.
	GPUID uint64

	// Name is the node's ISA or marketing name, empty for CPUs.
	Name string

	properties map[string]uint64
	links      []Link
}

// IsGPU reports whether the node is a GPU.
func (n *Node) IsGPU() bool { return n.GPUID != 0 }

// Property returns a numeric property from the node's properties file.
func (n *Node) Property(key string) (uint64, bool) {
	value, ok := n.properties[key]
	return value, ok
}

// BusAddress decodes the node's domain and location_id. location_id
// packs bus<<8 | device<<3 | function.
func (n *Node) BusAddress() processor.BusAddress {
	domain := n.properties["domain"]
	location := n.properties["location_id"]
	return processor.BusAddressFromID(domain<<32 | location&0xffff)
}

// Links returns the node's outgoing links, io_links before p2p_links,
// each in index order.
func (n *Node) Links() []Link { return n.links }

// Topology is a parsed KFD topology tree.
type Topology struct {
	nodes []*Node
	byID  map[uint32]*Node
}

// Read parses the topology tree rooted at root (normally DefaultRoot).
// A missing tree is smierr.KindNotSupported; a node whose properties
// cannot be parsed is smierr.KindUnexpectedData.
func Read(root string) (*Topology, error) {
	nodesDir := filepath.Join(root, "nodes")
	entries, err := os.ReadDir(nodesDir)
	if err != nil {
		return nil, smierr.FromSyscall(err, "reading KFD topology")
	}

	topology := &Topology{byID: make(map[uint32]*Node)}
	for _, entry := range entries {
		id, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil {
			continue
		}
		node, err := readNode(filepath.Join(nodesDir, entry.Name()), uint32(id))
		if err != nil {
			return nil, err
		}
		topology.nodes = append(topology.nodes, node)
		topology.byID[node.ID] = node
	}
	slices.SortFunc(topology.nodes, func(a, b *Node) int { return int(a.ID) - int(b.ID) })
	return topology, nil
}

func readNode(dir string, id uint32) (*Node, error) {
	properties, err := readProperties(filepath.Join(dir, "properties"))
	if err != nil {
		return nil, err
	}
	node := &Node{ID: id, properties: properties}

	if text, err := os.ReadFile(filepath.Join(dir, "gpu_id")); err == nil {
		gpuID, err := strconv.ParseUint(strings.TrimSpace(string(text)), 10, 64)
		if err != nil {
			return nil, smierr.UnexpectedData("KFD node %d: gpu_id %q", id, strings.TrimSpace(string(text)))
		}
		node.GPUID = gpuID
	}
	if text, err := os.ReadFile(filepath.Join(dir, "name")); err == nil {
		node.Name = strings.TrimSpace(string(text))
	}

	for _, directory := range []string{"io_links", "p2p_links"} {
		links, err := readLinks(filepath.Join(dir, directory), directory == "p2p_links")
		if err != nil {
			return nil, fmt.Errorf("KFD node %d: %w", id, err)
		}
		node.links = append(node.links, links...)
	}
	return node, nil
}

func readLinks(dir string, peerToPeer bool) ([]Link, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, smierr.FromSyscall(err, "reading %s", dir)
	}

	type indexed struct {
		index int
		link  Link
	}
	var links []indexed
	for _, entry := range entries {
		index, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		properties, err := readProperties(filepath.Join(dir, entry.Name(), "properties"))
		if err != nil {
			return nil, err
		}
		links = append(links, indexed{index: index, link: Link{
			Type:       LinkType(properties["type"]),
			From:       uint32(properties["node_from"]),
			To:         uint32(properties["node_to"]),
			Weight:     properties["weight"],
			PeerToPeer: peerToPeer,
		}})
	}
	slices.SortFunc(links, func(a, b indexed) int { return a.index - b.index })

	result := make([]Link, len(links))
	for i, entry := range links {
		result[i] = entry.link
	}
	return result, nil
}

// readProperties parses a KFD properties file of "key value" lines.
func readProperties(path string) (map[string]uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, smierr.FromSyscall(err, "reading %s", path)
	}
	defer file.Close()

	properties := make(map[string]uint64)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, smierr.UnexpectedData("%s: malformed line %q", path, scanner.Text())
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, smierr.UnexpectedData("%s: %s: %q is not an integer", path, fields[0], fields[1])
		}
		properties[fields[0]] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, smierr.FromSyscall(err, "reading %s", path)
	}
	return properties, nil
}

// Nodes returns every node in ID order.
func (t *Topology) Nodes() []*Node { return t.nodes }

// Node returns the node with the given ID.
func (t *Topology) Node(id uint32) (*Node, bool) {
	node, ok := t.byID[id]
	return node, ok
}

// GPUNodes returns the GPU nodes at address, in ID order. A device in
// a multi-partition compute mode has one node per partition.
func (t *Topology) GPUNodes(address processor.BusAddress) []*Node {
	var matches []*Node
	for _, node := range t.nodes {
		if node.IsGPU() && node.BusAddress() == address {
			matches = append(matches, node)
		}
	}
	return matches
}

// Direct returns the first link from one node to another. io_links
// are preferred over p2p_links.
func (t *Topology) Direct(from, to uint32) (Link, bool) {
	node, ok := t.byID[from]
	if !ok {
		return Link{}, false
	}
	for _, link := range node.links {
		if link.To == to {
			return link, true
		}
	}
	return Link{}, false
}

// Route is the path between two nodes.
type Route struct {
	Type   LinkType
	Hops   uint64
	Weight uint64
}

// Route finds the path from one node to another. A direct link is one
// hop of its own type. Otherwise the path runs from the source GPU over
// PCIe to its CPU, optionally across one CPU-to-CPU link, and down to
// the target GPU's CPU: two or three hops, reported as PCIe. The weight
// is the sum of the link weights along the path.
func (t *Topology) Route(from, to uint32) (Route, error) {
	if _, ok := t.byID[from]; !ok {
		return Route{}, smierr.NotFound("KFD node %d does not exist", from)
	}
	if _, ok := t.byID[to]; !ok {
		return Route{}, smierr.NotFound("KFD node %d does not exist", to)
	}
	if link, ok := t.Direct(from, to); ok {
		return Route{Type: link.Type, Hops: 1, Weight: link.Weight}, nil
	}

	up, ok := t.cpuUplink(from)
	if !ok {
		return Route{}, smierr.NotFound("KFD node %d has no CPU uplink", from)
	}
	down, ok := t.cpuUplink(to)
	if !ok {
		return Route{}, smierr.NotFound("KFD node %d has no CPU uplink", to)
	}

	if up.To == down.To {
		return Route{Type: LinkPCIe, Hops: 2, Weight: up.Weight + down.Weight}, nil
	}
	across, ok := t.Direct(up.To, down.To)
	if !ok {
		return Route{}, smierr.NotFound("no route from KFD node %d to %d", from, to)
	}
	return Route{Type: LinkPCIe, Hops: 3, Weight: up.Weight + across.Weight + down.Weight}, nil
}

// cpuUplink returns the first io_link from a node to a CPU node.
func (t *Topology) cpuUplink(from uint32) (Link, bool) {
	node := t.byID[from]
	for _, link := range node.links {
		if link.PeerToPeer {
			continue
		}
		if target, ok := t.byID[link.To]; ok && !target.IsGPU() {
			return link, true
		}
	}
	return Link{}, false
}
