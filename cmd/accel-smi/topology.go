// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/accelsmi/cmd/accel-smi/cli"
	"github.com/bureau-foundation/accelsmi/lib/registry"
	"github.com/bureau-foundation/accelsmi/lib/topology"
)

func (a *app) topologyCommand() *cli.Command {
	var (
		linkName string
		peerText string
	)
	return &cli.Command{
		Name:    "topology",
		Summary: "Rank peers by interconnect distance",
		Description: `List the processors joined to a source processor by a link of one
class, nearest first: fewest hops, then highest link weight. Peers
the source cannot reach for peer access are left out.

With --peer, report the raw link between two processors instead,
whatever its class or accessibility.`,
		Usage: "accel-smi topology <bus-address> [flags]",
		Examples: []cli.Example{
			{Description: "Nearest peers over xGMI", Command: "accel-smi topology 0000:05:00.0"},
			{Description: "Peers reachable over PCIe", Command: "accel-smi topology 0000:05:00.0 --link pcie"},
			{Description: "The link between two accelerators", Command: "accel-smi topology 0000:05:00.0 --peer 0000:85:00.0"},
		},
		Flags: a.flags("topology", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&linkName, "link", topology.LinkXGMI.String(),
				"link class: internal, xgmi, pcie, not_applicable, or unknown")
			flagSet.StringVar(&peerText, "peer", "", "report the link to this processor instead of ranking")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 1, "accel-smi topology <bus-address> [flags]"); err != nil {
				return err
			}
			linkType, err := topology.ParseLinkType(linkName)
			if err != nil {
				return err
			}

			s, err := a.open("topology")
			if err != nil {
				return err
			}
			defer s.Close()

			source, err := s.lookup(args[0])
			if err != nil {
				return err
			}
			sourceIdentity, err := s.registry.Identity(source)
			if err != nil {
				return err
			}

			if peerText != "" {
				target, err := s.lookup(peerText)
				if err != nil {
					return err
				}
				link, err := s.registry.LinkBetween(source, target)
				if err != nil {
					return err
				}
				return s.emit(link, func(w io.Writer) error {
					accessibility := "accessible"
					if !link.Accessible {
						accessibility = "not accessible"
					}
					_, err := fmt.Fprintf(w, "%s -> %s: %s, %d hops, weight %d, %s\n",
						sourceIdentity.Label(), link.Identity.Label(), link.LinkType, link.Hops, link.Weight, accessibility)
					return err
				})
			}

			peers, err := s.registry.NearestPeers(source, linkType)
			if err != nil {
				return err
			}
			return s.emit(peers, func(w io.Writer) error {
				return writePeers(w, sourceIdentity.Label(), linkType, peers)
			})
		},
	}
}

func writePeers(w io.Writer, source string, linkType topology.LinkType, peers registry.Peers) error {
	fmt.Fprintf(w, "%s: %d peers over %s\n", source, peers.Count, linkType)
	if len(peers.Peers) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tKIND\tHOPS\tWEIGHT")
	for _, peer := range peers.Peers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", peer.Identity.Label(), peer.Identity.Kind, peer.Hops, peer.Weight)
	}
	return tw.Flush()
}
