// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/accelsmi/cmd/accel-smi/cli"
	"github.com/bureau-foundation/accelsmi/lib/processor"
	"github.com/bureau-foundation/accelsmi/lib/registry"
)

func (a *app) listCommand() *cli.Command {
	var kindName string
	return &cli.Command{
		Name:    "list",
		Summary: "List sockets and their processors",
		Description: `List every socket and the processors it owns, in enumeration
order. Index is the processor's ordinal among processors of its kind.`,
		Usage: "accel-smi list [flags]",
		Examples: []cli.Example{
			{Description: "Accelerators only, as JSON", Command: "accel-smi list --kind accelerator --format json"},
		},
		Flags: a.flags("list", func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&kindName, "kind", "", "only list processors of this kind (accelerator, nic, switch, cpu, cpu-core)")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, "accel-smi list [flags]"); err != nil {
				return err
			}
			var filter *processor.Kind
			if kindName != "" {
				kind, err := processor.ParseKind(kindName)
				if err != nil {
					return err
				}
				filter = &kind
			}

			s, err := a.open("list")
			if err != nil {
				return err
			}
			defer s.Close()

			inventory, err := s.registry.Inventory()
			if err != nil {
				return err
			}
			if filter != nil {
				inventory = filterInventory(inventory, *filter)
			}
			return s.emit(inventory, func(w io.Writer) error {
				return writeInventory(w, inventory)
			})
		},
	}
}

// filterInventory keeps processors of kind and drops sockets left
// empty.
func filterInventory(inventory []registry.SocketRecord, kind processor.Kind) []registry.SocketRecord {
	var filtered []registry.SocketRecord
	for _, socket := range inventory {
		var kept []registry.ProcessorRecord
		for _, record := range socket.Processors {
			if record.Identity.Kind == kind {
				kept = append(kept, record)
			}
		}
		if len(kept) > 0 {
			socket.Processors = kept
			filtered = append(filtered, socket)
		}
	}
	return filtered
}

func writeInventory(w io.Writer, inventory []registry.SocketRecord) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOCKET\tKIND\tINDEX\tADDRESS\tBACKEND\tNAME")
	for _, socket := range inventory {
		for _, record := range socket.Processors {
			identity := record.Identity
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
				socket.ID, identity.Kind, identity.Index, identity.Label(), record.Backend, identity.Name)
		}
	}
	return tw.Flush()
}
