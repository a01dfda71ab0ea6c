package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/godec/internal/loopback"
	"github.com/user/godec/internal/record"
	"github.com/user/godec/pkg/message"
)

func init() {
	rootCmd.AddCommand(describeCmd, tailCmd)
	tailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 10, "number of batches to show (0 for all)")
}

var describeCmd = &cobra.Command{
	Use:   "describe <topology>",
	Short: "Show the routes, outputs and ops of a topology",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, err := loopback.LoadTopology(args[0])
		if err != nil {
			return err
		}
		describeTopology(cmd.OutOrStdout(), topo, loopback.NewRegistry())
		return nil
	},
}

func describeTopology(w io.Writer, topo *loopback.Topology, reg *loopback.Registry) {
	fmt.Fprintln(w, "Routes:")
	for _, r := range topo.Routes {
		op := r.Op
		if op == "" {
			op = "passthrough"
		}
		fmt.Fprintf(w, "  %s: %s -> %s (%s)\n", r.Name, r.Input, r.Stream, op)
		keys := make([]string, 0, len(r.Params))
		for k := range r.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %s.%s = %v\n", r.Name, k, r.Params[k])
		}
	}

	fmt.Fprintln(w, "Outputs:")
	names := make([]string, 0, len(topo.Outputs))
	for n := range topo.Outputs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %s: %s\n", n, strings.Join(topo.Outputs[n], ", "))
	}

	fmt.Fprintf(w, "Ops: %s\n", strings.Join(reg.Names(), ", "))
	types := make([]string, 0, len(message.Types()))
	for _, t := range message.Types() {
		types = append(types, string(t))
	}
	fmt.Fprintf(w, "Message types: %s\n", strings.Join(types, ", "))
}

var tailLimit int

var tailCmd = &cobra.Command{
	Use:   "tail <record.jsonl>",
	Short: "Print the last recorded batches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := record.Tail(args[0], tailLimit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, e := range entries {
			b, err := e.Batch()
			if err != nil {
				return fmt.Errorf("entry %d: %w", e.Seq, err)
			}
			fmt.Fprintf(w, "#%d %s %s\n", e.Seq, e.At.Format("15:04:05.000"), e.Endpoint)
			streams := make([]string, 0, len(b))
			for s := range b {
				streams = append(streams, s)
			}
			sort.Strings(streams)
			for _, s := range streams {
				fmt.Fprintf(w, "  %s: %s\n", s, b[s].Describe())
			}
		}
		return nil
	},
}
