package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrelactor/kestrel/cluster"
	"github.com/kestrelactor/kestrel/config"
	"github.com/kestrelactor/kestrel/partition"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the partition placement a configuration would produce",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringP("file", "f", "", "YAML configuration file (required)")
	inspectCmd.Flags().StringSlice("members", nil, "member addresses to place over (default: self plus seed_nodes)")
	inspectCmd.Flags().StringSlice("keys", nil, "logical keys to resolve against the placement")
	_ = inspectCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	memberAddrs, _ := cmd.Flags().GetStringSlice("members")
	keys, _ := cmd.Flags().GetStringSlice("keys")

	f, err := config.Load(path)
	if err != nil {
		return err
	}

	if len(memberAddrs) == 0 {
		memberAddrs = append([]string{fmt.Sprintf("%s:%d", f.Cluster.Host, f.Cluster.Port)}, f.Cluster.SeedNodes...)
	}
	mems := make([]cluster.Member, len(memberAddrs))
	for i, addr := range memberAddrs {
		mems[i] = cluster.Member{ID: addr, Address: addr, Status: cluster.Alive}
	}

	ring := partition.Build(f.PartitionConfig(), mems)

	out := cmd.OutOrStdout()
	counts := make(map[string]int)
	for i := 0; i < ring.PartitionCount(); i++ {
		p, err := ring.PlacementOf(i)
		if err != nil {
			return err
		}
		counts[p.Owner]++
		fmt.Fprintf(out, "partition %3d  owner %-24s replicas [%s]\n", i, p.Owner, strings.Join(p.Replicas, ", "))
	}

	fmt.Fprintln(out)
	for _, m := range mems {
		fmt.Fprintf(out, "member %-24s owns %d/%d partitions\n", m.ID, counts[m.ID], ring.PartitionCount())
	}

	for _, key := range keys {
		idx := ring.PartitionFor(key)
		p, err := ring.PlacementOf(idx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "key %-24q -> partition %d -> %s\n", key, idx, p.Owner)
	}
	return nil
}
