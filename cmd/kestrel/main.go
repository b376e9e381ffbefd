// kestrel is the runtime's operational CLI: `run` boots a node from a
// YAML configuration file, `inspect` prints the placement table a
// configuration would produce.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Distributed actor runtime node",
	Long: `kestrel runs and inspects actor runtime nodes.

Examples:
  # Boot a node from a config file
  kestrel run -f node.yaml

  # Show the partition placement a config would produce
  kestrel inspect -f node.yaml --members n1:7200,n2:7200,n3:7200`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
