package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrelactor/kestrel/cluster"
	"github.com/kestrelactor/kestrel/config"
	"github.com/kestrelactor/kestrel/logging"
	"github.com/kestrelactor/kestrel/metrics"
	"github.com/kestrelactor/kestrel/partition"
	"github.com/kestrelactor/kestrel/system"

	"github.com/prometheus/client_golang/prometheus"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot a node from a YAML configuration file",
	RunE:  runNode,
}

func init() {
	runCmd.Flags().StringP("file", "f", "", "YAML configuration file (required)")
	runCmd.Flags().Bool("dev", false, "console-friendly debug logging")
	_ = runCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(runCmd)
}

// errNoGossipWire is returned by the placeholder transporter: gossip
// needs a deployment-supplied wire, so a bare `kestrel run` node only
// ever clusters with itself.
var errNoGossipWire = errors.New("kestrel: no gossip transport configured")

type noGossipTransporter struct{}

func (noGossipTransporter) Exchange(string, cluster.Snapshot) (cluster.Snapshot, error) {
	return cluster.Snapshot{}, errNoGossipWire
}

func runNode(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	dev, _ := cmd.Flags().GetBool("dev")

	f, err := config.Load(path)
	if err != nil {
		return err
	}

	log, err := buildLogger(dev)
	if err != nil {
		return err
	}

	sys := system.New(system.Config{
		Host:            f.System.Host,
		Port:            f.System.Port,
		Dispatchers:     f.DispatcherConfigs(),
		ShutdownTimeout: f.System.ShutdownTimeout.Std(),
		Logger:          log,
		Metrics:         metrics.NewPrometheus(prometheus.DefaultRegisterer),
	})

	selfID := fmt.Sprintf("%s:%d", f.Cluster.Host, f.Cluster.Port)
	clusterCfg := f.ClusterConfig()
	cl := cluster.New(clusterCfg, selfID, cluster.NewStaticDiscovery(clusterCfg.SeedNodes), noGossipTransporter{}, log)

	mgr := partition.NewManager(f.PartitionConfig(), selfID, nil, nil, log)
	mgr.SetMembers(cl.Roster().Snapshot().Members)
	cl.SetPartitionView(mgr.View)

	reb := partition.NewRebalancer(f.PartitionConfig(), mgr, unreachableCourier{}, log)
	cl.OnMembershipChange(func([]cluster.Member) {
		mgr.SetMembers(cl.Roster().Snapshot().Members)
		reb.MembershipChanged()
	})

	cl.Start()
	reb.Start()
	log.Infow("kestrel: node up", "host", f.System.Host, "port", f.System.Port, "cluster", f.Cluster.Name)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Infow("kestrel: shutting down")
	reb.Shutdown()
	cl.Shutdown()
	return sys.Shutdown(context.Background())
}

// unreachableCourier fails every migration send; with no remote
// transport wired there is no one to migrate to anyway, and the
// rebalancer treats the failure as an aborted pass.
type unreachableCourier struct{}

func (unreachableCourier) SendToMember(string, any) error { return errNoGossipWire }
func (unreachableCourier) Broadcast(any) error            { return errNoGossipWire }

func buildLogger(dev bool) (logging.Logger, error) {
	if dev {
		return logging.NewDevelopment()
	}
	return logging.NewProduction()
}
