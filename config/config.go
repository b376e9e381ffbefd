// Package config loads the runtime's YAML configuration: the system
// and cluster sections (partition settings live in the cluster
// section), mapped onto the corresponding
// packages' Config structs; each package applies its own defaults where
// the file is silent.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kestrelactor/kestrel/cluster"
	"github.com/kestrelactor/kestrel/dispatcher"
	"github.com/kestrelactor/kestrel/partition"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "800ms" or "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// File is the full on-disk configuration shape.
type File struct {
	System  SystemSection  `yaml:"system"`
	Cluster ClusterSection `yaml:"cluster"`
}

// SystemSection configures the system facade and its dispatchers.
type SystemSection struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Dispatchers map[string]DispatcherSection `yaml:"dispatchers"`

	DeadLetterTimeout Duration `yaml:"deadletter_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

// DispatcherSection configures one named dispatcher.
type DispatcherSection struct {
	Workers         int      `yaml:"workers"`
	Strategy        string   `yaml:"strategy"` // round_robin | least_busy | random
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ClusterSection configures membership, gossip and partitioning.
type ClusterSection struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	SeedNodes []string `yaml:"seed_nodes"`
	Discovery string   `yaml:"discovery"` // static | multicast | external

	PartitionCount int `yaml:"partition_count"`
	MinReplicas    int `yaml:"min_replicas"`
	MaxReplicas    int `yaml:"max_replicas"`

	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	SuspectTimeout    Duration `yaml:"suspect_timeout"`
	DeadTimeout       Duration `yaml:"dead_timeout"`
	GossipInterval    Duration `yaml:"gossip_interval"`
	GossipFanout      int      `yaml:"gossip_fanout"`

	RebalanceInterval  Duration `yaml:"rebalance_interval"`
	RebalanceThreshold float64  `yaml:"rebalance_threshold"`
}

// Load reads and parses path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a File. Unknown fields are rejected so
// a typo in a key fails loudly instead of silently falling back to a
// default.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("config: parse: %w", err)
	}
	return f, nil
}

// ClusterConfig maps the cluster section onto cluster.Config.
func (f File) ClusterConfig() cluster.Config {
	c := f.Cluster
	return cluster.Config{
		Name:              c.Name,
		Host:              c.Host,
		Port:              c.Port,
		SeedNodes:         c.SeedNodes,
		Discovery:         discoveryKind(c.Discovery),
		HeartbeatInterval: c.HeartbeatInterval.Std(),
		SuspectTimeout:    c.SuspectTimeout.Std(),
		DeadTimeout:       c.DeadTimeout.Std(),
		GossipInterval:    c.GossipInterval.Std(),
		GossipFanout:      c.GossipFanout,
	}
}

// PartitionConfig maps the cluster section's placement fields onto
// partition.Config.
func (f File) PartitionConfig() partition.Config {
	c := f.Cluster
	return partition.Config{
		PartitionCount:     c.PartitionCount,
		MinReplicas:        c.MinReplicas,
		MaxReplicas:        c.MaxReplicas,
		RebalanceInterval:  c.RebalanceInterval.Std(),
		RebalanceThreshold: c.RebalanceThreshold,
	}
}

// DispatcherConfigs maps the dispatcher sections onto dispatcher.Config
// values keyed by dispatcher id.
func (f File) DispatcherConfigs() map[string]dispatcher.Config {
	out := make(map[string]dispatcher.Config, len(f.System.Dispatchers))
	for id, d := range f.System.Dispatchers {
		out[id] = dispatcher.Config{
			Workers:         d.Workers,
			Strategy:        dispatcherStrategy(d.Strategy),
			ShutdownTimeout: d.ShutdownTimeout.Std(),
		}
	}
	return out
}

func discoveryKind(s string) cluster.DiscoveryKind {
	switch s {
	case "multicast":
		return cluster.Multicast
	case "external":
		return cluster.External
	default:
		return cluster.Static
	}
}

func dispatcherStrategy(s string) dispatcher.Strategy {
	switch s {
	case "least_busy":
		return dispatcher.LeastBusy
	case "random":
		return dispatcher.Random
	default:
		return dispatcher.RoundRobin
	}
}
