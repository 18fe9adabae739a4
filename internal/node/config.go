package node

import (
	"fmt"
	"time"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/router"
	"github.com/cuemby/dismerge/internal/sync"
)

// ClusterState selects whether a node forms a new cluster or joins one
// already described by InitialCluster (§6.3's initial_cluster_state).
type ClusterState string

const (
	ClusterStateNew      ClusterState = "new"
	ClusterStateExisting ClusterState = "existing"
)

// PersisterKind selects the storage backend (§6.3's persister flag). The
// names mirror the original implementation's choices; sled has no Go
// binding, so it maps to the embedded bbolt backend instead.
type PersisterKind string

const (
	PersisterSled   PersisterKind = "sled"
	PersisterFS     PersisterKind = "fs"
	PersisterMemory PersisterKind = "memory"
)

// Config gathers every per-node option from §6.3 plus the tuning knobs
// the lower layers expose, so a single value fully determines a node's
// behavior.
type Config struct {
	Name string

	DataDir string

	ListenClientURLs     []string
	AdvertiseClientURLs  []string
	ListenPeerURLs       []string
	InitialAdvertisePeer string
	ListenMetricsURLs    []string

	InitialCluster      []Peer
	InitialClusterState ClusterState

	Persister PersisterKind

	FlushInterval    time.Duration
	SyncInterval     time.Duration
	ConcurrencyLimit int64
	Timeout          time.Duration
}

// Peer is one entry of a static initial_cluster list ("name=url").
type Peer struct {
	Name string
	URL  string
}

func (c Config) withDefaults() Config {
	if c.Persister == "" {
		c.Persister = PersisterMemory
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Millisecond
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 200 * time.Millisecond
	}
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = 10000
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

func (c Config) actorConfig() actor.Config {
	return actor.Config{
		FlushInterval:  c.FlushInterval,
		MaxOutstanding: 0,
		AutoFlush:      true,
		AutoSync:       true,
	}
}

func (c Config) syncConfig() sync.Config {
	return sync.Config{SyncInterval: c.SyncInterval}
}

func (c Config) routerConfig() router.Config {
	return router.Config{ConcurrencyLimit: c.ConcurrencyLimit, Timeout: c.Timeout}
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.DataDir == "" && c.Persister != PersisterMemory {
		return fmt.Errorf("data_dir is required for persister %q", c.Persister)
	}
	if c.InitialClusterState == ClusterStateExisting && len(c.InitialCluster) == 0 {
		return fmt.Errorf("initial_cluster must be non-empty when initial_cluster_state=existing")
	}
	return nil
}
