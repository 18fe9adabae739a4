package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/dismerge/internal/node"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors §6.3's command-line surface for YAML loading via
// --config; every field has a matching flag, and a flag the user set
// explicitly always wins over the file (see buildNodeConfig).
type fileConfig struct {
	Name                      string   `yaml:"name"`
	DataDir                   string   `yaml:"data_dir"`
	ListenClientURLs          []string `yaml:"listen_client_urls"`
	AdvertiseClientURLs       []string `yaml:"advertise_client_urls"`
	ListenPeerURLs            []string `yaml:"listen_peer_urls"`
	InitialAdvertisePeerURLs  string   `yaml:"initial_advertise_peer_urls"`
	ListenMetricsURLs         []string `yaml:"listen_metrics_urls"`
	InitialCluster            string   `yaml:"initial_cluster"`
	InitialClusterState       string   `yaml:"initial_cluster_state"`
	CertFile                  string   `yaml:"cert_file"`
	KeyFile                   string   `yaml:"key_file"`
	TrustedCAFile             string   `yaml:"trusted_ca_file"`
	PeerCertFile              string   `yaml:"peer_cert_file"`
	PeerKeyFile               string   `yaml:"peer_key_file"`
	PeerTrustedCAFile         string   `yaml:"peer_trusted_ca_file"`
	FlushIntervalMS           int      `yaml:"flush_interval_ms"`
	SyncIntervalMS            int      `yaml:"sync_interval_ms"`
	ConcurrencyLimit          int64    `yaml:"concurrency_limit"`
	TimeoutMS                 int      `yaml:"timeout_ms"`
	Persister                 string   `yaml:"persister"`
}

func registerServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("name", "", "human-readable member name")
	f.String("data_dir", "", "path for the persister")
	f.StringSlice("listen_client_urls", nil, "gRPC client listeners")
	f.StringSlice("advertise_client_urls", nil, "client URLs advertised to the cluster")
	f.StringSlice("listen_peer_urls", nil, "peer sync listeners")
	f.String("initial_advertise_peer_urls", "", "peer URL advertised to the cluster")
	f.StringSlice("listen_metrics_urls", nil, "health/metrics listeners")
	f.String("initial_cluster", "", "static peer list, name=url,name=url,...")
	f.String("initial_cluster_state", "new", "new or existing")
	f.String("cert_file", "", "client-facing TLS certificate")
	f.String("key_file", "", "client-facing TLS key")
	f.String("trusted_ca_file", "", "client-facing TLS trusted CA bundle")
	f.String("peer_cert_file", "", "peer-facing TLS certificate")
	f.String("peer_key_file", "", "peer-facing TLS key")
	f.String("peer_trusted_ca_file", "", "peer-facing TLS trusted CA bundle")
	f.Int("flush_interval_ms", 10, "flush loop period")
	f.Int("sync_interval_ms", 200, "sync loop period")
	f.Int64("concurrency_limit", 10000, "in-flight request cap")
	f.Int("timeout_ms", 10000, "per-request deadline")
	f.String("persister", "memory", "sled, fs or memory")
}

// loadFileConfig reads --config, if set. A missing flag value is not an
// error: the file is optional.
func loadFileConfig(cmd *cobra.Command) (fileConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return fileConfig{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

// buildNodeConfig merges fc (loaded from --config, if set) with
// explicitly-set flags, flags taking precedence, and converts the
// result to node.Config.
func buildNodeConfig(cmd *cobra.Command, fc fileConfig) (node.Config, error) {
	f := cmd.Flags()
	str := func(name string, fallback string) string {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			return v
		}
		if fallback != "" {
			return fallback
		}
		v, _ := f.GetString(name)
		return v
	}
	strSlice := func(name string, fallback []string) []string {
		if f.Changed(name) {
			v, _ := f.GetStringSlice(name)
			return v
		}
		if len(fallback) > 0 {
			return fallback
		}
		v, _ := f.GetStringSlice(name)
		return v
	}
	intVal := func(name string, fallback int) int {
		if f.Changed(name) {
			v, _ := f.GetInt(name)
			return v
		}
		if fallback != 0 {
			return fallback
		}
		v, _ := f.GetInt(name)
		return v
	}
	int64Val := func(name string, fallback int64) int64 {
		if f.Changed(name) {
			v, _ := f.GetInt64(name)
			return v
		}
		if fallback != 0 {
			return fallback
		}
		v, _ := f.GetInt64(name)
		return v
	}

	cfg := node.Config{
		Name:                 str("name", fc.Name),
		DataDir:              str("data_dir", fc.DataDir),
		ListenClientURLs:     strSlice("listen_client_urls", fc.ListenClientURLs),
		AdvertiseClientURLs:  strSlice("advertise_client_urls", fc.AdvertiseClientURLs),
		ListenPeerURLs:       strSlice("listen_peer_urls", fc.ListenPeerURLs),
		InitialAdvertisePeer: str("initial_advertise_peer_urls", fc.InitialAdvertisePeerURLs),
		ListenMetricsURLs:    strSlice("listen_metrics_urls", fc.ListenMetricsURLs),
		InitialClusterState:  node.ClusterState(str("initial_cluster_state", fc.InitialClusterState)),
		Persister:            node.PersisterKind(str("persister", fc.Persister)),
		FlushInterval:        time.Duration(intVal("flush_interval_ms", fc.FlushIntervalMS)) * time.Millisecond,
		SyncInterval:         time.Duration(intVal("sync_interval_ms", fc.SyncIntervalMS)) * time.Millisecond,
		ConcurrencyLimit:     int64Val("concurrency_limit", fc.ConcurrencyLimit),
		Timeout:              time.Duration(intVal("timeout_ms", fc.TimeoutMS)) * time.Millisecond,
	}

	clusterStr := str("initial_cluster", fc.InitialCluster)
	peers, err := parseInitialCluster(clusterStr)
	if err != nil {
		return node.Config{}, err
	}
	cfg.InitialCluster = peers

	return cfg, nil
}

// parseInitialCluster parses "name=url,name=url,..." per §6.3.
func parseInitialCluster(s string) ([]node.Peer, error) {
	if s == "" {
		return nil, nil
	}
	entries := strings.Split(s, ",")
	peers := make([]node.Peer, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed initial_cluster entry %q, want name=url", e)
		}
		peers = append(peers, node.Peer{Name: parts[0], URL: parts[1]})
	}
	return peers, nil
}

type tlsFiles struct {
	certFile, keyFile, caFile string
}

func clientTLSFiles(cmd *cobra.Command, fc fileConfig) tlsFiles {
	f := cmd.Flags()
	str := func(name, fallback string) string {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			return v
		}
		if fallback != "" {
			return fallback
		}
		v, _ := f.GetString(name)
		return v
	}
	return tlsFiles{
		certFile: str("cert_file", fc.CertFile),
		keyFile:  str("key_file", fc.KeyFile),
		caFile:   str("trusted_ca_file", fc.TrustedCAFile),
	}
}

func peerTLSFiles(cmd *cobra.Command, fc fileConfig) tlsFiles {
	f := cmd.Flags()
	str := func(name, fallback string) string {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			return v
		}
		if fallback != "" {
			return fallback
		}
		v, _ := f.GetString(name)
		return v
	}
	return tlsFiles{
		certFile: str("peer_cert_file", fc.PeerCertFile),
		keyFile:  str("peer_key_file", fc.PeerKeyFile),
		caFile:   str("peer_trusted_ca_file", fc.PeerTrustedCAFile),
	}
}
